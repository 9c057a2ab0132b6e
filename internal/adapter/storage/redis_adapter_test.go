package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

func getRedisAdapter(t *testing.T) *RedisAdapter {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisAdapter(client)
}

func TestMarkTokenUsed_OnceOnly(t *testing.T) {
	adapter := getRedisAdapter(t)
	ctx := context.Background()
	token := uuid.NewString()

	first, err := adapter.MarkTokenUsed(ctx, token, time.Minute)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !first {
		t.Fatal("first consume should succeed")
	}

	second, err := adapter.MarkTokenUsed(ctx, token, time.Minute)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if second {
		t.Error("second consume should report the token as already used")
	}
}

func TestMarkTokenUsed_IndependentTokens(t *testing.T) {
	adapter := getRedisAdapter(t)
	ctx := context.Background()

	a, _ := adapter.MarkTokenUsed(ctx, uuid.NewString(), time.Minute)
	b, _ := adapter.MarkTokenUsed(ctx, uuid.NewString(), time.Minute)
	if !a || !b {
		t.Error("distinct tokens must consume independently")
	}
}

func TestLocationRoundtrip(t *testing.T) {
	adapter := getRedisAdapter(t)
	ctx := context.Background()

	loc := domain.UserLocation{
		UserID:     uuid.NewString(),
		Coord:      domain.Coordinate{Lat: 49.2827, Lng: -123.1207},
		ObservedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := adapter.StoreLocation(ctx, loc); err != nil {
		t.Fatalf("store location: %v", err)
	}

	got, err := adapter.LatestLocation(ctx, loc.UserID)
	if err != nil {
		t.Fatalf("latest location: %v", err)
	}
	if got == nil {
		t.Fatal("expected stored location, got nil")
	}
	if got.Coord != loc.Coord {
		t.Errorf("coordinate mismatch: got %+v want %+v", got.Coord, loc.Coord)
	}
}

func TestLatestLocation_Missing(t *testing.T) {
	adapter := getRedisAdapter(t)

	got, err := adapter.LatestLocation(context.Background(), "nobody-"+uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown user, got %+v", got)
	}
}
