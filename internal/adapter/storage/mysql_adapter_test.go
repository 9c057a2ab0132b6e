package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	t.Helper()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/swapmeet?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return adapter, db
}

func insertMutation(l domain.Listing, expected int64) domain.PendingMutation {
	payload, _ := json.Marshal(l)
	return domain.PendingMutation{
		ID:              uuid.NewString(),
		EntityID:        l.ID,
		Kind:            domain.MutationPutListing,
		Payload:         payload,
		ExpectedVersion: expected,
		CreatedAt:       time.Now(),
	}
}

func TestApply_InsertThenGet(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	l := domain.Listing{
		ID:      uuid.NewString(),
		OwnerID: "owner-1",
		Status:  domain.ListingAvailable,
		Coord:   domain.Coordinate{Lat: 49.2827, Lng: -123.1207},
	}
	if err := adapter.Apply(ctx, insertMutation(l, domain.InsertVersion)); err != nil {
		t.Fatalf("apply insert: %v", err)
	}

	got, err := adapter.GetListing(ctx, l.ID)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got == nil || got.OwnerID != "owner-1" {
		t.Fatalf("unexpected listing: %+v", got)
	}
}

func TestApply_DuplicateInsertConflicts(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	l := domain.Listing{ID: uuid.NewString(), Status: domain.ListingAvailable}
	if err := adapter.Apply(ctx, insertMutation(l, domain.InsertVersion)); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := adapter.Apply(ctx, insertMutation(l, domain.InsertVersion))
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}
}

func TestApply_CompareAndSet(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()
	ctx := context.Background()

	l := domain.Listing{ID: uuid.NewString(), Status: domain.ListingAvailable}
	if err := adapter.Apply(ctx, insertMutation(l, domain.InsertVersion)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// update expecting version 0 succeeds
	l.Status = domain.ListingClaimed
	l.Version = 1
	if err := adapter.Apply(ctx, insertMutation(l, 0)); err != nil {
		t.Fatalf("cas update: %v", err)
	}

	// stale update expecting version 0 again conflicts
	err := adapter.Apply(ctx, insertMutation(l, 0))
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict on stale version, got: %v", err)
	}

	got, _ := adapter.GetListing(ctx, l.ID)
	if got.Status != domain.ListingClaimed {
		t.Errorf("expected claimed, got %s", got.Status)
	}
}

func TestApply_InvalidJSONIsPermanent(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	m := domain.PendingMutation{
		ID:              uuid.NewString(),
		EntityID:        uuid.NewString(),
		Kind:            domain.MutationPutListing,
		Payload:         []byte("{not json"),
		ExpectedVersion: domain.InsertVersion,
	}
	err := adapter.Apply(context.Background(), m)
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got: %v", err)
	}
}

func TestGetListing_Missing(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	defer db.Close()

	got, err := adapter.GetListing(context.Background(), "no-such-doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing document, got %+v", got)
	}
}
