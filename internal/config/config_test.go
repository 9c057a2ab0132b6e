package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresTokenSecret(t *testing.T) {
	t.Setenv("SWAPMEET_TOKEN_SECRET", "")
	t.Setenv("SWAPMEET_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected an error when token.secret is unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SWAPMEET_TOKEN_SECRET", "test-secret")
	t.Setenv("SWAPMEET_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected default http addr :8080, got %s", cfg.HTTP.Addr)
	}
	if cfg.Token.TTL != 10*time.Minute {
		t.Errorf("expected default token ttl 10m, got %s", cfg.Token.TTL)
	}
	if cfg.Handoff.MaxDwell != 30*time.Minute {
		t.Errorf("expected default max dwell 30m, got %s", cfg.Handoff.MaxDwell)
	}
	if cfg.Claim.MaxRadiusMeters != 5000 {
		t.Errorf("expected default claim radius 5000, got %f", cfg.Claim.MaxRadiusMeters)
	}
	if cfg.Push.Buffer != 256 {
		t.Errorf("expected default push buffer 256, got %d", cfg.Push.Buffer)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SWAPMEET_TOKEN_SECRET", "test-secret")
	t.Setenv("SWAPMEET_HTTP_ADDR", ":9999")
	t.Setenv("SWAPMEET_TOKEN_TTL", "30s")
	t.Setenv("SWAPMEET_SYNC_MAX_BACKOFF", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("expected http addr :9999, got %s", cfg.HTTP.Addr)
	}
	if cfg.Token.TTL != 30*time.Second {
		t.Errorf("expected token ttl 30s, got %s", cfg.Token.TTL)
	}
	if cfg.Sync.MaxBackoff != 5*time.Second {
		t.Errorf("expected max backoff 5s, got %s", cfg.Sync.MaxBackoff)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapmeet.toml")
	body := `
[http]
addr = ":7070"

[token]
secret = "file-secret"
ttl = "2m"

[claim]
max_radius_meters = 1200.0
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SWAPMEET_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Addr != ":7070" {
		t.Errorf("expected http addr :7070, got %s", cfg.HTTP.Addr)
	}
	if cfg.Token.Secret != "file-secret" {
		t.Errorf("expected secret from file, got %q", cfg.Token.Secret)
	}
	if cfg.Token.TTL != 2*time.Minute {
		t.Errorf("expected token ttl 2m, got %s", cfg.Token.TTL)
	}
	if cfg.Claim.MaxRadiusMeters != 1200 {
		t.Errorf("expected claim radius 1200, got %f", cfg.Claim.MaxRadiusMeters)
	}
	// untouched keys keep their defaults
	if cfg.Handoff.Retention != 24*time.Hour {
		t.Errorf("expected default retention 24h, got %s", cfg.Handoff.Retention)
	}
}
