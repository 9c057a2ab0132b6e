package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	HTTP    HTTPConfig
	MySQL   MySQLConfig
	Redis   RedisConfig
	SQLite  SQLiteConfig
	Token   TokenConfig
	Handoff HandoffConfig
	Claim   ClaimConfig
	Sync    SyncConfig
	Push    PushConfig
}

type HTTPConfig struct {
	Addr string
}

type MySQLConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	PoolSize int
}

type SQLiteConfig struct {
	Path string
}

type TokenConfig struct {
	TTL    time.Duration
	Secret string
}

type HandoffConfig struct {
	MaxDwell      time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

type ClaimConfig struct {
	MaxRadiusMeters float64
}

type SyncConfig struct {
	MaxBackoff time.Duration
}

type PushConfig struct {
	Endpoint string
	APIKey   string
	Buffer   int
}

// Load reads configuration from file and env. Env var overrides use prefix
// SWAPMEET_, e.g. SWAPMEET_MYSQL_DSN.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("mysql.dsn", "root:root@tcp(localhost:3306)/swapmeet?parseTime=true")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("sqlite.path", "swapmeet-queue.db")
	v.SetDefault("token.ttl", "10m")
	v.SetDefault("token.secret", "")
	v.SetDefault("handoff.max_dwell", "30m")
	v.SetDefault("handoff.retention", "24h")
	v.SetDefault("handoff.sweep_interval", "1m")
	v.SetDefault("claim.max_radius_meters", 5000.0)
	v.SetDefault("sync.max_backoff", "1m")
	v.SetDefault("push.endpoint", "")
	v.SetDefault("push.api_key", "")
	v.SetDefault("push.buffer", 256)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("SWAPMEET_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("swapmeet")
	}

	v.SetEnvPrefix("SWAPMEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgPath != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		HTTP:   HTTPConfig{Addr: v.GetString("http.addr")},
		MySQL:  MySQLConfig{DSN: v.GetString("mysql.dsn")},
		Redis:  RedisConfig{Addr: v.GetString("redis.addr"), PoolSize: v.GetInt("redis.pool_size")},
		SQLite: SQLiteConfig{Path: v.GetString("sqlite.path")},
		Token: TokenConfig{
			TTL:    v.GetDuration("token.ttl"),
			Secret: v.GetString("token.secret"),
		},
		Handoff: HandoffConfig{
			MaxDwell:      v.GetDuration("handoff.max_dwell"),
			Retention:     v.GetDuration("handoff.retention"),
			SweepInterval: v.GetDuration("handoff.sweep_interval"),
		},
		Claim: ClaimConfig{MaxRadiusMeters: v.GetFloat64("claim.max_radius_meters")},
		Sync:  SyncConfig{MaxBackoff: v.GetDuration("sync.max_backoff")},
		Push: PushConfig{
			Endpoint: v.GetString("push.endpoint"),
			APIKey:   v.GetString("push.api_key"),
			Buffer:   v.GetInt("push.buffer"),
		},
	}

	if cfg.Token.Secret == "" {
		return Config{}, errors.New("token.secret is required (set SWAPMEET_TOKEN_SECRET)")
	}
	return cfg, nil
}
