// Package config loads walletchat configuration from a YAML file, an optional
// .env file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/walletchat/internal/domain/ledger"
	"github.com/R3E-Network/walletchat/internal/domain/user"
)

// Backend kinds.
const (
	BackendMemory   = "memory"
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Backend BackendConfig `yaml:"backend"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Users   UsersConfig   `yaml:"users"`
	Auth    AuthConfig    `yaml:"auth"`
	Redis   RedisConfig   `yaml:"redis"`
}

type ServerConfig struct {
	Addr      string  `yaml:"addr" env:"WALLETCHAT_ADDR"`
	RateLimit float64 `yaml:"rate_limit" env:"WALLETCHAT_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"WALLETCHAT_RATE_BURST"`

	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins     []string      `yaml:"cors_origins" env:"WALLETCHAT_CORS_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"WALLETCHAT_SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// BackendConfig selects the persistence implementation. Blobs default to the
// record backend but may be routed elsewhere, e.g. postgres records with
// supabase storage.
type BackendConfig struct {
	Kind        string `yaml:"kind" env:"WALLETCHAT_BACKEND"`
	Blobs       string `yaml:"blobs" env:"WALLETCHAT_BLOB_BACKEND"`
	SupabaseURL string `yaml:"supabase_url" env:"SUPABASE_URL"`
	SupabaseKey string `yaml:"supabase_key" env:"SUPABASE_SERVICE_KEY"`
	Bucket      string `yaml:"bucket" env:"SUPABASE_BUCKET"`
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
}

type LedgerConfig struct {
	Costs         ledger.CostSchedule `yaml:"costs"`
	Operators     []string            `yaml:"operators" env:"WALLETCHAT_OPERATORS"`
	Catalog       []user.FeatureItem  `yaml:"catalog"`
	PendingTTL    time.Duration       `yaml:"pending_ttl" env:"WALLETCHAT_PENDING_TTL"`
	SweepSchedule string              `yaml:"sweep_schedule" env:"WALLETCHAT_SWEEP_SCHEDULE"`
}

type UsersConfig struct {
	DefaultCredits  int64 `yaml:"default_credits" env:"WALLETCHAT_DEFAULT_CREDITS"`
	StorageCapacity int64 `yaml:"storage_capacity" env:"WALLETCHAT_STORAGE_CAPACITY"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"WALLETCHAT_JWT_SECRET"`
}

type RedisConfig struct {
	Addr    string        `yaml:"addr" env:"REDIS_ADDR"`
	LockTTL time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", RateLimit: 20, RateBurst: 40, ShutdownTimeout: 15 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
		Backend: BackendConfig{
			Kind:   BackendMemory,
			Bucket: "walletchat-files",
		},
		Ledger: LedgerConfig{
			Costs: ledger.DefaultCostSchedule(),
			Catalog: []user.FeatureItem{
				{ID: "unlimited-pass", Name: "Unlimited Pass", Kind: user.ItemFeature, Grants: []user.Grant{user.GrantUnlimitedAccess}},
				{ID: "gold-tier", Name: "Gold Tier", Kind: user.ItemFeature, Grants: []user.Grant{user.GrantElevatedTier}},
				{ID: "avatar-frame", Name: "Avatar Frame", Kind: user.ItemCosmetic},
			},
			PendingTTL:    5 * time.Minute,
			SweepSchedule: "@every 1m",
		},
		Users: UsersConfig{
			DefaultCredits:  100,
			StorageCapacity: 100 << 20,
		},
		Redis: RedisConfig{LockTTL: 10 * time.Second},
	}
}

// Load reads path (optional), then .env, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Backend.Kind = strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	c.Backend.Blobs = strings.ToLower(strings.TrimSpace(c.Backend.Blobs))
	if c.Backend.Blobs == "" {
		c.Backend.Blobs = c.Backend.Kind
	}
	ops := c.Ledger.Operators[:0]
	for _, op := range c.Ledger.Operators {
		if op = strings.TrimSpace(op); op != "" {
			ops = append(ops, op)
		}
	}
	c.Ledger.Operators = ops
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendMemory:
	case BackendSupabase:
		if c.Backend.SupabaseURL == "" || c.Backend.SupabaseKey == "" {
			return fmt.Errorf("supabase backend requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case BackendPostgres:
		if c.Backend.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Kind)
	}

	switch c.Backend.Blobs {
	case BackendMemory:
	case BackendSupabase:
		if c.Backend.SupabaseURL == "" || c.Backend.SupabaseKey == "" {
			return fmt.Errorf("supabase blob storage requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
	case BackendPostgres:
		if c.Backend.PostgresDSN == "" {
			return fmt.Errorf("postgres blob storage requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unsupported blob backend %q", c.Backend.Blobs)
	}

	if !c.Ledger.Costs.Valid() {
		return fmt.Errorf("cost schedule must not contain negative costs")
	}
	if c.Users.DefaultCredits < 0 || c.Users.StorageCapacity < 0 {
		return fmt.Errorf("user defaults must be non-negative")
	}
	if c.Ledger.PendingTTL <= 0 {
		return fmt.Errorf("ledger pending_ttl must be positive")
	}
	return nil
}

// UserDefaults converts the users section to the domain defaults.
func (c *Config) UserDefaults() user.Defaults {
	return user.Defaults{Credits: c.Users.DefaultCredits, StorageCapacity: c.Users.StorageCapacity}
}
