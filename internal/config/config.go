package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Events   EventsConfig   `yaml:"events"`
	Keeper   KeeperConfig   `yaml:"keeper"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port                   string `yaml:"port"`
	Env                    string `yaml:"env"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	// RateLimitPerMinute caps requests per caller identity; 0 disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"` // memory, badger, redis, postgres, spanner
	Badger   BadgerConfig   `yaml:"badger"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Spanner  SpannerConfig  `yaml:"spanner"`
}

type BadgerConfig struct {
	Path              string  `yaml:"path"`
	SyncWrites        bool    `yaml:"sync_writes"`
	GCIntervalMinutes int     `yaml:"gc_interval_minutes"`
	GCDiscardRatio    float64 `yaml:"gc_discard_ratio"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SpannerConfig struct {
	Project  string `yaml:"project"`
	Instance string `yaml:"instance"`
	Database string `yaml:"database"`
}

// ProtocolConfig fixes the deployment's program identity and the genesis
// parameters written by Initialize on first start.
type ProtocolConfig struct {
	ProgramSeed string        `yaml:"program_seed"`
	Genesis     GenesisConfig `yaml:"genesis"`
}

type GenesisConfig struct {
	Enabled                  bool   `yaml:"enabled"`
	Authority                string `yaml:"authority"`
	MintSeed                 string `yaml:"mint_seed"`
	MinReputationForVouching uint64 `yaml:"min_reputation_for_vouching"`
	DecayRatePerDay          uint64 `yaml:"decay_rate_per_day"`
	VouchLockupSeconds       int64  `yaml:"vouch_lockup_seconds"`
}

type EventsConfig struct {
	Backend    string `yaml:"backend"` // memory, pubsub or redis
	Project    string `yaml:"project"`
	Topic      string `yaml:"topic"` // Pub/Sub topic or Redis channel
	BufferSize int    `yaml:"buffer_size"`
	RedisAddr  string `yaml:"redis_addr"`
}

type KeeperConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	// IdleDays is how long an agent must be inactive before the keeper
	// decays it. Each activity epoch is decayed at most once.
	IdleDays int64 `yaml:"idle_days"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	JSONFile string `yaml:"json_file"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development", ShutdownTimeoutSeconds: 10, RateLimitPerMinute: 600},
		Store: StoreConfig{
			Backend: "memory",
			Badger:  BadgerConfig{Path: "data/ledger", GCIntervalMinutes: 10, GCDiscardRatio: 0.5},
			Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "agentrep:"},
		},
		Protocol: ProtocolConfig{
			ProgramSeed: "agentreputation_dao",
			Genesis: GenesisConfig{
				MintSeed:                 "reputation",
				MinReputationForVouching: 100,
				DecayRatePerDay:          100,
				VouchLockupSeconds:       7 * 24 * 60 * 60,
			},
		},
		Events: EventsConfig{Backend: "memory", Topic: "agentrep-events", BufferSize: 256, RedisAddr: "localhost:6379"},
		Keeper: KeeperConfig{IntervalSeconds: 3600, IdleDays: 7},
		Log:    LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML file over Default. Keys absent from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is what the daemon calls: .env, then the YAML file and its optional
// overlay, then AGENTREP_* overrides, then validation.
func Load(path, overlayPath string) (*Manager, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return NewManager(path, overlayPath)
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from AGENTREP_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv("AGENTREP_" + key); ok {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("ENV", &c.Server.Env)
	str("STORE_BACKEND", &c.Store.Backend)
	str("BADGER_PATH", &c.Store.Badger.Path)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	str("POSTGRES_DSN", &c.Store.Postgres.DSN)
	str("SPANNER_PROJECT", &c.Store.Spanner.Project)
	str("SPANNER_INSTANCE", &c.Store.Spanner.Instance)
	str("SPANNER_DATABASE", &c.Store.Spanner.Database)
	str("PROGRAM_SEED", &c.Protocol.ProgramSeed)
	str("GENESIS_AUTHORITY", &c.Protocol.Genesis.Authority)
	str("EVENTS_BACKEND", &c.Events.Backend)
	str("PUBSUB_PROJECT", &c.Events.Project)
	str("PUBSUB_TOPIC", &c.Events.Topic)
	str("EVENTS_REDIS_ADDR", &c.Events.RedisAddr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_JSON_FILE", &c.Log.JSONFile)

	if v, ok := os.LookupEnv("AGENTREP_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENTREP_REDIS_DB: %w", err)
		}
		c.Store.Redis.DB = n
	}
	if v, ok := os.LookupEnv("AGENTREP_KEEPER_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AGENTREP_KEEPER_ENABLED: %w", err)
		}
		c.Keeper.Enabled = b
	}
	if v, ok := os.LookupEnv("AGENTREP_GENESIS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AGENTREP_GENESIS_ENABLED: %w", err)
		}
		c.Protocol.Genesis.Enabled = b
	}
	return nil
}

// Validate reports the first setting that would stop the daemon from
// starting.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch c.Store.Backend {
	case "memory":
	case "badger":
		if c.Store.Badger.Path == "" {
			return errors.New("store.badger.path is required")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required")
		}
	case "spanner":
		s := c.Store.Spanner
		if s.Project == "" || s.Instance == "" || s.Database == "" {
			return errors.New("spanner configuration incomplete")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}

	switch c.Events.Backend {
	case "memory":
	case "pubsub":
		if c.Events.Project == "" || c.Events.Topic == "" {
			return errors.New("events.project and events.topic are required for pubsub")
		}
	case "redis":
		if c.Events.RedisAddr == "" || c.Events.Topic == "" {
			return errors.New("events.redis_addr and events.topic are required for redis")
		}
	default:
		return fmt.Errorf("unknown events backend: %s", c.Events.Backend)
	}

	if c.Protocol.ProgramSeed == "" {
		return errors.New("protocol.program_seed is required")
	}
	g := c.Protocol.Genesis
	if g.Enabled {
		if g.Authority == "" {
			return errors.New("protocol.genesis.authority is required when genesis is enabled")
		}
		if g.DecayRatePerDay > 10000 {
			return fmt.Errorf("protocol.genesis.decay_rate_per_day %d exceeds 10000", g.DecayRatePerDay)
		}
		if g.VouchLockupSeconds < 0 {
			return errors.New("protocol.genesis.vouch_lockup_seconds must not be negative")
		}
	}
	if c.Keeper.Enabled && c.Keeper.IntervalSeconds <= 0 {
		return errors.New("keeper.interval_seconds must be positive")
	}
	if c.Keeper.Enabled && c.Keeper.IdleDays <= 0 {
		return errors.New("keeper.idle_days must be positive")
	}
	return nil
}
