package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config is the root configuration loaded once at startup, consolidated
// into a single struct rather than threaded piecemeal; CoreConfig derives
// an immutable snapshot of it that every room is handed at construction
// time (see ToCoreConfig).
type Config struct {
	App         AppConfig         `json:"app"`
	Server      ServerConfig      `json:"server"`
	Store       StoreConfig       `json:"store"`
	Room        RoomDefaults      `json:"room"`
	Translation TranslationConfig `json:"translation"`
	TTS         TTSConfig         `json:"tts"`
	Security    SecurityConfig    `json:"security"`
	Logging     LoggingConfig     `json:"logging"`
	Cache       CacheConfig       `json:"cache"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"` // dev, staging, production
	DataDir     string `json:"data_dir"`
}

// ServerConfig contains the ingest HTTP/WS server settings.
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	CORS            CORSConfig    `json:"cors"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
}

// StoreConfig selects and configures the State Store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres", "redis".
	Backend        string         `json:"backend"`
	RetainedHards  int            `json:"retained_hards"` // default 512, LRU per room
	SQLite         SQLiteConfig   `json:"sqlite"`
	Postgres       PostgresConfig `json:"postgres"`
	Redis          RedisConfig    `json:"redis"`
}

// SQLiteConfig configures the embedded single-node store backend.
type SQLiteConfig struct {
	Path            string        `json:"path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	WALMode         bool          `json:"wal_mode"`
	ForeignKeys     bool          `json:"foreign_keys"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
}

// PostgresConfig configures the Postgres store backend.
type PostgresConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig configures the Redis store backend.
type RedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	MaxRetries   int           `json:"max_retries"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// RoomDefaults holds the per-room tunables exposed through room config.
// A room may override a subset of these at creation; zero values fall
// back to these defaults.
type RoomDefaults struct {
	SourceLang         string        `json:"source_lang"` // fixed BCP-47, or "auto"
	AutoDetectLangs    []string      `json:"auto_detect_langs"` // size <= 4
	DefaultTargetLangs []string      `json:"default_target_langs"`
	SoftThrottleMs     int           `json:"soft_throttle_ms"`     // 700
	SoftMinDeltaChars  int           `json:"soft_min_delta_chars"` // 12
	FinalDebounceMs    int           `json:"final_debounce_ms"`   // 180
	PatchLRUPerRoom    int           `json:"patch_lru_per_room"`  // 512
	MinSentencesForTTS int           `json:"min_sentences_for_tts"` // 2; relaxed to 1 for a ttsFinal segment
	WatchdogEventIdle  time.Duration `json:"watchdog_event_idle"` // 12s
	WatchdogPCMIdle    time.Duration `json:"watchdog_pcm_idle"`   // 7s
	RoomIdleTTL        time.Duration `json:"room_idle_ttl"`       // 10m
	ListenerQueueDepth int           `json:"listener_queue_depth"` // 64
	ListenerQueueBytes int           `json:"listener_queue_bytes"` // 4 MiB
}

// TranslationConfig contains Translator Client settings.
type TranslationConfig struct {
	PrimaryURL       string        `json:"primary_url"`
	PrimaryAPIKey    string        `json:"primary_api_key"`
	SecondaryURL     string        `json:"secondary_url"`
	SecondaryAPIKey  string        `json:"secondary_api_key"`
	CacheSize        int           `json:"cache_size"` // 1000 per room
	HedgeTimeout     time.Duration `json:"hedge_timeout"` // 1500ms
	FailureThreshold int           `json:"failure_threshold"`
	CircuitCooldown  time.Duration `json:"circuit_cooldown"`
}

// TTSConfig contains TTS Queue settings.
type TTSConfig struct {
	ProviderURL       string        `json:"provider_url"`
	APIKey            string        `json:"api_key"`
	Voice             string        `json:"voice"`
	FallbackVoice     string        `json:"fallback_voice"`
	Format            string        `json:"format"`
	MaxBacklogSec     int           `json:"max_backlog_sec"`    // 8
	ResumeBacklogSec  int           `json:"resume_backlog_sec"` // 4
	RateBoostPct      int           `json:"rate_boost_pct"`     // 25
	SynthesisTimeout  time.Duration `json:"synthesis_timeout"`
}

// SecurityConfig contains JWT + rate-limiting settings.
type SecurityConfig struct {
	JWTSecret        string        `json:"jwt_secret"`
	TokenExpiry      time.Duration `json:"token_expiry"`
	RateLimitEnabled bool          `json:"rate_limit_enabled"`
	IngestRPS        int           `json:"ingest_rps"`
	RoomMailboxDepth int           `json:"room_mailbox_depth"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // json, console
	OutputPath   string `json:"output_path"`
	EnableCaller bool   `json:"enable_caller"`
	EnableStack  bool   `json:"enable_stack"`
}

// CacheConfig contains generic in-memory LRU defaults shared by any
// component that needs a bounded cache but isn't the translator memo
// cache or the room's segment retention (both sized independently above).
type CacheConfig struct {
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
}

// Load loads configuration from file and environment variables.
// Priority: env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if err := cfg.Save(configPath); err != nil {
					return nil, fmt.Errorf("failed to create default config: %w", err)
				}
			} else {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("CORE_ENV"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("CORE_DATA_DIR"); v != "" {
		c.App.DataDir = v
	}
	if v := os.Getenv("CORE_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CORE_JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}
	if v := os.Getenv("TRANSLATION_PRIMARY_URL"); v != "" {
		c.Translation.PrimaryURL = v
	}
	if v := os.Getenv("TRANSLATION_PRIMARY_API_KEY"); v != "" {
		c.Translation.PrimaryAPIKey = v
	}
	if v := os.Getenv("TTS_PROVIDER_URL"); v != "" {
		c.TTS.ProviderURL = v
	}
	if v := os.Getenv("TTS_API_KEY"); v != "" {
		c.TTS.APIKey = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Store.Redis.Host = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Store.Postgres.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Save saves configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name cannot be empty")
	}
	if c.App.Environment != "dev" && c.App.Environment != "staging" && c.App.Environment != "production" {
		return fmt.Errorf("invalid environment: %s (must be dev, staging, or production)", c.App.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	if len(c.Room.AutoDetectLangs) > 4 {
		return fmt.Errorf("autoDetectLangs must have at most 4 entries, got %d", len(c.Room.AutoDetectLangs))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.App.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 characters in production")
	}

	return nil
}

// GetLogLevel returns the zerolog level based on configuration.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "dev"
}

// GetDatabaseDSN returns the PostgreSQL connection string.
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Store.Postgres.Host,
		c.Store.Postgres.Port,
		c.Store.Postgres.User,
		c.Store.Postgres.Password,
		c.Store.Postgres.Database,
		c.Store.Postgres.SSLMode,
	)
}

// GetRedisDSN returns the Redis connection string.
func (c *Config) GetRedisDSN() string {
	return fmt.Sprintf("%s:%d", c.Store.Redis.Host, c.Store.Redis.Port)
}

// ToCoreConfig produces an immutable snapshot handed to rooms created from
// this point on. A reload only affects rooms constructed afterward.
func (c *Config) ToCoreConfig() CoreConfig {
	return CoreConfig{
		Room:        c.Room,
		Translation: c.Translation,
		TTS:         c.TTS,
	}
}

// CoreConfig is the read-only subset of Config a Room actually needs.
// Passed by value so a room can never observe a later reload.
type CoreConfig struct {
	Room        RoomDefaults
	Translation TranslationConfig
	TTS         TTSConfig
}
