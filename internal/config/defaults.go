package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Default returns a Config populated with sensible defaults for every
// subsystem, used as the base Load starts from before file and env
// overrides are applied.
func Default() *Config {
	dataDir := getDefaultDataDir()

	return &Config{
		App: AppConfig{
			Name:        "interpretcore",
			Version:     "0.1.0",
			Environment: "dev",
			DataDir:     dataDir,
		},

		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"http://localhost:5173"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
			},
		},

		Store: StoreConfig{
			Backend:       "memory",
			RetainedHards: 512,
			SQLite: SQLiteConfig{
				Path:            filepath.Join(dataDir, "core.db"),
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				WALMode:         true,
				ForeignKeys:     true,
				BusyTimeout:     5 * time.Second,
			},
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "interpretcore",
				User:            "interpretcore",
				SSLMode:         "prefer",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{
				Host:         "localhost",
				Port:         6379,
				MaxRetries:   3,
				PoolSize:     10,
				MinIdleConns: 5,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},

		Room: RoomDefaults{
			SourceLang:         "auto",
			AutoDetectLangs:    []string{"en-US"},
			DefaultTargetLangs: []string{"fr-CA", "es-MX"},
			SoftThrottleMs:     700,
			SoftMinDeltaChars:  12,
			FinalDebounceMs:    180,
			PatchLRUPerRoom:    512,
			MinSentencesForTTS: 2,
			WatchdogEventIdle:  12 * time.Second,
			WatchdogPCMIdle:    7 * time.Second,
			RoomIdleTTL:        10 * time.Minute,
			ListenerQueueDepth: 64,
			ListenerQueueBytes: 4 << 20,
		},

		Translation: TranslationConfig{
			PrimaryURL:       "https://translate.internal/api/v1",
			CacheSize:        1000,
			HedgeTimeout:     1500 * time.Millisecond,
			FailureThreshold: 5,
			CircuitCooldown:  30 * time.Second,
		},

		TTS: TTSConfig{
			ProviderURL:      "https://tts.internal/v1/audio/speech",
			Voice:            "alloy",
			FallbackVoice:    "echo",
			Format:           "mp3",
			MaxBacklogSec:    8,
			ResumeBacklogSec: 4,
			RateBoostPct:     25,
			SynthesisTimeout: 10 * time.Second,
		},

		Security: SecurityConfig{
			JWTSecret:        generateDefaultJWTSecret(),
			TokenExpiry:      2 * time.Hour,
			RateLimitEnabled: true,
			IngestRPS:        50,
			RoomMailboxDepth: 256,
		},

		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			OutputPath:   "stdout",
			EnableCaller: false,
			EnableStack:  true,
		},

		Cache: CacheConfig{
			MaxEntries: 10000,
			TTL:        5 * time.Minute,
		},
	}
}

// getDefaultDataDir returns the default data directory based on OS.
func getDefaultDataDir() string {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		baseDir = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default:
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("HOME"), ".local", "share")
		}
	}

	return filepath.Join(baseDir, "interpretcore")
}

// generateDefaultJWTSecret generates a default JWT secret for development.
// WARNING: In production, this MUST be overridden with a secure random secret.
func generateDefaultJWTSecret() string {
	return "dev-secret-change-me-in-production-min-32-chars-required"
}
