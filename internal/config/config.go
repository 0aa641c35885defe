// Package config loads the bridge's configuration from the environment
// (optionally seeded from a local .env file) and from a static tenant
// directory seed file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime tunable for the bridge. Fields are grouped by
// the leaf component that consumes them.
type Config struct {
	// Listener
	Host string
	Port int

	// Transport tunables. MaxMessageSize is honoured explicitly rather than
	// relying on the websocket library's smaller built-in default.
	PingInterval      time.Duration
	PingTimeout       time.Duration
	UpgradeTimeout    time.Duration
	MaxMessageSize    int64
	ConnectTimeout    time.Duration
	SessionTimeout    time.Duration
	DisableCompression bool

	// Bulk/bootstrap tunables
	FullSyncBatchSize    int
	FullSyncTimeout      time.Duration
	FullSyncRetryAttempts int

	// Target-store credentials (the physical database named by appId is
	// reached using these credentials against a host:port shared by every
	// tenant database)
	TargetHost     string
	TargetPort     int
	TargetUser     string
	TargetPassword string

	// Tenant-directory credentials (may be the same server as the target
	// store, but is always addressed as its own database)
	DirectoryHost     string
	DirectoryPort     int
	DirectoryUser     string
	DirectoryPassword string
	DirectoryDatabase string

	// Tenant directory seed file (static mapping, read once at startup)
	TenantSeedFile string

	// License validation cache (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LicenseCacheTTL time.Duration

	// Local artefact storage
	UploadsDir string

	LogLevel string
}

// Load reads .env (if present) into the process environment, then builds a
// Config from environment variables, applying defaults for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := &Config{
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnvInt("PORT", 3031),

		PingInterval:       getEnvDuration("SOCKETIO_PING_INTERVAL", 25*time.Second),
		PingTimeout:        getEnvDuration("SOCKETIO_PING_TIMEOUT", 60*time.Second),
		UpgradeTimeout:     getEnvDuration("SOCKETIO_UPGRADE_TIMEOUT", 10*time.Second),
		MaxMessageSize:     getEnvInt64("TRANSPORT_MAX_MESSAGE_SIZE", 10_000_000),
		ConnectTimeout:     getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		SessionTimeout:     getEnvDuration("SESSION_TIMEOUT", 0), // 0 = unbounded
		DisableCompression: true,

		FullSyncBatchSize:     getEnvInt("FULL_SYNC_BATCH_SIZE", 1000),
		FullSyncTimeout:       getEnvDuration("FULL_SYNC_TIMEOUT", 300*time.Second),
		FullSyncRetryAttempts: getEnvInt("FULL_SYNC_RETRY_ATTEMPTS", 3),

		TargetHost:     getEnv("TARGET_DB_HOST", "127.0.0.1"),
		TargetPort:     getEnvInt("TARGET_DB_PORT", 3306),
		TargetUser:     getEnv("TARGET_DB_USER", "root"),
		TargetPassword: getEnv("TARGET_DB_PASSWORD", ""),

		DirectoryHost:     getEnv("DIRECTORY_DB_HOST", "127.0.0.1"),
		DirectoryPort:     getEnvInt("DIRECTORY_DB_PORT", 3306),
		DirectoryUser:     getEnv("DIRECTORY_DB_USER", "root"),
		DirectoryPassword: getEnv("DIRECTORY_DB_PASSWORD", ""),
		DirectoryDatabase: getEnv("DIRECTORY_DB_NAME", "tenant_directory"),

		TenantSeedFile: getEnv("TENANT_SEED_FILE", ""),

		RedisAddr:       getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		LicenseCacheTTL: getEnvDuration("LICENSE_CACHE_TTL", 30*time.Second),

		UploadsDir: getEnv("UPLOADS_DIR", "uploads"),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// TenantSeed is one row of the static tenant-directory seed file, used to
// pre-populate the directory database on first boot.
type TenantSeed struct {
	StoreID               string `yaml:"storeId"`
	StoreName             string `yaml:"storeName"`
	AppID                 string `yaml:"appId"`
	LicenseExpire         string `yaml:"licenseExpire"`
}

// LoadTenantSeed reads the YAML tenant seed file named by
// Config.TenantSeedFile. Returns an empty slice, not an error, if the path
// is unset — the seed file is optional.
func LoadTenantSeed(path string) ([]TenantSeed, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenant seed file %q: %w", path, err)
	}

	var seeds []TenantSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parsing tenant seed file %q: %w", path, err)
	}

	return seeds, nil
}
