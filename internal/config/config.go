// Package config provides configuration management for the credential broker.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMaxPayloadSize is the default max request payload size (100KB).
	DefaultMaxPayloadSize int64 = 100 * 1024

	// DefaultLeaseDuration applies when an acquire request omits the duration.
	DefaultLeaseDuration = 5 * time.Minute

	// DefaultMinLeaseDuration and DefaultMaxLeaseDuration bound requested
	// lease durations. Out-of-range requests are clamped.
	DefaultMinLeaseDuration = 5 * time.Second
	DefaultMaxLeaseDuration = 30 * time.Minute

	// DefaultDriftFactor and DefaultDriftConstant form the clock-drift
	// safety margin deducted from every lease's validity window.
	DefaultDriftFactor   = 0.01
	DefaultDriftConstant = 100 * time.Millisecond

	// DefaultAcquireRetryCount bounds internal retries of transient store
	// failures during acquisition.
	DefaultAcquireRetryCount = 3

	// DefaultReaperInterval is how often the expiry reaper sweeps.
	DefaultReaperInterval = 30 * time.Second

	// DefaultStatsRetention is how long archived usage records are kept.
	DefaultStatsRetention = 30 * 24 * time.Hour
)

// Config holds the application configuration.
type Config struct {
	// Port is the HTTP server port.
	Port string

	// DevMode relaxes authentication and allows running without external
	// lease store nodes.
	DevMode bool

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string

	// ServiceToken is the bearer token required on API endpoints.
	ServiceToken string

	// MaxPayloadSize is the maximum request payload size in bytes.
	MaxPayloadSize int64

	// LeaseStoreAddrs lists the Redis node endpoints forming the lock
	// quorum, comma separated. An odd count tolerates the most failures.
	LeaseStoreAddrs []string

	// RedisDB and RedisPassword apply to every lease store node.
	RedisDB       int
	RedisPassword string

	// PrimaryCredential and Credentials form the managed credential pool.
	PrimaryCredential string
	Credentials       []string

	// Lease duration bounds and default.
	MinLeaseDuration     time.Duration
	MaxLeaseDuration     time.Duration
	DefaultLeaseDuration time.Duration

	// DriftFactor and DriftConstant tune the clock-drift safety margin.
	DriftFactor   float64
	DriftConstant time.Duration

	// AcquireRetryCount bounds internal store-failure retries.
	AcquireRetryCount int

	// Credential health thresholds.
	HealthDegradedAfter    int
	HealthUnavailableAfter int
	HealthRecoverAfter     int

	// ReaperInterval is how often expired leases are swept.
	ReaperInterval time.Duration

	// LeaderElectionEnabled gates reaping behind a quorum leader lock so
	// only one instance of a deployment sweeps.
	LeaderElectionEnabled bool

	// StatsDatabaseURL enables the PostgreSQL usage archive when set; the
	// in-memory archive is used otherwise.
	StatsDatabaseURL string

	// StatsRetention is how long archived usage records are kept.
	StatsRetention time.Duration
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	cfg := &Config{
		Port:                   getEnvOrDefault("PORT", "8084"),
		DevMode:                getEnvBoolOrDefault("DEV_MODE", false),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		ServiceToken:           getEnvOrDefault("SERVICE_TOKEN", ""),
		MaxPayloadSize:         getEnvInt64OrDefault("MAX_PAYLOAD_SIZE", DefaultMaxPayloadSize),
		LeaseStoreAddrs:        splitList(getEnvOrDefault("LEASE_STORE_ADDRS", "")),
		RedisDB:                getEnvIntOrDefault("REDIS_DB", 0),
		RedisPassword:          getEnvOrDefault("REDIS_PASSWORD", ""),
		PrimaryCredential:      getEnvOrDefault("PRIMARY_CREDENTIAL_KEY", ""),
		Credentials:            splitList(getEnvOrDefault("CREDENTIAL_KEYS", "")),
		MinLeaseDuration:       getEnvDurationOrDefault("MIN_LEASE_DURATION", DefaultMinLeaseDuration),
		MaxLeaseDuration:       getEnvDurationOrDefault("MAX_LEASE_DURATION", DefaultMaxLeaseDuration),
		DefaultLeaseDuration:   getEnvDurationOrDefault("DEFAULT_LEASE_DURATION", DefaultLeaseDuration),
		DriftFactor:            getEnvFloatOrDefault("DRIFT_FACTOR", DefaultDriftFactor),
		DriftConstant:          getEnvDurationOrDefault("DRIFT_CONSTANT", DefaultDriftConstant),
		AcquireRetryCount:      getEnvIntOrDefault("ACQUIRE_RETRY_COUNT", DefaultAcquireRetryCount),
		HealthDegradedAfter:    getEnvIntOrDefault("HEALTH_DEGRADED_AFTER", 3),
		HealthUnavailableAfter: getEnvIntOrDefault("HEALTH_UNAVAILABLE_AFTER", 5),
		HealthRecoverAfter:     getEnvIntOrDefault("HEALTH_RECOVER_AFTER", 2),
		ReaperInterval:         getEnvDurationOrDefault("REAPER_INTERVAL", DefaultReaperInterval),
		LeaderElectionEnabled:  getEnvBoolOrDefault("LEADER_ELECTION_ENABLED", true),
		StatsDatabaseURL:       getEnvOrDefault("STATS_DATABASE_URL", ""),
		StatsRetention:         getEnvDurationOrDefault("STATS_RETENTION", DefaultStatsRetention),
	}

	return cfg
}

// CredentialList returns the primary credential followed by the additional
// ones, trimmed and deduplicated, preserving first-seen order.
func (c *Config) CredentialList() []string {
	seen := make(map[string]struct{})
	var keys []string

	appendKey := func(key string) {
		key = strings.TrimSpace(key)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	appendKey(c.PrimaryCredential)
	for _, key := range c.Credentials {
		appendKey(key)
	}
	return keys
}

// Validate checks that the configuration can actually run a broker.
func (c *Config) Validate() error {
	if len(c.CredentialList()) == 0 {
		return errors.New("at least one credential is required: set PRIMARY_CREDENTIAL_KEY or CREDENTIAL_KEYS")
	}
	if !c.DevMode {
		if len(c.LeaseStoreAddrs) == 0 {
			return errors.New("LEASE_STORE_ADDRS is required outside dev mode")
		}
		if c.ServiceToken == "" {
			return errors.New("SERVICE_TOKEN is required outside dev mode")
		}
	}
	if c.MinLeaseDuration > c.MaxLeaseDuration {
		return fmt.Errorf("MIN_LEASE_DURATION %s exceeds MAX_LEASE_DURATION %s", c.MinLeaseDuration, c.MaxLeaseDuration)
	}
	return nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt64OrDefault returns the environment variable value as int64 or the default if not set or invalid.
func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable value as int or the default if not set or invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable value as bool or the default if not set or invalid.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloatOrDefault returns the environment variable value as float64 or the default if not set or invalid.
func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable value as a
// duration or the default if not set or invalid. Accepts Go duration
// strings ("30s") and bare integers, read as seconds.
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
