package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration from environment variables,
// loaded after an optional .env file so the ingester and query-server
// binaries can share one file in local development.
type Config struct {
	Port int

	TimetableDBURL string // static GTFS data, read-only
	AlertsDBURL    string // alert/alert_agency/alert_route/alert_stop, read-write

	FeedURL string

	TestMode bool // true when the ingester was invoked with -f <feedfile>

	FetchTimeout time.Duration
	CacheTTL     time.Duration
}

// Load reads a .env file if present, then environment variables with
// defaults. A missing .env file is not an error.
func Load() *Config {
	return load("")
}

// LoadFile reads the named config file (the ingester/query-server -c flag)
// before environment variables, so a file passed on the command line
// overrides whatever a bare Load() would pick up from the working
// directory's .env.
func LoadFile(path string) *Config {
	return load(path)
}

func load(path string) *Config {
	if path != "" {
		_ = godotenv.Overload(path)
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		Port:           envInt("TRANSITALERTS_PORT", 8080),
		TimetableDBURL: envStr("TRANSITALERTS_TIMETABLE_DB_URL", "postgres://localhost:5432/timetable"),
		AlertsDBURL:    envStr("TRANSITALERTS_ALERTS_DB_URL", "postgres://localhost:5432/alerts"),
		FeedURL:        envStr("TRANSITALERTS_FEED_URL", ""),
		TestMode:       envBool("TRANSITALERTS_TEST_MODE", false),
		FetchTimeout:   envDuration("TRANSITALERTS_FETCH_TIMEOUT", 30*time.Second),
		CacheTTL:       envDuration("TRANSITALERTS_CACHE_TTL", 10*time.Minute),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
