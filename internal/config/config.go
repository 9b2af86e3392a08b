package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the service
type Config struct {
	Port    string
	GinMode string

	// Persistence
	DatabaseDriver string
	DatabaseURL    string

	// Admission and pacing
	MaxConcurrentJobs  int
	MaxBrowserContexts int
	AcquireTimeout     time.Duration
	NavigationTimeout  time.Duration
	JitterMin          time.Duration
	JitterMax          time.Duration
	ShutdownTimeout    time.Duration

	// Browser
	Headless    bool
	BrowserBin  string
	NoSandbox   bool
	Proxy       ProxyConfig
	RestartWait time.Duration

	// HTTP
	AdminKeyHash   string
	RateLimitRPS   float64
	RateLimitBurst int
	TrendsCacheTTL time.Duration
	AllowedOrigins []string
	TrustedProxies []string
}

// ProxyConfig configures the upstream proxy used by the browser
type ProxyConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
}

// Server returns the host:port form expected by Chromium's --proxy-server
func (p ProxyConfig) Server() string {
	if !p.Enabled || p.Host == "" {
		return ""
	}
	return "http://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Load reads an optional .env file and then the process environment
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only
func FromEnv() Config {
	concurrency := getEnvInt("MAX_CONCURRENT_JOBS", 3)

	return Config{
		Port:    getEnv("PORT", "8001"),
		GinMode: getEnv("GIN_MODE", "debug"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    normalizeDatabaseURL(getEnv("DATABASE_URL", "sqlite:///data/arcsat.db")),

		MaxConcurrentJobs:  concurrency,
		MaxBrowserContexts: getEnvInt("MAX_BROWSER_CONTEXTS", concurrency),
		AcquireTimeout:     getEnvDuration("ACQUIRE_TIMEOUT", 60*time.Second),
		NavigationTimeout:  getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		JitterMin:          getEnvDuration("JITTER_MIN", 3*time.Second),
		JitterMax:          getEnvDuration("JITTER_MAX", 6*time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		Headless:   getEnvBool("BROWSER_HEADLESS", true),
		BrowserBin: getEnv("BROWSER_BIN", ""),
		NoSandbox:  getEnvBool("BROWSER_NO_SANDBOX", false),
		Proxy: ProxyConfig{
			Enabled:  getEnvBool("PROXY_ENABLED", false),
			Host:     getEnv("PROXY_HOST", ""),
			Port:     getEnvInt("PROXY_PORT", 8080),
			Username: getEnv("PROXY_USERNAME", ""),
			Password: getEnv("PROXY_PASSWORD", ""),
		},
		RestartWait: getEnvDuration("POOL_RESTART_COOLDOWN", 5*time.Minute),

		AdminKeyHash:   getEnv("ADMIN_KEY_HASH", ""),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
		TrendsCacheTTL: getEnvDuration("TRENDS_CACHE_TTL", 5*time.Minute),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{"127.0.0.1", "::1"}),
	}
}

// Validate rejects configurations the service cannot run with
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q (want sqlite3 or pgx)", c.DatabaseDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is empty")
	}
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.MaxBrowserContexts < 1 {
		return fmt.Errorf("MAX_BROWSER_CONTEXTS must be at least 1, got %d", c.MaxBrowserContexts)
	}
	if c.NavigationTimeout <= 0 || c.AcquireTimeout <= 0 {
		return fmt.Errorf("NAVIGATION_TIMEOUT and ACQUIRE_TIMEOUT must be positive")
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter range [%s, %s] is invalid", c.JitterMin, c.JitterMax)
	}
	if c.Proxy.Enabled && c.Proxy.Host == "" {
		return fmt.Errorf("PROXY_ENABLED is set but PROXY_HOST is empty")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

// normalizeDatabaseURL strips the sqlite:/// scheme used by the original deployment
func normalizeDatabaseURL(u string) string {
	return strings.TrimPrefix(u, "sqlite:///")
}

func getEnv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Invalid number for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		log.Printf("Invalid boolean for %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("45s") or plain seconds ("45")
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Printf("Invalid duration for %s=%q, using %s", key, v, fallback)
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
