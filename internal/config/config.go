package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the host binary.
type Config struct {
	// HTTP surface. When the preferred bind address is taken and
	// PortAutoFallback is set, the candidates are tried in order.
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Rendering engine: "native" or "headless". Chosen once at startup.
	Backend  string
	StartURL string
	// Optional YAML listing tabs to open at boot. Absent file means a
	// single tab at StartURL.
	StartPagesPath string

	// Headless engine settings
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	ChromeBin     string
	WindowWidth   int
	WindowHeight  int

	// Request loop behavior
	CaptureTimeoutMS int

	// Logging and storage
	LogLevel    string
	LogFile     string
	SnapshotDir string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:         getEnvOrDefault("VIEWCAST_BIND_ADDR", "0.0.0.0:8765"),
		PortCandidates:   splitAddrList(getEnvOrDefault("VIEWCAST_PORT_CANDIDATES", "0.0.0.0:8766,0.0.0.0:8767,0.0.0.0:8768")),
		PortAutoFallback: getEnvBoolOrDefault("VIEWCAST_PORT_AUTO_FALLBACK", true),
		Backend:          strings.ToLower(getEnvOrDefault("VIEWCAST_BACKEND", "native")),
		StartURL:         getEnvOrDefault("VIEWCAST_START_URL", "https://example.com"),
		StartPagesPath:   getEnvOrDefault("VIEWCAST_START_PAGES", "./config/start_pages.yaml"),
		CDPAddress:       getEnvOrDefault("VIEWCAST_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("VIEWCAST_CDP_PORT", 9222),
		LaunchBrowser:    getEnvBoolOrDefault("VIEWCAST_LAUNCH_BROWSER", true),
		ChromeBin:        getEnvOrDefault("VIEWCAST_CHROME_BIN", ""),
		WindowWidth:      getEnvIntOrDefault("VIEWCAST_WINDOW_WIDTH", 1200),
		WindowHeight:     getEnvIntOrDefault("VIEWCAST_WINDOW_HEIGHT", 800),
		CaptureTimeoutMS: getEnvIntOrDefault("VIEWCAST_CAPTURE_TIMEOUT_MS", 10000),
		LogLevel:         strings.ToLower(getEnvOrDefault("VIEWCAST_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("VIEWCAST_LOG_FILE", "logs/viewcast_host.log"),
		SnapshotDir:      getEnvOrDefault("VIEWCAST_SNAPSHOT_DIR", "./snapshots"),
	}

	if cfg.Backend != "native" && cfg.Backend != "headless" {
		return nil, fmt.Errorf("config: VIEWCAST_BACKEND must be \"native\" or \"headless\", got %q", cfg.Backend)
	}
	if cfg.CaptureTimeoutMS < 1000 {
		cfg.CaptureTimeoutMS = 1000
	}

	return cfg, nil
}

// CDPURL returns the HTTP endpoint of the headless engine's DevTools port.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// CaptureTimeout returns the bounded per-call timeout for the host loop.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitAddrList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
