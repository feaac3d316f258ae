package config

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RecorderConfig holds configuration for the passive page-event recorder.
type RecorderConfig struct {
	CDPAddress     string
	CDPPort        int
	DataDir        string
	MaxFileSizeMB  int
	BufferSize     int
	TabURLFilter   string
	CaptureConsole bool
	CaptureNetwork bool
	MaxTextBytes   int

	// Periodic frame captures land in the host's snapshot archive. An
	// interval of zero disables them.
	SnapshotDir         string
	SnapshotIntervalSec int

	LogLevel string
	LogFile  string
}

// LoadRecorder reads recorder configuration from environment variables and
// optional .env file.
func LoadRecorder() (*RecorderConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &RecorderConfig{
		CDPAddress:          getEnvOrDefault("RECORDER_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:             getEnvIntOrDefault("RECORDER_CDP_PORT", 9222),
		DataDir:             getEnvOrDefault("RECORDER_DATA_DIR", "./recorder_data"),
		MaxFileSizeMB:       getEnvIntOrDefault("RECORDER_MAX_FILE_SIZE_MB", 200),
		BufferSize:          getEnvIntOrDefault("RECORDER_BUFFER_SIZE", 5000),
		TabURLFilter:        getEnvOrDefault("RECORDER_TAB_URL_FILTER", ""),
		CaptureConsole:      getEnvBoolOrDefault("RECORDER_CAPTURE_CONSOLE", true),
		CaptureNetwork:      getEnvBoolOrDefault("RECORDER_CAPTURE_NETWORK", true),
		MaxTextBytes:        getEnvIntOrDefault("RECORDER_MAX_TEXT_BYTES", 8192),
		SnapshotDir:         getEnvOrDefault("RECORDER_SNAPSHOT_DIR", "./snapshots"),
		SnapshotIntervalSec: getEnvIntOrDefault("RECORDER_SNAPSHOT_INTERVAL_SEC", 60),
		LogLevel:            getEnvOrDefault("RECORDER_LOG_LEVEL", "info"),
		LogFile:             getEnvOrDefault("RECORDER_LOG_FILE", "logs/recorder.log"),
	}

	if cfg.MaxTextBytes < 0 {
		cfg.MaxTextBytes = 0
	}

	return cfg, nil
}

// CDPURL returns the CDP endpoint URL the recorder attaches to.
func (c *RecorderConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// SnapshotInterval returns the periodic capture interval, zero when disabled.
func (c *RecorderConfig) SnapshotInterval() time.Duration {
	if c.SnapshotIntervalSec <= 0 {
		return 0
	}
	return time.Duration(c.SnapshotIntervalSec) * time.Second
}
