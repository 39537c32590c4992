package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	LogLevel    string
	SinksFile   string

	// Single sink defined through the environment. It is only built when
	// SinkURL is set.
	SinkName         string
	SinkURL          string
	SinkAtomFunc     string
	SinkUsername     string
	SinkPassword     string
	SinkResponseCode string

	HTTPTimeoutSec   int
	RetryMaxAttempts int
	RetryBackoffMS   int

	SpoolDir   string
	SpoolSink  string
	StreamURL  string
	StreamSink string

	JournalRetentionHours int
	JournalPruneCron      string

	HeartbeatIntervalSec      int
	HeartbeatStaleSec         int
	HeartbeatFailureThreshold int
}

func FromEnv() Config {
	dataDir := stringOrDefault("FEED_SINK_DATA_DIR", "/data")
	dbPath := stringOrDefault("FEED_SINK_DB_PATH", filepath.Join(dataDir, "feed-sink", "journal.sqlite"))
	sinkName := stringOrDefault("FEED_SINK_NAME", "default")

	return Config{
		Environment: stringOrDefault("FEED_SINK_ENV", "development"),
		HTTPAddr:    stringOrDefault("FEED_SINK_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      dbPath,
		LogLevel:    levelOrDefault("FEED_SINK_LOG_LEVEL", "info"),
		SinksFile:   strings.TrimSpace(os.Getenv("FEED_SINK_SINKS_FILE")),

		SinkName:         sinkName,
		SinkURL:          strings.TrimSpace(os.Getenv("FEED_SINK_URL")),
		SinkAtomFunc:     strings.TrimSpace(os.Getenv("FEED_SINK_ATOM_FUNC")),
		SinkUsername:     os.Getenv("FEED_SINK_USERNAME"),
		SinkPassword:     os.Getenv("FEED_SINK_PASSWORD"),
		SinkResponseCode: strings.TrimSpace(os.Getenv("FEED_SINK_HTTP_RESPONSE_CODE")),

		HTTPTimeoutSec:   intOrDefault("FEED_SINK_HTTP_TIMEOUT_SECONDS", 30),
		RetryMaxAttempts: intOrDefault("FEED_SINK_RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffMS:   intOrDefault("FEED_SINK_RETRY_BACKOFF_MS", 500),

		SpoolDir:   strings.TrimSpace(os.Getenv("FEED_SINK_SPOOL_DIR")),
		SpoolSink:  stringOrDefault("FEED_SINK_SPOOL_SINK", sinkName),
		StreamURL:  strings.TrimSpace(os.Getenv("FEED_SINK_STREAM_URL")),
		StreamSink: stringOrDefault("FEED_SINK_STREAM_SINK", sinkName),

		JournalRetentionHours: intOrDefault("FEED_SINK_JOURNAL_RETENTION_HOURS", 168),
		JournalPruneCron:      stringOrDefault("FEED_SINK_JOURNAL_PRUNE_CRON", "@hourly"),

		HeartbeatIntervalSec:      intOrDefault("FEED_SINK_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStaleSec:         intOrDefault("FEED_SINK_HEARTBEAT_STALE_SECONDS", 300),
		HeartbeatFailureThreshold: intOrDefault("FEED_SINK_HEARTBEAT_FAILURE_THRESHOLD", 3),
	}
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func levelOrDefault(name, fallback string) string {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch value {
	case "debug", "info", "warn", "error":
		return value
	case "warning":
		return "warn"
	default:
		return fallback
	}
}
