package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"FEED_SINK_ENV",
		"FEED_SINK_HTTP_ADDR",
		"FEED_SINK_DATA_DIR",
		"FEED_SINK_DB_PATH",
		"FEED_SINK_LOG_LEVEL",
		"FEED_SINK_SINKS_FILE",
		"FEED_SINK_NAME",
		"FEED_SINK_URL",
		"FEED_SINK_ATOM_FUNC",
		"FEED_SINK_USERNAME",
		"FEED_SINK_PASSWORD",
		"FEED_SINK_HTTP_RESPONSE_CODE",
		"FEED_SINK_HTTP_TIMEOUT_SECONDS",
		"FEED_SINK_RETRY_MAX_ATTEMPTS",
		"FEED_SINK_RETRY_BACKOFF_MS",
		"FEED_SINK_SPOOL_DIR",
		"FEED_SINK_SPOOL_SINK",
		"FEED_SINK_STREAM_URL",
		"FEED_SINK_STREAM_SINK",
		"FEED_SINK_JOURNAL_RETENTION_HOURS",
		"FEED_SINK_JOURNAL_PRUNE_CRON",
		"FEED_SINK_HEARTBEAT_INTERVAL_SECONDS",
		"FEED_SINK_HEARTBEAT_STALE_SECONDS",
		"FEED_SINK_HEARTBEAT_FAILURE_THRESHOLD",
	} {
		t.Setenv(name, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()
	if cfg.Environment != "development" {
		t.Fatalf("expected development env, got %s", cfg.Environment)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %s", cfg.HTTPAddr)
	}
	if cfg.DataDir != "/data" {
		t.Fatalf("expected default data dir /data, got %s", cfg.DataDir)
	}
	if cfg.DBPath != filepath.Join("/data", "feed-sink", "journal.sqlite") {
		t.Fatalf("unexpected default db path: %s", cfg.DBPath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info log level, got %s", cfg.LogLevel)
	}
	if cfg.SinkName != "default" || cfg.StreamSink != "default" || cfg.SpoolSink != "default" {
		t.Fatalf("unexpected default sink names: %s %s %s", cfg.SinkName, cfg.StreamSink, cfg.SpoolSink)
	}
	if cfg.HTTPTimeoutSec != 30 {
		t.Fatalf("expected default http timeout 30, got %d", cfg.HTTPTimeoutSec)
	}
	if cfg.RetryMaxAttempts != 3 || cfg.RetryBackoffMS != 500 {
		t.Fatalf("unexpected retry defaults: %d %d", cfg.RetryMaxAttempts, cfg.RetryBackoffMS)
	}
	if cfg.JournalRetentionHours != 168 || cfg.JournalPruneCron != "@hourly" {
		t.Fatalf("unexpected journal defaults: %d %s", cfg.JournalRetentionHours, cfg.JournalPruneCron)
	}
	if cfg.HeartbeatStaleSec != 300 || cfg.HeartbeatIntervalSec != 30 || cfg.HeartbeatFailureThreshold != 3 {
		t.Fatalf("unexpected heartbeat defaults: %+v", cfg)
	}

	sinks, err := cfg.Sinks()
	if err != nil {
		t.Fatalf("sinks: %v", err)
	}
	if len(sinks) != 0 {
		t.Fatalf("expected no sinks without url, got %d", len(sinks))
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_SINK_DATA_DIR", "/srv/feed")
	t.Setenv("FEED_SINK_LOG_LEVEL", "WARNING")
	t.Setenv("FEED_SINK_RETRY_MAX_ATTEMPTS", "0")
	t.Setenv("FEED_SINK_HTTP_TIMEOUT_SECONDS", "nope")
	t.Setenv("FEED_SINK_NAME", "news")
	t.Setenv("FEED_SINK_STREAM_SINK", "alerts")

	cfg := FromEnv()
	if cfg.DBPath != filepath.Join("/srv/feed", "feed-sink", "journal.sqlite") {
		t.Fatalf("expected db path under data dir, got %s", cfg.DBPath)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected warn, got %s", cfg.LogLevel)
	}
	if cfg.RetryMaxAttempts != 3 || cfg.HTTPTimeoutSec != 30 {
		t.Fatalf("expected invalid numbers to fall back, got %d %d", cfg.RetryMaxAttempts, cfg.HTTPTimeoutSec)
	}
	if cfg.SpoolSink != "news" || cfg.StreamSink != "alerts" {
		t.Fatalf("unexpected source sinks: %s %s", cfg.SpoolSink, cfg.StreamSink)
	}
}

func TestEnvSinkKeepsOnlySetOptions(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEED_SINK_URL", "https://atom.example.com/news")
	t.Setenv("FEED_SINK_ATOM_FUNC", "update")
	t.Setenv("FEED_SINK_PASSWORD", " secret with spaces ")

	sinks, err := FromEnv().Sinks()
	if err != nil {
		t.Fatalf("sinks: %v", err)
	}
	if len(sinks) != 1 {
		t.Fatalf("expected env sink, got %d", len(sinks))
	}
	options := sinks[0].Options
	if sinks[0].Name != "default" || options["url"] != "https://atom.example.com/news" || options["atom.func"] != "update" {
		t.Fatalf("unexpected env sink: %+v", sinks[0])
	}
	if options["password"] != " secret with spaces " {
		t.Fatalf("expected password kept verbatim, got %q", options["password"])
	}
	if _, ok := options["username"]; ok {
		t.Fatal("expected unset username left out")
	}
	if got := strings.Join(sinks[0].SortedOptionKeys(), ","); got != "atom.func,password,url" {
		t.Fatalf("unexpected option keys: %s", got)
	}
}

func TestLoadSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sinks.yaml")
	content := `sinks:
  - name: news
    options:
      url: https://atom.example.com/news
      atom.func: create
      http.response.code: 201
  - name: removals
    options:
      url: https://atom.example.com/news
      atom.func: delete
      http.response.code: "204"
      username: admin
      password: ~
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write sinks file: %v", err)
	}

	sinks, err := LoadSinks(path)
	if err != nil {
		t.Fatalf("load sinks: %v", err)
	}
	if len(sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(sinks))
	}
	if sinks[0].Options["http.response.code"] != "201" {
		t.Fatalf("expected unquoted status as text, got %q", sinks[0].Options["http.response.code"])
	}
	if sinks[1].Options["atom.func"] != "delete" || sinks[1].Options["username"] != "admin" {
		t.Fatalf("unexpected second sink: %+v", sinks[1])
	}
	if _, ok := sinks[1].Options["password"]; ok {
		t.Fatal("expected null option dropped")
	}
}

func TestLoadSinksRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unnamed":   "sinks:\n  - options:\n      url: http://host/feed\n",
		"nested":    "sinks:\n  - name: news\n    options:\n      url:\n        host: x\n",
		"malformed": "sinks: [\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := LoadSinks(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadSinks(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSinksRejectsDuplicateNames(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sinks.yaml")
	if err := os.WriteFile(path, []byte("sinks:\n  - name: News\n    options:\n      url: http://host/feed\n"), 0o644); err != nil {
		t.Fatalf("write sinks file: %v", err)
	}
	t.Setenv("FEED_SINK_URL", "http://host/feed")
	t.Setenv("FEED_SINK_NAME", "news")
	t.Setenv("FEED_SINK_SINKS_FILE", path)

	if _, err := FromEnv().Sinks(); err == nil || !strings.Contains(err.Error(), "duplicate sink name") {
		t.Fatalf("expected duplicate name error, got %v", err)
	}
}
