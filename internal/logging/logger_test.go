package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workshop/internal/config"
	"workshop/internal/logging"
	"workshop/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestConsoleLoggerLiftsSlotAndJob(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithJobID(services.WithSlot(context.Background(), 1), "TH01")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "workflow")).Info(
		"stage completed",
		logging.String(logging.FieldStage, "quality-control"),
		logging.String("note", "two words"),
	)

	content := readLog(t, logPath)
	for _, fragment := range []string{"[slot 1 TH01]", "workflow: stage completed", "stage=quality-control", `note="two words"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
	if strings.Contains(content, "job_id=") {
		t.Fatalf("expected job id lifted into prefix, got %q", content)
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no source information at info level, got %q", content)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("with source")
	if content := readLog(t, logPath); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected source location in debug logs, got %q", content)
	}
}

func TestJSONLoggerUsesCanonicalKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("worker setup failed", logging.Int(logging.FieldSlot, 3))

	var payload map[string]any
	line := strings.TrimSpace(readLog(t, logPath))
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("decode json log %q: %v", line, err)
	}
	if payload["level"] != "warn" {
		t.Fatalf("unexpected level %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key in %v", payload)
	}
	if payload[logging.FieldSlot] != float64(3) {
		t.Fatalf("unexpected slot %v", payload[logging.FieldSlot])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestNewForRunWritesRunLog(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	logger, path, err := logging.NewForRun(&cfg, "0123456789abcdef")
	if err != nil {
		t.Fatalf("NewForRun returned error: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "run-") || !strings.HasSuffix(path, "-01234567.log") {
		t.Fatalf("unexpected run log path %q", path)
	}
	logger.Info("run started")
	if !strings.Contains(readLog(t, path), "run started") {
		t.Fatal("expected message in run log")
	}
}

func TestCleanupOldLogsKeepsCurrentAndRecent(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "run-20200101T000000-aaaa.log")
	current := filepath.Join(dir, "run-20200101T000000-bbbb.log")
	recent := filepath.Join(dir, "run-20990101T000000-cccc.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, current, recent, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	stale := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), dir, 5, current)
	if removed != 1 {
		t.Fatalf("expected one pruned log, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{current, recent, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
	if logging.CleanupOldLogs(nil, dir, 0, "") != 0 {
		t.Fatal("expected retention 0 to disable pruning")
	}
}
