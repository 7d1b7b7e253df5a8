package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		log, err := New(Config{Level: "info", Format: "json"})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}
		if log.Logger == nil {
			t.Fatal("Embedded zap logger is nil")
		}
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New(Config{Level: "loud", Format: "json"}); err == nil {
			t.Error("Expected error for invalid level")
		}
	})

	t.Run("FileSink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "mailguard.log")
		log, err := New(Config{
			Level:  "debug",
			Format: "console",
			File:   &FileConfig{Enabled: true, Path: path},
		})
		if err != nil {
			t.Fatalf("Failed to create logger: %v", err)
		}

		log.WithComponent("test").Info("written to file", zap.String("key", "value"))
		_ = log.Sync()

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		if !strings.Contains(string(data), "written to file") {
			t.Errorf("Log file missing message: %s", data)
		}
		if !strings.Contains(string(data), `"component":"test"`) {
			t.Errorf("Log file missing component field: %s", data)
		}
	})
}

func TestSafeHeaders(t *testing.T) {
	headers := map[string][]string{
		"Authorization": {"Basic abc"},
		"X-Api-Key":     {"secret"},
		"Content-Type":  {"application/json"},
		"Empty":         {},
	}

	safe := SafeHeaders(headers)

	if safe["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization not redacted: %q", safe["Authorization"])
	}
	if safe["X-Api-Key"] != "[REDACTED]" {
		t.Errorf("X-Api-Key not redacted: %q", safe["X-Api-Key"])
	}
	if safe["Content-Type"] != "application/json" {
		t.Errorf("Content-Type altered: %q", safe["Content-Type"])
	}
	if _, ok := safe["Empty"]; ok {
		t.Error("Empty header should be omitted")
	}
}
