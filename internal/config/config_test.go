package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Defaults should be valid: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Privacy.Enabled {
		t.Error("Privacy should be enabled by default")
	}
	if len(cfg.Privacy.Detectors) != 1 || cfg.Privacy.Detectors[0] != "all" {
		t.Errorf("Expected detectors [all], got %v", cfg.Privacy.Detectors)
	}
	if len(cfg.Classifier.Labels) == 0 {
		t.Error("Expected default classifier labels")
	}
}

func TestLoad(t *testing.T) {
	t.Run("FromFile", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9191
  read_timeout: 5s
privacy:
  detectors: ["email", "phone_number"]
  custom_rules:
    - category: ticket_id
      pattern: 'TCK-\d{6}'
logging:
  level: debug
  format: console
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9191 {
			t.Errorf("Expected port 9191, got %d", cfg.Server.Port)
		}
		if cfg.Server.ReadTimeout != 5*time.Second {
			t.Errorf("Expected read timeout 5s, got %v", cfg.Server.ReadTimeout)
		}
		if len(cfg.Privacy.Detectors) != 2 {
			t.Errorf("Expected 2 detectors, got %v", cfg.Privacy.Detectors)
		}
		if len(cfg.Privacy.CustomRules) != 1 || cfg.Privacy.CustomRules[0].Category != "ticket_id" {
			t.Errorf("Unexpected custom rules: %+v", cfg.Privacy.CustomRules)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
			t.Errorf("Unexpected logging config: %+v", cfg.Logging)
		}
		// Untouched sections keep their defaults
		if cfg.Batch.BatchSize != 500 {
			t.Errorf("Expected default batch size, got %d", cfg.Batch.BatchSize)
		}
	})

	t.Run("EnvOverride", func(t *testing.T) {
		t.Setenv("MAILGUARD_SERVER_PORT", "7070")
		t.Setenv("MAILGUARD_LOGGING_LEVEL", "warn")

		cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("Expected env port 7070, got %d", cfg.Server.Port)
		}
		if cfg.Logging.Level != "warn" {
			t.Errorf("Expected env log level warn, got %s", cfg.Logging.Level)
		}
	})

	t.Run("InvalidPort", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server:\n  port: 70000\n"))
		if err == nil || !strings.Contains(err.Error(), "invalid server port") {
			t.Errorf("Expected invalid port error, got %v", err)
		}
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		_, err := Load(writeConfig(t, "logging:\n  level: verbose\n"))
		if err == nil || !strings.Contains(err.Error(), "invalid log level") {
			t.Errorf("Expected invalid log level error, got %v", err)
		}
	})

	t.Run("CustomRuleWithoutPattern", func(t *testing.T) {
		_, err := Load(writeConfig(t, "privacy:\n  custom_rules:\n    - category: ticket_id\n"))
		if err == nil || !strings.Contains(err.Error(), "custom rule 0") {
			t.Errorf("Expected custom rule error, got %v", err)
		}
	})

	t.Run("OpenAIBackendRequiresKey", func(t *testing.T) {
		_, err := Load(writeConfig(t, "classifier:\n  backend: openai\n"))
		if err == nil || !strings.Contains(err.Error(), "api_key") {
			t.Errorf("Expected missing api_key error, got %v", err)
		}

		t.Setenv("MAILGUARD_CLASSIFIER_OPENAI_API_KEY", "sk-test")
		cfg, err := Load(writeConfig(t, "classifier:\n  backend: openai\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Classifier.OpenAI.APIKey != "sk-test" || cfg.Classifier.OpenAI.Model != "gpt-4o-mini" {
			t.Errorf("Unexpected openai config: %+v", cfg.Classifier.OpenAI)
		}
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		_, err := Load(writeConfig(t, "classifier:\n  backend: bayes\n"))
		if err == nil || !strings.Contains(err.Error(), "invalid classifier backend") {
			t.Errorf("Expected invalid backend error, got %v", err)
		}
	})

	t.Run("MalformedFile", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unterminated\n"))
		if err == nil {
			t.Error("Expected error for malformed YAML")
		}
	})
}

func TestWatchRequiresFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "server:\n  port: 8181\n")); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := Watch(func(*Config) {}, nil); err != nil {
		t.Errorf("Watch should accept a loaded file: %v", err)
	}
}
