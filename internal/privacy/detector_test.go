package privacy

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/logger"
)

func TestDetector(t *testing.T) {
	log := logger.NewNop()

	t.Run("Defaults", func(t *testing.T) {
		detector, err := New(config.GetDefaults().Privacy, log)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}
		if len(detector.GetEnabledRules()) != len(builtinRules) {
			t.Errorf("Expected all rules enabled, got %v", detector.GetEnabledRules())
		}

		result, err := detector.ProcessText("John Smith, john.smith@example.com, 12/05/1990")
		if err != nil {
			t.Fatalf("ProcessText failed: %v", err)
		}
		if result.MaskedText != "[full_name], [email], [dob]" {
			t.Errorf("Unexpected masked text: %q", result.MaskedText)
		}
		if result.Original != "John Smith, john.smith@example.com, 12/05/1990" {
			t.Errorf("Original not preserved: %q", result.Original)
		}

		restored, err := detector.Restore(result.MaskedDocument)
		if err != nil || restored != result.Original {
			t.Errorf("Restore = %q, %v", restored, err)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		cfg := config.GetDefaults().Privacy
		cfg.Enabled = false

		detector, err := New(cfg, log)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}
		result, err := detector.ProcessText("John Smith")
		if err != nil {
			t.Fatalf("ProcessText failed: %v", err)
		}
		if result.MaskedText != "John Smith" || len(result.Findings) != 0 {
			t.Errorf("Disabled detector masked text: %+v", result)
		}
	})

	t.Run("SelectedDetectorsAndCustomRules", func(t *testing.T) {
		cfg := config.PrivacyConfig{
			Enabled:   true,
			Detectors: []string{"email"},
			CustomRules: []config.CustomRule{
				{Category: "ticket_id", Pattern: `TCK-\d{6}`},
			},
		}

		core, logs := observer.New(zap.InfoLevel)
		detector, err := New(cfg, &logger.Logger{Logger: zap.New(core)})
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}

		entries := logs.FilterMessage("Privacy detector initialized").All()
		if len(entries) != 1 {
			t.Fatalf("Expected one initialization log, got %d", len(entries))
		}
		if got := entries[0].ContextMap()["total_rules"]; got != int64(2) {
			t.Errorf("Expected total_rules 2 for one detector and one custom rule, got %v", got)
		}

		result, err := detector.ProcessText("John Smith re TCK-004211 from js@example.com")
		if err != nil {
			t.Fatalf("ProcessText failed: %v", err)
		}
		if result.MaskedText != "John Smith re [ticket_id] from [email]" {
			t.Errorf("Unexpected masked text: %q", result.MaskedText)
		}
		if result.Findings[0].Category != CategoryEmail || result.Findings[1].Category != "ticket_id" {
			t.Errorf("Findings not in catalog order: %+v", result.Findings)
		}
	})

	t.Run("UnknownDetector", func(t *testing.T) {
		_, err := New(config.PrivacyConfig{Enabled: true, Detectors: []string{"ssn"}}, log)
		if err == nil || !strings.Contains(err.Error(), "unknown detector") {
			t.Errorf("Expected unknown detector error, got %v", err)
		}
	})

	t.Run("InvalidCustomRule", func(t *testing.T) {
		_, err := New(config.PrivacyConfig{
			Enabled:     true,
			Detectors:   []string{"all"},
			CustomRules: []config.CustomRule{{Category: "bad", Pattern: "("}},
		}, log)
		if err == nil {
			t.Error("Expected error for invalid custom pattern")
		}
	})

	t.Run("InvariantViolationSurfaces", func(t *testing.T) {
		detector, err := New(config.PrivacyConfig{
			Enabled:   true,
			Detectors: []string{"email"},
			CustomRules: []config.CustomRule{
				{Category: "bracketed", Pattern: `\[email\]`},
			},
		}, log)
		if err != nil {
			t.Fatalf("Failed to create detector: %v", err)
		}

		_, err = detector.ProcessText("write to a@b.io")
		if !errors.Is(err, ErrDetectorInvariant) {
			t.Errorf("Expected ErrDetectorInvariant, got %v", err)
		}
	})

	t.Run("RestoreMismatch", func(t *testing.T) {
		detector, _ := New(config.GetDefaults().Privacy, log)
		_, err := detector.Restore(MaskedDocument{
			MaskedText: "nothing here",
			Findings:   []Finding{{Span: Span{0, 7}, Category: CategoryEmail, Original: "a@b.io"}},
		})
		if !errors.Is(err, ErrDocumentMismatch) {
			t.Errorf("Expected ErrDocumentMismatch, got %v", err)
		}
	})
}
