package classify

import (
	"context"
	"testing"

	"github.com/raaihank/mailguard/internal/config"
	"go.uber.org/zap"
)

func TestKeywordClassifier(t *testing.T) {
	logger := zap.NewNop()

	kc, err := NewKeywordClassifier(config.GetDefaults().Classifier, logger)
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"Incident", "The portal is down and shows an error, [full_name] cannot access it", "Incident"},
		{"Change", "Please upgrade the database and migrate the reports", "Change"},
		{"Problem", "The sync issue is recurring again, we need the root cause", "Problem"},
		{"DefaultOnNoKeywords", "Hi [full_name], see you at [phone_number]", "Request"},
		{"Empty", "", "Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := kc.Classify(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if result.Label != tt.want {
				t.Errorf("Classify(%q) = %s, want %s (scores %v)", tt.text, result.Label, tt.want, result.Scores)
			}
			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Confidence out of range: %f", result.Confidence)
			}
		})
	}
}

func TestKeywordClassifierWordBoundaries(t *testing.T) {
	kc, err := NewKeywordClassifier(config.ClassifierConfig{
		DefaultLabel: "Other",
		Labels: []config.LabelConfig{
			{Name: "Incident", Keywords: map[string]float64{"down": 1}},
		},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	result, _ := kc.Classify(context.Background(), "please download the file")
	if result.Label != "Other" {
		t.Errorf("Keyword matched inside a word: %+v", result)
	}

	result, _ = kc.Classify(context.Background(), "server DOWN")
	if result.Label != "Incident" || result.Confidence != 1 {
		t.Errorf("Expected case-insensitive match, got %+v", result)
	}
}

func TestKeywordClassifierTieGoesToFirstLabel(t *testing.T) {
	kc, err := NewKeywordClassifier(config.ClassifierConfig{
		DefaultLabel: "Other",
		Labels: []config.LabelConfig{
			{Name: "A", Keywords: map[string]float64{"alpha": 1}},
			{Name: "B", Keywords: map[string]float64{"beta": 1}},
		},
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to create classifier: %v", err)
	}

	result, _ := kc.Classify(context.Background(), "beta alpha")
	if result.Label != "A" || result.Confidence != 0.5 {
		t.Errorf("Unexpected tie result: %+v", result)
	}
	if got := kc.Labels(); len(got) != 2 || got[0] != "A" {
		t.Errorf("Unexpected labels: %v", got)
	}
}

func TestNewKeywordClassifierErrors(t *testing.T) {
	logger := zap.NewNop()

	if _, err := NewKeywordClassifier(config.ClassifierConfig{}, logger); err == nil {
		t.Error("Expected error without default label")
	}

	_, err := NewKeywordClassifier(config.ClassifierConfig{
		DefaultLabel: "A",
		Labels:       []config.LabelConfig{{Name: "A"}, {Name: "A"}},
	}, logger)
	if err == nil {
		t.Error("Expected error for duplicate label")
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	kc, _ := NewKeywordClassifier(config.GetDefaults().Classifier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := kc.Classify(ctx, "server down"); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
