package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/raaihank/mailguard/internal/config"
	"go.uber.org/zap"
)

// Result is the outcome of classifying one masked email
type Result struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores,omitempty"`
}

// Classifier assigns a category to masked email text. Implementations only
// ever see text that has already been through the privacy detector.
type Classifier interface {
	Classify(ctx context.Context, maskedText string) (Result, error)
	Labels() []string
}

type keyword struct {
	pattern *regexp.Regexp
	weight  float64
}

type label struct {
	name     string
	keywords []keyword
}

// KeywordClassifier scores each label by the weighted keywords found in the text
type KeywordClassifier struct {
	labels       []label
	defaultLabel string
	logger       *zap.Logger
}

// NewKeywordClassifier compiles the configured labels
func NewKeywordClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (*KeywordClassifier, error) {
	if cfg.DefaultLabel == "" {
		return nil, fmt.Errorf("default label is required")
	}

	kc := &KeywordClassifier{
		labels:       make([]label, 0, len(cfg.Labels)),
		defaultLabel: cfg.DefaultLabel,
		logger:       logger,
	}

	seen := make(map[string]bool)
	total := 0
	for _, lc := range cfg.Labels {
		if lc.Name == "" {
			return nil, fmt.Errorf("label name is required")
		}
		if seen[lc.Name] {
			return nil, fmt.Errorf("duplicate label: %s", lc.Name)
		}
		seen[lc.Name] = true

		l := label{name: lc.Name}
		for word, weight := range lc.Keywords {
			word = strings.TrimSpace(word)
			if word == "" {
				continue
			}
			compiled, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("failed to compile keyword %q for %s: %w", word, lc.Name, err)
			}
			l.keywords = append(l.keywords, keyword{pattern: compiled, weight: weight})
		}
		total += len(l.keywords)
		kc.labels = append(kc.labels, l)
	}

	logger.Info("Keyword classifier initialized",
		zap.Int("labels", len(kc.labels)),
		zap.Int("keywords", total),
		zap.String("default_label", kc.defaultLabel))

	return kc, nil
}

// Classify returns the highest scoring label. Ties go to the label configured
// first; text with no positive score gets the default label.
func (kc *KeywordClassifier) Classify(ctx context.Context, maskedText string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	scores := make(map[string]float64, len(kc.labels))
	best := ""
	bestScore := 0.0
	sum := 0.0

	for _, l := range kc.labels {
		score := 0.0
		for _, kw := range l.keywords {
			if n := len(kw.pattern.FindAllStringIndex(maskedText, -1)); n > 0 {
				score += float64(n) * kw.weight
			}
		}
		if score < 0 {
			score = 0
		}
		scores[l.name] = score
		sum += score
		if score > bestScore {
			best = l.name
			bestScore = score
		}
	}

	if best == "" {
		return Result{Label: kc.defaultLabel, Confidence: 0, Scores: scores}, nil
	}

	return Result{Label: best, Confidence: bestScore / sum, Scores: scores}, nil
}

// Labels returns the configured label names in order
func (kc *KeywordClassifier) Labels() []string {
	names := make([]string, len(kc.labels))
	for i, l := range kc.labels {
		names[i] = l.name
	}
	return names
}
