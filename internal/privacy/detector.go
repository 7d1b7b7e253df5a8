package privacy

import (
	"errors"
	"fmt"

	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/logger"
	"go.uber.org/zap"
)

// Detector handles PII detection and masking with a catalog fixed at construction
type Detector struct {
	catalog *Catalog
	logger  *logger.Logger
	config  config.PrivacyConfig
}

// New creates a new PII detector instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Detector, error) {
	catalog, err := buildCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	detector := &Detector{
		catalog: catalog,
		logger:  log,
		config:  cfg,
	}

	log.Info("Privacy detector initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("total_rules", catalog.Len()),
		zap.Strings("enabled_rules", catalog.Categories()),
	)

	return detector, nil
}

// buildCatalog selects the configured built-in detectors and appends custom rules
func buildCatalog(cfg config.PrivacyConfig) (*Catalog, error) {
	catalog, err := DefaultCatalog().Select(cfg.Detectors)
	if err != nil {
		return nil, err
	}

	if len(cfg.CustomRules) == 0 {
		return catalog, nil
	}

	extra := make([]Rule, 0, len(cfg.CustomRules))
	for _, custom := range cfg.CustomRules {
		rule, err := CompileRule(custom.Category, custom.Pattern)
		if err != nil {
			return nil, err
		}
		extra = append(extra, rule)
	}

	return catalog.With(extra...)
}

// ProcessText masks text with the enabled rules. When privacy is disabled
// the text is passed through unchanged.
func (d *Detector) ProcessText(text string) (ProcessResult, error) {
	if !d.config.Enabled {
		return ProcessResult{
			MaskedDocument: MaskedDocument{MaskedText: text, Findings: []Finding{}},
			Original:       text,
		}, nil
	}

	doc, err := Mask(text, d.catalog)
	if err != nil {
		var violation *InvariantViolationError
		if errors.As(err, &violation) {
			d.logger.Error("Detector invariant violated",
				zap.String("category", string(violation.Category)),
				zap.String("existing_category", string(violation.Existing.Category)),
				zap.Int("edit_start", violation.Edit.Start),
				zap.Int("edit_end", violation.Edit.End),
			)
		}
		return ProcessResult{}, err
	}

	if len(doc.Findings) > 0 {
		for category, count := range doc.CategoryCounts() {
			d.logger.Debug("PII detected and masked",
				zap.String("entity_type", string(category)),
				zap.Int("count", count),
				zap.String("replacement", category.Placeholder()),
			)
		}
	}

	return ProcessResult{MaskedDocument: doc, Original: text}, nil
}

// Restore reconstructs the original text of a document produced by ProcessText
func (d *Detector) Restore(doc MaskedDocument) (string, error) {
	text, err := Restore(doc)
	if err != nil {
		var mismatch *DocumentMismatchError
		if errors.As(err, &mismatch) {
			d.logger.Warn("Restore rejected document",
				zap.Int("finding_index", mismatch.Index),
				zap.String("category", string(mismatch.Finding.Category)),
				zap.String("kind", string(mismatch.Kind)),
				zap.String("reason", mismatch.Reason),
			)
		}
		return "", err
	}
	return text, nil
}

// Catalog returns the detector's catalog
func (d *Detector) Catalog() *Catalog {
	return d.catalog
}

// Enabled reports whether masking is applied
func (d *Detector) Enabled() bool {
	return d.config.Enabled
}

// GetEnabledRules returns the enabled rule names in catalog order
func (d *Detector) GetEnabledRules() []string {
	return d.catalog.Categories()
}
