package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/mailguard/internal/config"
	"github.com/raaihank/mailguard/internal/metrics"
	"github.com/raaihank/mailguard/internal/privacy"
)

// maxReportedErrors caps the error messages kept on a ProcessingResult
const maxReportedErrors = 100

// Pipeline masks labelled email datasets so they can be used for training
// without exposing PII
type Pipeline struct {
	detector *privacy.Detector
	metrics  *metrics.Metrics
	config   config.BatchConfig
	logger   *zap.Logger
	stats    *ProcessingStats
	mu       sync.RWMutex
}

// maskOutcome is the per-record result produced by a worker
type maskOutcome struct {
	record OutputRecord
	counts map[privacy.Category]int
	err    error
}

// NewPipeline creates a new batch pipeline. m may be nil.
func NewPipeline(detector *privacy.Detector, m *metrics.Metrics, cfg config.BatchConfig, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	return &Pipeline{
		detector: detector,
		metrics:  m,
		config:   cfg,
		logger:   logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile masks every valid record of inputPath and writes the results
// to outputPath. Formats are chosen from the file extensions.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting batch pipeline",
		zap.String("input", inputPath),
		zap.String("input_format", string(DetectFileFormat(inputPath))),
		zap.String("output", outputPath),
		zap.String("output_format", string(DetectFileFormat(outputPath))),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	src, err := openSource(inputPath, p.logger)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	out, err := createSink(outputPath)
	if err != nil {
		return nil, err
	}

	result := p.run(ctx, src, out)
	if closeErr := out.Close(); closeErr != nil && result.err == nil {
		result.err = fmt.Errorf("failed to finalize output: %w", closeErr)
	}

	p.logCompletion(result.ProcessingResult)
	return result.ProcessingResult, result.err
}

// Validate reads inputPath and applies record validation without masking
// or writing anything
func (p *Pipeline) Validate(ctx context.Context, inputPath string) (*ProcessingResult, error) {
	src, err := openSource(inputPath, p.logger)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	result := p.run(ctx, src, nil)
	p.logCompletion(result.ProcessingResult)
	return result.ProcessingResult, result.err
}

type runResult struct {
	*ProcessingResult
	err error
}

// run drives the read, mask, write loop. A nil sink means validation only.
func (p *Pipeline) run(ctx context.Context, src source, out sink) runResult {
	p.resetStats()

	start := time.Now()
	result := &ProcessingResult{EntityCounts: make(map[string]int64)}
	nextReport := int64(p.config.ProgressReport)

	finish := func(err error) runResult {
		result.Duration = time.Since(start)
		return runResult{ProcessingResult: result, err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		batch, eof, err := p.readBatch(src, result)
		if err != nil {
			return finish(fmt.Errorf("failed to read batch: %w", err))
		}

		if len(batch) > 0 && out != nil {
			outputs, err := p.maskBatch(ctx, batch, result)
			if err != nil {
				return finish(err)
			}

			writeStart := time.Now()
			if err := out.Write(outputs); err != nil {
				return finish(fmt.Errorf("failed to write batch: %w", err))
			}
			result.WriteTime += time.Since(writeStart)
		} else if out == nil {
			result.ProcessedOK += int64(len(batch))
		}

		p.mu.Lock()
		p.stats.CurrentBatch++
		p.mu.Unlock()

		if nextReport > 0 && result.TotalRecords >= nextReport {
			p.reportProgress(result)
			for nextReport <= result.TotalRecords {
				nextReport += int64(p.config.ProgressReport)
			}
		}

		if eof {
			return finish(nil)
		}
	}
}

// readBatch reads up to BatchSize valid records. Malformed and invalid
// records are counted as skipped.
func (p *Pipeline) readBatch(src source, result *ProcessingResult) ([]*InputRecord, bool, error) {
	var batch []*InputRecord

	for len(batch) < p.config.BatchSize {
		record, err := src.Next()
		if err == io.EOF {
			return batch, true, nil
		}
		if errors.Is(err, errMalformed) {
			result.TotalRecords++
			p.skip(result, err.Error())
			continue
		}
		if err != nil {
			return nil, false, err
		}

		result.TotalRecords++
		p.mu.Lock()
		p.stats.RecordsRead++
		p.mu.Unlock()

		if reason := p.validateRecord(record); reason != "" {
			p.skip(result, fmt.Sprintf("record %d: %s", result.TotalRecords, reason))
			continue
		}

		p.mu.Lock()
		p.stats.RecordsValid++
		p.mu.Unlock()
		batch = append(batch, record)
	}

	return batch, false, nil
}

func (p *Pipeline) skip(result *ProcessingResult, reason string) {
	result.Skipped++
	p.addError(result, reason)

	p.mu.Lock()
	p.stats.RecordsInvalid++
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.BatchRecords.WithLabelValues("skipped").Inc()
	}
}

// maskBatch masks a batch across the worker pool and returns the outputs
// in input order. Records the detector rejects are left out.
func (p *Pipeline) maskBatch(ctx context.Context, batch []*InputRecord, result *ProcessingResult) ([]OutputRecord, error) {
	maskStart := time.Now()
	outcomes := make([]maskOutcome, len(batch))

	workers := p.config.WorkerCount
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.maskRecord(batch[i])
			}
		}()
	}

feed:
	for i := range batch {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	result.MaskTime += time.Since(maskStart)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs := make([]OutputRecord, 0, len(batch))
	for i, outcome := range outcomes {
		if outcome.err != nil {
			result.ProcessedFailed++
			p.addError(result, fmt.Sprintf("mask failed: %v", outcome.err))
			p.logger.Error("Failed to mask record",
				zap.String("text_hash", computeTextHash(batch[i].Email)),
				zap.Error(outcome.err))
			if p.metrics != nil {
				p.metrics.BatchRecords.WithLabelValues("failed").Inc()
			}
			continue
		}

		result.ProcessedOK++
		result.TotalEntities += outcome.record.EntityCount
		counts := make(map[string]int, len(outcome.counts))
		for category, n := range outcome.counts {
			result.EntityCounts[string(category)] += int64(n)
			counts[string(category)] = n
		}
		if p.metrics != nil {
			p.metrics.BatchRecords.WithLabelValues("masked").Inc()
			p.metrics.AddFindings(counts)
		}
		outputs = append(outputs, outcome.record)
	}

	p.mu.Lock()
	p.stats.RecordsMasked += int64(len(outputs))
	p.mu.Unlock()

	return outputs, nil
}

func (p *Pipeline) maskRecord(record *InputRecord) maskOutcome {
	start := time.Now()
	processed, err := p.detector.ProcessText(record.Email)
	if p.metrics != nil {
		p.metrics.ObserveMask(time.Since(start))
	}
	if err != nil {
		return maskOutcome{err: err}
	}

	return maskOutcome{
		record: OutputRecord{
			MaskedEmail: processed.MaskedText,
			Type:        record.Type,
			EntityCount: int64(len(processed.Findings)),
		},
		counts: processed.CategoryCounts(),
	}
}

// validateRecord returns an empty string for a usable record, otherwise the
// reason it is rejected
func (p *Pipeline) validateRecord(record *InputRecord) string {
	if strings.TrimSpace(record.Email) == "" {
		return "empty email"
	}

	if !p.config.ValidateData {
		return ""
	}

	if record.Type == "" {
		return "empty type"
	}

	if p.config.MaxTextLength > 0 && len(record.Email) > p.config.MaxTextLength {
		return fmt.Sprintf("email too long (%d bytes)", len(record.Email))
	}

	return ""
}

func (p *Pipeline) addError(result *ProcessingResult, msg string) {
	if len(result.Errors) < maxReportedErrors {
		result.Errors = append(result.Errors, msg)
	}
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	elapsed := time.Since(p.stats.StartTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(result.TotalRecords) / elapsed.Seconds()
	}

	p.mu.Lock()
	p.stats.ProcessingRate = rate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_read", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("records_skipped", result.Skipped),
		zap.Int64("entities_masked", result.TotalEntities),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) logCompletion(result *ProcessingResult) {
	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("total_entities", result.TotalEntities),
		zap.Any("entity_counts", result.EntityCounts),
		zap.Duration("duration", result.Duration),
		zap.Duration("mask_time", result.MaskTime),
		zap.Duration("write_time", result.WriteTime))
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}

// computeTextHash computes SHA-256 hash of the given text
func computeTextHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
