package batch

import (
	"path/filepath"
	"strings"
	"time"
)

// InputRecord is one labelled email from the training dataset
type InputRecord struct {
	Email string `csv:"email" parquet:"email" json:"email"`
	Type  string `csv:"type" parquet:"type" json:"type"`
}

// OutputRecord is the masked form of an InputRecord. Entity values are
// dropped; only their count is kept.
type OutputRecord struct {
	MaskedEmail string `csv:"masked_email" parquet:"masked_email" json:"masked_email"`
	Type        string `csv:"type" parquet:"type" json:"type"`
	EntityCount int64  `csv:"entity_count" parquet:"entity_count" json:"entity_count"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64            `json:"total_records"`
	ProcessedOK     int64            `json:"processed_ok"`
	ProcessedFailed int64            `json:"processed_failed"`
	Skipped         int64            `json:"skipped"`
	TotalEntities   int64            `json:"total_entities"`
	EntityCounts    map[string]int64 `json:"entity_counts"`
	Duration        time.Duration    `json:"duration"`
	MaskTime        time.Duration    `json:"mask_time"`
	WriteTime       time.Duration    `json:"write_time"`
	Errors          []string         `json:"errors,omitempty"`
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	RecordsMasked  int64     `json:"records_masked"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension. JSON means one
// object per line.
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
