package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/segmentio/parquet-go"
)

// sink receives masked records in input order
type sink interface {
	Write(records []OutputRecord) error
	Close() error
}

// createSink creates filePath and a writer matching its extension
func createSink(filePath string) (sink, error) {
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	switch DetectFileFormat(filePath) {
	case FormatParquet:
		return &parquetSink{file: file, writer: parquet.NewGenericWriter[OutputRecord](file)}, nil
	case FormatJSON:
		return &jsonSink{file: file, encoder: json.NewEncoder(file)}, nil
	default:
		writer := csv.NewWriter(file)
		if err := writer.Write([]string{"masked_email", "type", "entity_count"}); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write CSV header: %w", err)
		}
		return &csvSink{file: file, writer: writer}, nil
	}
}

type csvSink struct {
	file   *os.File
	writer *csv.Writer
}

func (s *csvSink) Write(records []OutputRecord) error {
	for _, r := range records {
		row := []string{r.MaskedEmail, r.Type, strconv.FormatInt(r.EntityCount, 10)}
		if err := s.writer.Write(row); err != nil {
			return err
		}
	}
	s.writer.Flush()
	return s.writer.Error()
}

func (s *csvSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

type jsonSink struct {
	file    *os.File
	encoder *json.Encoder
}

func (s *jsonSink) Write(records []OutputRecord) error {
	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *jsonSink) Close() error {
	return s.file.Close()
}

type parquetSink struct {
	file   *os.File
	writer *parquet.GenericWriter[OutputRecord]
}

func (s *parquetSink) Write(records []OutputRecord) error {
	_, err := s.writer.Write(records)
	return err
}

// Close flushes the parquet footer before closing the file
func (s *parquetSink) Close() error {
	if err := s.writer.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
