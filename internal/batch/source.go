package batch

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// maxLineBytes bounds a single JSON line
const maxLineBytes = 16 << 20

// errMalformed marks a record that could not be decoded but does not stop the read
var errMalformed = errors.New("malformed record")

// source yields input records one at a time and returns io.EOF when exhausted
type source interface {
	Next() (*InputRecord, error)
	Close() error
}

// openSource opens filePath with the reader matching its extension
func openSource(filePath string, logger *zap.Logger) (source, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	var src source
	switch DetectFileFormat(filePath) {
	case FormatParquet:
		src = &parquetSource{file: file, reader: parquet.NewReader(file)}
	case FormatJSON:
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		src = &jsonSource{file: file, scanner: scanner}
	default:
		src, err = newCSVSource(file, logger)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	return src, nil
}

type csvSource struct {
	file     *os.File
	reader   *csv.Reader
	emailCol int
	typeCol  int
}

// newCSVSource locates the email and type columns by header name, so extra
// columns in the dataset are ignored
func newCSVSource(file *os.File, logger *zap.Logger) (*csvSource, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	logger.Info("CSV header detected", zap.Strings("columns", header))

	src := &csvSource{file: file, reader: reader, emailCol: -1, typeCol: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "email":
			src.emailCol = i
		case "type":
			src.typeCol = i
		}
	}
	if src.emailCol < 0 {
		return nil, fmt.Errorf("CSV header has no email column: %v", header)
	}
	return src, nil
}

func (s *csvSource) Next() (*InputRecord, error) {
	row, err := s.reader.Read()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		return nil, err
	}

	if s.emailCol >= len(row) {
		return nil, fmt.Errorf("%w: line has %d fields", errMalformed, len(row))
	}
	record := &InputRecord{Email: row[s.emailCol]}
	if s.typeCol >= 0 && s.typeCol < len(row) {
		record.Type = strings.TrimSpace(row[s.typeCol])
	}
	return record, nil
}

func (s *csvSource) Close() error {
	return s.file.Close()
}

type parquetSource struct {
	file   *os.File
	reader *parquet.Reader
}

func (s *parquetSource) Next() (*InputRecord, error) {
	var record InputRecord
	if err := s.reader.Read(&record); err != nil {
		return nil, err
	}
	record.Type = strings.TrimSpace(record.Type)
	return &record, nil
}

func (s *parquetSource) Close() error {
	s.reader.Close()
	return s.file.Close()
}

// jsonSource reads one JSON object per line; blank lines are ignored
type jsonSource struct {
	file    *os.File
	scanner *bufio.Scanner
}

func (s *jsonSource) Next() (*InputRecord, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var record InputRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("%w: %v", errMalformed, err)
		}
		record.Type = strings.TrimSpace(record.Type)
		return &record, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *jsonSource) Close() error {
	return s.file.Close()
}
