package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ClassificationEvent is one audited classification. It carries a hash of
// the masked text and per-category counts, never email content.
type ClassificationEvent struct {
	ID           int64        `db:"id" json:"id"`
	RequestID    string       `db:"request_id" json:"request_id"`
	TextHash     string       `db:"text_hash" json:"text_hash"`
	Label        string       `db:"label" json:"label"`
	EntityCounts EntityCounts `db:"entity_counts" json:"entity_counts"`
	MaskedLength int          `db:"masked_length" json:"masked_length"`
	CacheHit     bool         `db:"cache_hit" json:"cache_hit"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// EntityCounts maps a PII category to the number of masked entities,
// stored as jsonb
type EntityCounts map[string]int

// Value implements driver.Valuer
func (c EntityCounts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *EntityCounts) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = EntityCounts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported entity_counts type %T", src)
	}
	counts := EntityCounts{}
	if err := json.Unmarshal(data, &counts); err != nil {
		return fmt.Errorf("failed to decode entity_counts: %w", err)
	}
	*c = counts
	return nil
}

// LabelCount is the number of events recorded for one label
type LabelCount struct {
	Label string `db:"label" json:"label"`
	Count int64  `db:"count" json:"count"`
}

// Stats represents audit log statistics
type Stats struct {
	TotalEvents    int64        `json:"total_events"`
	TotalEntities  int64        `json:"total_entities"`
	CacheHitEvents int64        `json:"cache_hit_events"`
	ByLabel        []LabelCount `json:"by_label"`
}
