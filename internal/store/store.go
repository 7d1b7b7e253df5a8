package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store persists classification audit events in PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// NewStore connects to the database and ensures the schema exists
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the connection and migrates the events table
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := migrateUp(s.db, s.logger); err != nil {
		return err
	}

	return nil
}

// Insert records a classification event
func (s *Store) Insert(ctx context.Context, event *ClassificationEvent) error {
	query := `
		INSERT INTO classification_events (request_id, text_hash, label, entity_counts, masked_length, cache_hit)
		VALUES (:request_id, :text_hash, :label, :entity_counts, :masked_length, :cache_hit)
		RETURNING id, created_at`

	rows, err := s.db.NamedQueryContext(ctx, query, event)
	if err != nil {
		s.logger.Error("Failed to insert classification event",
			zap.Error(err),
			zap.String("request_id", event.RequestID),
			zap.String("label", event.Label))
		return fmt.Errorf("failed to insert classification event: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&event.ID, &event.CreatedAt); err != nil {
			return fmt.Errorf("failed to read inserted event: %w", err)
		}
	}

	s.logger.Debug("Classification event recorded",
		zap.Int64("id", event.ID),
		zap.String("label", event.Label))

	return rows.Err()
}

// Recent returns the newest events, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]ClassificationEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []ClassificationEvent
	query := `
		SELECT id, request_id, text_hash, label, entity_counts, masked_length, cache_hit, created_at
		FROM classification_events
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list classification events: %w", err)
	}
	return events, nil
}

// GetStats returns audit log statistics
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN cache_hit THEN 1 END) AS cache_hits
		FROM classification_events`

	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalEvents, &stats.CacheHitEvents); err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}

	entityQuery := `
		SELECT COALESCE(SUM(value::int), 0)
		FROM classification_events, jsonb_each_text(entity_counts)`

	if err := s.db.GetContext(ctx, &stats.TotalEntities, entityQuery); err != nil {
		s.logger.Warn("Failed to get entity totals", zap.Error(err))
	}

	labelQuery := `
		SELECT label, COUNT(*) AS count
		FROM classification_events
		GROUP BY label
		ORDER BY count DESC, label`

	if err := s.db.SelectContext(ctx, &stats.ByLabel, labelQuery); err != nil {
		return nil, fmt.Errorf("failed to get label stats: %w", err)
	}

	return stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || !strings.Contains(userPart[:colon], "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
