// Package store persists controller history in SQLite or PostgreSQL:
// algorithm switches, the alert trail, handled errors, and sampled metrics.
// Repositories hang off the Store and share one pooled connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

// defaultListLimit bounds list queries when the caller passes no limit
const defaultListLimit = 100

// Config represents history store configuration
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Retention       time.Duration `yaml:"retention"`
	SlowQuery       time.Duration `yaml:"slow_query"`
}

// DefaultConfig returns the store settings used when no configuration file
// overrides them.
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite3",
		DSN:             "banto.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Retention:       7 * 24 * time.Hour,
		SlowQuery:       100 * time.Millisecond,
	}
}

// Store is the history database with its repositories
type Store struct {
	logger *zap.Logger
	db     *sql.DB
	driver string
	config Config

	Switches *SwitchRepository
	Alerts   *AlertRepository
	Errors   *ErrorRepository
	Samples  *SampleRepository
}

// New opens the database, initializes the schema, and builds the
// repositories.
func New(logger *zap.Logger, config Config) (*Store, error) {
	defaults := DefaultConfig()
	if config.Driver == "" {
		config.Driver = defaults.Driver
	}
	if config.DSN == "" {
		config.DSN = defaults.DSN
	}
	if config.SlowQuery <= 0 {
		config.SlowQuery = defaults.SlowQuery
	}

	driver := config.Driver
	switch driver {
	case "sqlite", "sqlite3":
		driver = "sqlite3"
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaults.MaxOpenConns
	}
	// Every pooled connection to an in-memory SQLite database sees its own
	// empty database, so the pool must collapse to one connection.
	if driver == "sqlite3" && strings.Contains(config.DSN, ":memory:") {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(defaults.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(defaults.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		logger: logger.Named("store"),
		db:     db,
		driver: driver,
		config: config,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s.Switches = &SwitchRepository{store: s}
	s.Alerts = &AlertRepository{store: s}
	s.Errors = &ErrorRepository{store: s}
	s.Samples = &SampleRepository{store: s}

	s.logger.Info("History store opened",
		zap.String("driver", driver),
		zap.Int("max_open_conns", maxOpen),
	)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Retention returns the configured history retention window
func (s *Store) Retention() time.Duration {
	if s.config.Retention > 0 {
		return s.config.Retention
	}
	return DefaultConfig().Retention
}

// Prune deletes rows older than the cutoff from every table and returns
// the deleted count per table.
func (s *Store) Prune(ctx context.Context, before time.Time) (map[string]int64, error) {
	counts := make(map[string]int64, 4)

	n, err := s.Switches.Prune(ctx, before)
	if err != nil {
		return counts, err
	}
	counts["switches"] = n

	if n, err = s.Alerts.Prune(ctx, before); err != nil {
		return counts, err
	}
	counts["alerts"] = n

	if n, err = s.Errors.Prune(ctx, before); err != nil {
		return counts, err
	}
	counts["error_events"] = n

	if n, err = s.Samples.Prune(ctx, before); err != nil {
		return counts, err
	}
	counts["metrics_samples"] = n

	return counts, nil
}

// GetStats returns connection pool statistics
func (s *Store) GetStats() map[string]interface{} {
	stats := s.db.Stats()
	return map[string]interface{}{
		"driver":           s.driver,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
	}
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := s.db.ExecContext(ctx, query, args...)
	if d := time.Since(start); d > s.config.SlowQuery {
		s.logger.Warn("Slow query", zap.String("query", query), zap.Duration("duration", d))
	}
	return result, err
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if d := time.Since(start); d > s.config.SlowQuery {
		s.logger.Warn("Slow query", zap.String("query", query), zap.Duration("duration", d))
	}
	return rows, err
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var schema []string
	switch s.driver {
	case "sqlite3":
		schema = sqliteSchema
	case "postgres":
		schema = postgresSchema
	default:
		return fmt.Errorf("unsupported driver for schema initialization: %s", s.driver)
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	// Algorithm switch decisions
	`CREATE TABLE IF NOT EXISTS switches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		from_algorithm TEXT NOT NULL,
		to_algorithm TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_switches_timestamp ON switches(timestamp)`,

	// Alert trail, upserted on every state change
	`CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		alert_id TEXT UNIQUE NOT NULL,
		rule TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,

	// Handled errors with recovery outcomes
	`CREATE TABLE IF NOT EXISTS error_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT UNIQUE NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		severity TEXT NOT NULL,
		component TEXT NOT NULL,
		message TEXT NOT NULL,
		trace TEXT,
		recovery_attempts INTEGER NOT NULL DEFAULT 0,
		resolved BOOLEAN NOT NULL DEFAULT false,
		resolved_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_error_events_timestamp ON error_events(timestamp)`,

	// Sampled metrics history
	`CREATE TABLE IF NOT EXISTS metrics_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		cpu_percent REAL NOT NULL DEFAULT 0,
		memory_percent REAL NOT NULL DEFAULT 0,
		memory_used INTEGER NOT NULL DEFAULT 0,
		memory_total INTEGER NOT NULL DEFAULT 0,
		disk_percent REAL NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0,
		power_watts REAL NOT NULL DEFAULT 0,
		hashrate REAL NOT NULL DEFAULT 0,
		threads INTEGER NOT NULL DEFAULT 0,
		intensity REAL NOT NULL DEFAULT 0,
		algorithm TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_samples_timestamp ON metrics_samples(timestamp)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS switches (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		from_algorithm TEXT NOT NULL,
		to_algorithm TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_switches_timestamp ON switches(timestamp)`,

	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		alert_id TEXT UNIQUE NOT NULL,
		rule TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ,
		metadata TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,

	`CREATE TABLE IF NOT EXISTS error_events (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT UNIQUE NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		severity TEXT NOT NULL,
		component TEXT NOT NULL,
		message TEXT NOT NULL,
		trace TEXT,
		recovery_attempts INTEGER NOT NULL DEFAULT 0,
		resolved BOOLEAN NOT NULL DEFAULT false,
		resolved_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_error_events_timestamp ON error_events(timestamp)`,

	`CREATE TABLE IF NOT EXISTS metrics_samples (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		cpu_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		memory_used BIGINT NOT NULL DEFAULT 0,
		memory_total BIGINT NOT NULL DEFAULT 0,
		disk_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		power_watts DOUBLE PRECISION NOT NULL DEFAULT 0,
		hashrate DOUBLE PRECISION NOT NULL DEFAULT 0,
		threads INTEGER NOT NULL DEFAULT 0,
		intensity DOUBLE PRECISION NOT NULL DEFAULT 0,
		algorithm TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_samples_timestamp ON metrics_samples(timestamp)`,
}
