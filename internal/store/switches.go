package store

import (
	"context"
	"time"

	"github.com/shizukutanaka/Banto/internal/profit"
)

// SwitchRepository persists algorithm switch decisions
type SwitchRepository struct {
	store *Store
}

// Save records one applied switch
func (r *SwitchRepository) Save(ctx context.Context, record profit.SwitchRecord) error {
	query := `INSERT INTO switches (timestamp, from_algorithm, to_algorithm, reason) VALUES (?, ?, ?, ?)`
	if r.store.driver == "postgres" {
		query = `INSERT INTO switches (timestamp, from_algorithm, to_algorithm, reason) VALUES ($1, $2, $3, $4)`
	}
	_, err := r.store.exec(ctx, query, record.Time, record.From, record.To, record.Reason)
	return err
}

// List returns up to limit switches, most recent first
func (r *SwitchRepository) List(ctx context.Context, limit int) ([]profit.SwitchRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT timestamp, from_algorithm, to_algorithm, reason FROM switches ORDER BY timestamp DESC LIMIT ?`
	if r.store.driver == "postgres" {
		query = `SELECT timestamp, from_algorithm, to_algorithm, reason FROM switches ORDER BY timestamp DESC LIMIT $1`
	}

	rows, err := r.store.query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []profit.SwitchRecord
	for rows.Next() {
		var record profit.SwitchRecord
		if err := rows.Scan(&record.Time, &record.From, &record.To, &record.Reason); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Prune deletes switches older than the cutoff
func (r *SwitchRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM switches WHERE timestamp < ?`
	if r.store.driver == "postgres" {
		query = `DELETE FROM switches WHERE timestamp < $1`
	}
	result, err := r.store.exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
