package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/monitoring"
)

// ErrorRepository persists handled errors and their recovery outcomes
type ErrorRepository struct {
	store *Store
}

// Save inserts or updates one error event
func (r *ErrorRepository) Save(ctx context.Context, event *monitoring.ErrorEvent) error {
	query := `INSERT INTO error_events (event_id, timestamp, severity, component, message, trace, recovery_attempts, resolved, resolved_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			recovery_attempts = excluded.recovery_attempts,
			resolved = excluded.resolved,
			resolved_by = excluded.resolved_by`
	if r.store.driver == "postgres" {
		query = `INSERT INTO error_events (event_id, timestamp, severity, component, message, trace, recovery_attempts, resolved, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT(event_id) DO UPDATE SET
			recovery_attempts = excluded.recovery_attempts,
			resolved = excluded.resolved,
			resolved_by = excluded.resolved_by`
	}

	_, err := r.store.exec(ctx, query,
		event.ID,
		event.Timestamp,
		string(event.Severity),
		event.Component,
		event.Message,
		event.Trace,
		event.RecoveryAttempts,
		event.Resolved,
		event.ResolvedBy,
	)
	return err
}

// List returns up to limit error events, most recent first
func (r *ErrorRepository) List(ctx context.Context, limit int) ([]monitoring.ErrorEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT event_id, timestamp, severity, component, message, trace, recovery_attempts, resolved, resolved_by
		FROM error_events ORDER BY timestamp DESC LIMIT ?`
	if r.store.driver == "postgres" {
		query = `SELECT event_id, timestamp, severity, component, message, trace, recovery_attempts, resolved, resolved_by
		FROM error_events ORDER BY timestamp DESC LIMIT $1`
	}

	rows, err := r.store.query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []monitoring.ErrorEvent
	for rows.Next() {
		var (
			event    monitoring.ErrorEvent
			severity string
			trace    sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.Timestamp, &severity, &event.Component,
			&event.Message, &trace, &event.RecoveryAttempts, &event.Resolved, &event.ResolvedBy); err != nil {
			return nil, err
		}
		event.Severity = engine.Severity(severity)
		event.Trace = trace.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// Prune deletes error events older than the cutoff
func (r *ErrorRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM error_events WHERE timestamp < ?`
	if r.store.driver == "postgres" {
		query = `DELETE FROM error_events WHERE timestamp < $1`
	}
	result, err := r.store.exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
