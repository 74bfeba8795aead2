package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/monitoring"
)

// AlertRepository persists the alert trail. Alerts are upserted by their ID
// so the firing, refresh, acknowledge, and resolve transitions of one alert
// land in a single row.
type AlertRepository struct {
	store *Store
}

// Save inserts or updates one alert
func (r *AlertRepository) Save(ctx context.Context, alert *monitoring.Alert) error {
	var metadata []byte
	if len(alert.Metadata) > 0 {
		metadata, _ = json.Marshal(alert.Metadata)
	}
	var resolvedAt interface{}
	if alert.ResolvedAt != nil {
		resolvedAt = *alert.ResolvedAt
	}

	query := `INSERT INTO alerts (alert_id, rule, title, message, severity, status, component, created_at, resolved_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(alert_id) DO UPDATE SET
			message = excluded.message,
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			metadata = excluded.metadata`
	if r.store.driver == "postgres" {
		query = `INSERT INTO alerts (alert_id, rule, title, message, severity, status, component, created_at, resolved_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(alert_id) DO UPDATE SET
			message = excluded.message,
			status = excluded.status,
			resolved_at = excluded.resolved_at,
			metadata = excluded.metadata`
	}

	_, err := r.store.exec(ctx, query,
		alert.ID,
		alert.Rule,
		alert.Title,
		alert.Message,
		string(alert.Severity),
		string(alert.Status),
		alert.Component,
		alert.CreatedAt,
		resolvedAt,
		metadata,
	)
	return err
}

// List returns up to limit alerts, most recent first. An empty status
// returns every state.
func (r *AlertRepository) List(ctx context.Context, status string, limit int) ([]monitoring.Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT alert_id, rule, title, message, severity, status, component, created_at, resolved_at, metadata
		FROM alerts ORDER BY created_at DESC LIMIT ?`
	args := []interface{}{limit}
	if status != "" {
		query = `SELECT alert_id, rule, title, message, severity, status, component, created_at, resolved_at, metadata
		FROM alerts WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{status, limit}
	}
	if r.store.driver == "postgres" {
		query = `SELECT alert_id, rule, title, message, severity, status, component, created_at, resolved_at, metadata
		FROM alerts ORDER BY created_at DESC LIMIT $1`
		if status != "" {
			query = `SELECT alert_id, rule, title, message, severity, status, component, created_at, resolved_at, metadata
		FROM alerts WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		}
	}

	rows, err := r.store.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []monitoring.Alert
	for rows.Next() {
		var (
			alert      monitoring.Alert
			severity   string
			state      string
			resolvedAt sql.NullTime
			metadata   sql.NullString
		)
		if err := rows.Scan(&alert.ID, &alert.Rule, &alert.Title, &alert.Message,
			&severity, &state, &alert.Component, &alert.CreatedAt, &resolvedAt, &metadata); err != nil {
			return nil, err
		}
		alert.Severity = engine.Severity(severity)
		alert.Status = monitoring.AlertStatus(state)
		if resolvedAt.Valid {
			ts := resolvedAt.Time
			alert.ResolvedAt = &ts
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &alert.Metadata)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// Prune deletes alerts created before the cutoff
func (r *AlertRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM alerts WHERE created_at < ?`
	if r.store.driver == "postgres" {
		query = `DELETE FROM alerts WHERE created_at < $1`
	}
	result, err := r.store.exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
