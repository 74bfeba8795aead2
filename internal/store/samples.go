package store

import (
	"context"
	"time"

	"github.com/shizukutanaka/Banto/internal/metrics"
)

// SampleRepository persists sampled metrics for history charts and export
type SampleRepository struct {
	store *Store
}

// Save records one metrics sample
func (r *SampleRepository) Save(ctx context.Context, snap *metrics.Snapshot) error {
	if snap == nil {
		return nil
	}
	query := `INSERT INTO metrics_samples
		(timestamp, cpu_percent, memory_percent, memory_used, memory_total, disk_percent, temperature, power_watts, hashrate, threads, intensity, algorithm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if r.store.driver == "postgres" {
		query = `INSERT INTO metrics_samples
		(timestamp, cpu_percent, memory_percent, memory_used, memory_total, disk_percent, temperature, power_watts, hashrate, threads, intensity, algorithm)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	}

	_, err := r.store.exec(ctx, query,
		snap.Timestamp,
		snap.CPUPercent,
		snap.MemoryPercent,
		int64(snap.MemoryUsed),
		int64(snap.MemoryTotal),
		snap.DiskPercent,
		snap.Temperature,
		snap.PowerDraw,
		snap.Hashrate,
		snap.Threads,
		snap.Intensity,
		snap.CurrentAlgorithm,
	)
	return err
}

// History returns samples at or after since in chronological order, up to
// limit rows.
func (r *SampleRepository) History(ctx context.Context, since time.Time, limit int) ([]metrics.Snapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT timestamp, cpu_percent, memory_percent, memory_used, memory_total, disk_percent, temperature, power_watts, hashrate, threads, intensity, algorithm
		FROM metrics_samples WHERE timestamp >= ? ORDER BY timestamp ASC LIMIT ?`
	if r.store.driver == "postgres" {
		query = `SELECT timestamp, cpu_percent, memory_percent, memory_used, memory_total, disk_percent, temperature, power_watts, hashrate, threads, intensity, algorithm
		FROM metrics_samples WHERE timestamp >= $1 ORDER BY timestamp ASC LIMIT $2`
	}

	rows, err := r.store.query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []metrics.Snapshot
	for rows.Next() {
		var (
			snap        metrics.Snapshot
			memoryUsed  int64
			memoryTotal int64
		)
		if err := rows.Scan(&snap.Timestamp, &snap.CPUPercent, &snap.MemoryPercent,
			&memoryUsed, &memoryTotal, &snap.DiskPercent, &snap.Temperature, &snap.PowerDraw,
			&snap.Hashrate, &snap.Threads, &snap.Intensity, &snap.CurrentAlgorithm); err != nil {
			return nil, err
		}
		snap.MemoryUsed = uint64(memoryUsed)
		snap.MemoryTotal = uint64(memoryTotal)
		samples = append(samples, snap)
	}
	return samples, rows.Err()
}

// Prune deletes samples older than the cutoff
func (r *SampleRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM metrics_samples WHERE timestamp < ?`
	if r.store.driver == "postgres" {
		query = `DELETE FROM metrics_samples WHERE timestamp < $1`
	}
	result, err := r.store.exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
