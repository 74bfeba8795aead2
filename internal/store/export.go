package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/monitoring"
	"github.com/shizukutanaka/Banto/internal/profit"
)

// exportLimit caps how many rows per table an export carries
const exportLimit = 10000

// ExportDocument is the gzip-wrapped JSON payload produced by Export
type ExportDocument struct {
	ExportedAt time.Time               `json:"exported_at"`
	Switches   []profit.SwitchRecord   `json:"switches"`
	Alerts     []monitoring.Alert      `json:"alerts"`
	Errors     []monitoring.ErrorEvent `json:"errors"`
	Samples    []metrics.Snapshot      `json:"samples"`
}

// Export writes the recent history of every table as gzip-compressed JSON
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	doc := ExportDocument{ExportedAt: time.Now()}

	var err error
	if doc.Switches, err = s.Switches.List(ctx, exportLimit); err != nil {
		return fmt.Errorf("export switches: %w", err)
	}
	if doc.Alerts, err = s.Alerts.List(ctx, "", exportLimit); err != nil {
		return fmt.Errorf("export alerts: %w", err)
	}
	if doc.Errors, err = s.Errors.List(ctx, exportLimit); err != nil {
		return fmt.Errorf("export errors: %w", err)
	}
	if doc.Samples, err = s.Samples.History(ctx, time.Time{}, exportLimit); err != nil {
		return fmt.Errorf("export samples: %w", err)
	}

	gz, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("open gzip writer: %w", err)
	}
	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		gz.Close()
		return fmt.Errorf("encode export: %w", err)
	}
	return gz.Close()
}
