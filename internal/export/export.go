// Package export writes query results to CSV or JSON files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Querier supplies the records to export.
type Querier interface {
	Query(ctx context.Context, filter plate.QueryFilter) ([]plate.Record, error)
}

type Exporter struct {
	querier    Querier
	dir        string
	maxRecords int
	log        zerolog.Logger
}

func NewExporter(querier Querier, cfg config.ExportConfig, log zerolog.Logger) *Exporter {
	return &Exporter{
		querier:    querier,
		dir:        cfg.Dir,
		maxRecords: cfg.MaxRecords,
		log:        log,
	}
}

// Export writes records matching the filter to a timestamped file in
// the export directory and returns its path.
func (e *Exporter) Export(ctx context.Context, filter plate.QueryFilter, format Format) (string, error) {
	if format != FormatCSV && format != FormatJSON {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if filter.Limit <= 0 || filter.Limit > e.maxRecords {
		filter.Limit = e.maxRecords
	}

	records, err := e.querier.Query(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("query records for export: %w", err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("plate_records_%s.%s", time.Now().UTC().Format("20060102_150405"), format)
	path := filepath.Join(e.dir, name)

	switch format {
	case FormatCSV:
		err = writeCSV(path, records)
	case FormatJSON:
		err = writeJSON(path, records)
	}
	if err != nil {
		return "", err
	}

	e.log.Info().Str("path", path).Int("records", len(records)).Msg("exported records")
	return path, nil
}

func writeCSV(path string, records []plate.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "plate_text", "confidence", "source_id", "first_seen", "image_path"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			rec.PlateText,
			strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
			rec.SourceID,
			rec.FirstSeen.UTC().Format(time.RFC3339),
			rec.ImagePath,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, records []plate.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
