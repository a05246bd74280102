package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

type fakeQuerier struct {
	records    []plate.Record
	lastFilter plate.QueryFilter
}

func (f *fakeQuerier) Query(_ context.Context, filter plate.QueryFilter) ([]plate.Record, error) {
	f.lastFilter = filter
	return f.records, nil
}

func sampleRecords() []plate.Record {
	return []plate.Record{
		{ID: 1, PlateText: "ABC-1234", Confidence: 0.86, SourceID: "cam1",
			FirstSeen: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)},
		{ID: 2, PlateText: "XYZ-9876", Confidence: 0.72, SourceID: "cam2",
			FirstSeen: time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)},
	}
}

func TestExportCSV(t *testing.T) {
	q := &fakeQuerier{records: sampleRecords()}
	e := NewExporter(q, config.ExportConfig{Dir: t.TempDir(), MaxRecords: 100}, zerolog.Nop())

	path, err := e.Export(context.Background(), plate.QueryFilter{}, FormatCSV)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "plate_text", rows[0][1])
	assert.Equal(t, "ABC-1234", rows[1][1])
	assert.Equal(t, "0.8600", rows[1][2])
	assert.Equal(t, "2026-08-30T11:00:00Z", rows[2][4])
}

func TestExportJSON(t *testing.T) {
	q := &fakeQuerier{records: sampleRecords()}
	e := NewExporter(q, config.ExportConfig{Dir: t.TempDir(), MaxRecords: 100}, zerolog.Nop())

	path, err := e.Export(context.Background(), plate.QueryFilter{}, FormatJSON)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []plate.Record
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "XYZ-9876", got[1].PlateText)
}

func TestExportCapsLimit(t *testing.T) {
	q := &fakeQuerier{}
	e := NewExporter(q, config.ExportConfig{Dir: t.TempDir(), MaxRecords: 10}, zerolog.Nop())

	_, err := e.Export(context.Background(), plate.QueryFilter{Limit: 5000}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 10, q.lastFilter.Limit)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	e := NewExporter(&fakeQuerier{}, config.ExportConfig{Dir: t.TempDir(), MaxRecords: 10}, zerolog.Nop())

	_, err := e.Export(context.Background(), plate.QueryFilter{}, Format("xml"))
	assert.Error(t, err)
}
