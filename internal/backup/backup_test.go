package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

type fakeSource struct {
	records []plate.Record
	err     error
}

func (f *fakeSource) All(context.Context) ([]plate.Record, error) {
	return f.records, f.err
}

func newManager(t *testing.T, src Source, maxBackups int) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(src, config.BackupConfig{Dir: dir, MaxBackups: maxBackups}, zerolog.Nop())
	return m, dir
}

func TestRunWritesSnapshot(t *testing.T) {
	src := &fakeSource{records: []plate.Record{
		{ID: 1, PlateText: "ABC-1234", Confidence: 0.86, SourceID: "cam1", FirstSeen: time.Now()},
	}}
	m, _ := newManager(t, src, 5)

	path, err := m.Run(context.Background(), time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, m.Degraded())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.Count)
	assert.Equal(t, "ABC-1234", snap.Records[0].PlateText)
}

func TestRunRotatesOldestFirst(t *testing.T) {
	src := &fakeSource{}
	m, dir := newManager(t, src, 2)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, err := m.Run(context.Background(), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "backup_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// the two newest snapshots survive
	assert.Contains(t, matches[0], "backup_20260830_140000.json")
	assert.Contains(t, matches[1], "backup_20260830_150000.json")
}

func TestRunFailureFlipsDegraded(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	m, _ := newManager(t, src, 5)

	_, err := m.Run(context.Background(), time.Now())
	assert.Error(t, err)
	assert.True(t, m.Degraded())

	// next successful run clears the flag
	src.err = nil
	_, err = m.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, m.Degraded())
}
