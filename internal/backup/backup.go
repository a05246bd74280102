// Package backup writes rotating JSON snapshots of the record store.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

// Source provides the records to snapshot.
type Source interface {
	All(ctx context.Context) ([]plate.Record, error)
}

type snapshot struct {
	TakenAt time.Time      `json:"taken_at"`
	Count   int            `json:"count"`
	Records []plate.Record `json:"records"`
}

type Manager struct {
	source     Source
	dir        string
	maxBackups int
	log        zerolog.Logger
	degraded   atomic.Bool
}

func NewManager(source Source, cfg config.BackupConfig, log zerolog.Logger) *Manager {
	return &Manager{
		source:     source,
		dir:        cfg.Dir,
		maxBackups: cfg.MaxBackups,
		log:        log,
	}
}

// Run snapshots the store to a timestamped file and rotates old
// snapshots out. Failures flip the degraded flag but the store keeps
// operating un-backed-up.
func (m *Manager) Run(ctx context.Context, now time.Time) (string, error) {
	path, err := m.snapshot(ctx, now)
	if err != nil {
		m.degraded.Store(true)
		m.log.Error().Err(err).Msg("backup failed, store running un-backed-up")
		return "", err
	}
	m.degraded.Store(false)
	m.log.Info().Str("path", path).Msg("backup written")

	if err := m.rotate(); err != nil {
		m.log.Warn().Err(err).Msg("backup rotation failed")
	}
	return path, nil
}

// Degraded reports whether the most recent backup attempt failed.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

func (m *Manager) snapshot(ctx context.Context, now time.Time) (string, error) {
	records, err := m.source.All(ctx)
	if err != nil {
		return "", fmt.Errorf("load records for backup: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("backup_%s.json", now.UTC().Format("20060102_150405"))
	path := filepath.Join(m.dir, name)

	data, err := json.MarshalIndent(snapshot{TakenAt: now.UTC(), Count: len(records), Records: records}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize backup: %w", err)
	}
	return path, nil
}

// rotate keeps the newest maxBackups snapshots, deleting the rest.
// Timestamped names sort lexicographically, oldest first.
func (m *Manager) rotate() error {
	matches, err := filepath.Glob(filepath.Join(m.dir, "backup_*.json"))
	if err != nil {
		return err
	}
	if len(matches) <= m.maxBackups {
		return nil
	}
	sort.Strings(matches)
	for _, stale := range matches[:len(matches)-m.maxBackups] {
		if err := os.Remove(stale); err != nil {
			return err
		}
		m.log.Debug().Str("path", stale).Msg("rotated out old backup")
	}
	return nil
}
