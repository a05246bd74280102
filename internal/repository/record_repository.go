package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lpr-service/internal/config"
	"lpr-service/internal/domain/plate"
)

var ErrStorageFault = errors.New("storage fault")

// PlateRecord is the persisted row. IDs are assigned by the repository
// so buffered inserts report a stable id before the batch is flushed.
type PlateRecord struct {
	ID         int64          `gorm:"primaryKey"`
	PlateText  string         `gorm:"not null"`
	Confidence float64        `gorm:"not null"`
	SourceID   string         `gorm:"not null"`
	FirstSeen  time.Time      `gorm:"not null;index"`
	ImagePath  *string
	RawPayload datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

// RecordRepository buffers inserts and flushes them in batches,
// enforcing the capacity cap by evicting oldest-first.
type RecordRepository struct {
	db             *gorm.DB
	log            zerolog.Logger
	maxRecords     int
	retentionDays  int
	batchSize      int
	storageTimeout time.Duration

	mu     sync.Mutex
	buf    []PlateRecord
	nextID int64

	// flushMu serializes batch writes without blocking the buffer:
	// inserts from other sources keep appending while a slow write
	// is in flight.
	flushMu sync.Mutex

	consecutiveFaults atomic.Int64
}

func NewRecordRepository(db *gorm.DB, cfg config.StoreConfig, log zerolog.Logger) (*RecordRepository, error) {
	r := &RecordRepository{
		db:             db,
		log:            log,
		maxRecords:     cfg.MaxRecords,
		retentionDays:  cfg.RetentionDays,
		batchSize:      cfg.BatchSize,
		storageTimeout: cfg.StorageTimeout,
	}

	var maxID int64
	err := db.Model(&PlateRecord{}).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error
	if err != nil {
		return nil, fmt.Errorf("seed record id counter: %w", err)
	}
	r.nextID = maxID
	return r, nil
}

// Insert buffers one accepted record and assigns its id. The buffer is
// flushed synchronously once it reaches the batch size; a flush error
// is returned to the triggering caller.
func (r *RecordRepository) Insert(ctx context.Context, rec *plate.Record) (int64, error) {
	row := PlateRecord{
		PlateText:  rec.PlateText,
		Confidence: rec.Confidence,
		SourceID:   rec.SourceID,
		FirstSeen:  rec.FirstSeen,
		CreatedAt:  time.Now(),
	}
	if rec.ImagePath != "" {
		row.ImagePath = &rec.ImagePath
	}
	if len(rec.RawPayload) > 0 {
		payload, err := json.Marshal(rec.RawPayload)
		if err != nil {
			return 0, fmt.Errorf("marshal raw payload: %w", err)
		}
		row.RawPayload = payload
	}

	r.mu.Lock()
	r.nextID++
	row.ID = r.nextID
	r.buf = append(r.buf, row)
	rec.ID = row.ID

	var batch []PlateRecord
	if len(r.buf) >= r.batchSize {
		batch = r.buf
		r.buf = nil
	}
	r.mu.Unlock()

	if batch != nil {
		if err := r.flushBatch(ctx, batch); err != nil {
			return 0, err
		}
	}
	return row.ID, nil
}

// Flush writes all buffered records immediately. Forced by the caller
// on demand and before shutdown.
func (r *RecordRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return r.flushBatch(ctx, batch)
}

// flushBatch writes one detached batch with one immediate retry. On a
// second failure the batch is dropped and the fault reported; the
// medium itself failed and silently re-queueing would desynchronize
// callers that already saw an error. The buffer lock is not held here,
// so concurrent inserts proceed while the write is in flight.
func (r *RecordRepository) flushBatch(ctx context.Context, batch []PlateRecord) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	err := r.writeBatch(ctx, batch)
	if err != nil {
		r.log.Warn().Err(err).Int("batch", len(batch)).Msg("batch insert failed, retrying once")
		err = r.writeBatch(ctx, batch)
	}
	if err != nil {
		r.consecutiveFaults.Add(1)
		r.log.Error().Err(err).Int("dropped", len(batch)).Msg("batch insert failed after retry")
		return fmt.Errorf("%w: %v", ErrStorageFault, err)
	}

	r.consecutiveFaults.Store(0)
	r.log.Debug().Int("batch", len(batch)).Msg("flushed record batch")

	// the batch itself is durable at this point; an eviction failure
	// must not surface as a storage fault to the triggering caller
	if err := r.evictOverCapacity(ctx); err != nil {
		r.log.Warn().Err(err).Msg("capacity eviction failed, retrying on next flush")
	}
	return nil
}

func (r *RecordRepository) writeBatch(ctx context.Context, batch []PlateRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.storageTimeout)
	defer cancel()
	return r.db.WithContext(ctx).Create(&batch).Error
}

// evictOverCapacity removes the oldest records by first-seen until the
// live count is back at maxRecords.
func (r *RecordRepository) evictOverCapacity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.storageTimeout)
	defer cancel()

	var count int64
	if err := r.db.WithContext(ctx).Model(&PlateRecord{}).Count(&count).Error; err != nil {
		return fmt.Errorf("%w: count records: %v", ErrStorageFault, err)
	}
	excess := count - int64(r.maxRecords)
	if excess <= 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM plate_records WHERE id IN (
			SELECT id FROM plate_records ORDER BY first_seen ASC, id ASC LIMIT ?
		)`, excess)
	if res.Error != nil {
		return fmt.Errorf("%w: evict over capacity: %v", ErrStorageFault, res.Error)
	}
	r.log.Info().Int64("evicted", res.RowsAffected).Msg("evicted oldest records over capacity")
	return nil
}

// Query returns persisted records matching the filter, newest first.
// Buffered records are flushed first so queries see accepted inserts.
func (r *RecordRepository) Query(ctx context.Context, filter plate.QueryFilter) ([]plate.Record, error) {
	if err := r.Flush(ctx); err != nil {
		return nil, err
	}

	q := r.db.WithContext(ctx).Model(&PlateRecord{})
	if filter.PlateText != nil {
		q = q.Where("plate_text = ?", *filter.PlateText)
	}
	if filter.SourceID != nil {
		q = q.Where("source_id = ?", *filter.SourceID)
	}
	if filter.From != nil {
		q = q.Where("first_seen >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("first_seen <= ?", *filter.To)
	}
	q = q.Order("first_seen DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	q = q.Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []PlateRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: query records: %v", ErrStorageFault, err)
	}

	records := make([]plate.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// All streams every persisted record in ascending first-seen order,
// used by backup snapshots and exports.
func (r *RecordRepository) All(ctx context.Context) ([]plate.Record, error) {
	if err := r.Flush(ctx); err != nil {
		return nil, err
	}
	var rows []PlateRecord
	err := r.db.WithContext(ctx).Order("first_seen ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: load records: %v", ErrStorageFault, err)
	}
	records := make([]plate.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

// PurgeExpired removes records older than the retention window.
// Idempotent: a second run with no new data removes nothing.
func (r *RecordRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -r.retentionDays)
	res := r.db.WithContext(ctx).Where("first_seen < ?", cutoff).Delete(&PlateRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: purge expired: %v", ErrStorageFault, res.Error)
	}
	if res.RowsAffected > 0 {
		r.log.Info().Int64("purged", res.RowsAffected).Time("cutoff", cutoff).Msg("retention sweep removed records")
	}
	return res.RowsAffected, nil
}

// PurgeAll removes every record, including buffered ones. Operator
// action only.
func (r *RecordRepository) PurgeAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	r.buf = r.buf[:0]
	r.mu.Unlock()

	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&PlateRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: purge all: %v", ErrStorageFault, res.Error)
	}
	r.log.Info().Int64("purged", res.RowsAffected).Msg("purged all records")
	return res.RowsAffected, nil
}

func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&PlateRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: count records: %v", ErrStorageFault, err)
	}
	r.mu.Lock()
	count += int64(len(r.buf))
	r.mu.Unlock()
	return count, nil
}

// ConsecutiveFaults reports how many flushes in a row have failed,
// surfaced as a degraded-health signal.
func (r *RecordRepository) ConsecutiveFaults() int64 {
	return r.consecutiveFaults.Load()
}

func (row PlateRecord) toDomain() plate.Record {
	rec := plate.Record{
		ID:         row.ID,
		PlateText:  row.PlateText,
		Confidence: row.Confidence,
		SourceID:   row.SourceID,
		FirstSeen:  row.FirstSeen,
	}
	if row.ImagePath != nil {
		rec.ImagePath = *row.ImagePath
	}
	if len(row.RawPayload) > 0 {
		_ = json.Unmarshal(row.RawPayload, &rec.RawPayload)
	}
	return rec
}
