package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/config"
	"lpr-service/internal/dedupe"
	"lpr-service/internal/domain/plate"
	"lpr-service/internal/fusion"
	"lpr-service/internal/validate"
)

// RecordStore persists accepted records.
type RecordStore interface {
	Insert(ctx context.Context, rec *plate.Record) (int64, error)
}

// PipelineService runs one candidate through fusion, validation,
// duplicate suppression and persistence, producing exactly one outcome.
type PipelineService struct {
	mu         sync.RWMutex
	fuser      *fusion.Fuser
	validator  *validate.Validator
	suppressor *dedupe.Suppressor

	store RecordStore
	log   zerolog.Logger
}

func NewPipelineService(cfg *config.Config, store RecordStore, log zerolog.Logger) (*PipelineService, error) {
	validator, err := validate.New(cfg.Validation)
	if err != nil {
		return nil, err
	}
	return &PipelineService{
		fuser:      fusion.NewFuser(cfg.Fusion.DetectionWeight, cfg.Fusion.OCRWeight),
		validator:  validator,
		suppressor: newSuppressor(cfg.Dedupe),
		store:      store,
		log:        log,
	}, nil
}

// newSuppressor returns nil when duplicate detection is disabled.
func newSuppressor(cfg config.DedupeConfig) *dedupe.Suppressor {
	if !cfg.Enabled {
		return nil
	}
	return dedupe.NewSuppressor(cfg.TimeWindow, cfg.SimilarityThreshold)
}

// Process runs one candidate to exactly one outcome. Cancellation is
// honored up to the duplicate claim; once the insert starts it runs to
// completion, and a failed insert releases its claim so the candidate
// leaves no suppressor memory behind.
func (s *PipelineService) Process(ctx context.Context, cand plate.RawCandidate) plate.Outcome {
	if cand.SourceID == "" || cand.Region.Empty() {
		return plate.Outcome{Status: plate.StatusInvalidInput, Detail: "source_id and region are required"}
	}
	if cand.CapturedAt.IsZero() {
		cand.CapturedAt = time.Now()
	}

	s.mu.RLock()
	fuser, validator, suppressor := s.fuser, s.validator, s.suppressor
	s.mu.RUnlock()

	combined := fuser.Fuse(cand.DetectionConf, cand.OCRConf)

	res := validator.Validate(cand.Text, combined)
	if !res.Accepted {
		s.log.Debug().
			Str("source_id", cand.SourceID).
			Str("raw_text", cand.Text).
			Str("normalized", res.Normalized).
			Float64("confidence", combined).
			Str("reason", string(res.Reason)).
			Msg("candidate rejected by validator")
		return plate.Outcome{
			Status:     plate.StatusRejectedFormat,
			Reason:     res.Reason,
			Plate:      res.Normalized,
			Confidence: combined,
		}
	}

	select {
	case <-ctx.Done():
		return plate.Outcome{Status: plate.StatusCanceled, Plate: res.Normalized, Confidence: combined}
	default:
	}

	// claiming before persisting closes the race where two identical
	// candidates both pass the duplicate check while the first one's
	// insert is still in flight; a failed persist releases the claim
	if suppressor != nil && suppressor.Claim(cand.SourceID, res.Normalized, cand.CapturedAt) {
		s.log.Debug().
			Str("source_id", cand.SourceID).
			Str("plate", res.Normalized).
			Msg("duplicate reading suppressed")
		return plate.Outcome{
			Status:     plate.StatusRejectedDuplicate,
			Plate:      res.Normalized,
			Confidence: combined,
		}
	}

	rec := &plate.Record{
		PlateText:  res.Normalized,
		Confidence: combined,
		SourceID:   cand.SourceID,
		FirstSeen:  cand.CapturedAt,
		ImagePath:  cand.ImagePath,
		RawPayload: cand.RawPayload,
	}

	// once persistence begins it runs to completion, never half-committed
	id, err := s.store.Insert(context.WithoutCancel(ctx), rec)
	if err != nil {
		if suppressor != nil {
			suppressor.Release(cand.SourceID, res.Normalized)
		}
		s.log.Error().
			Err(err).
			Str("source_id", cand.SourceID).
			Str("plate", res.Normalized).
			Msg("failed to persist record")
		return plate.Outcome{
			Status:     plate.StatusRejectedStorage,
			Plate:      res.Normalized,
			Confidence: combined,
			Detail:     err.Error(),
		}
	}

	s.log.Info().
		Int64("record_id", id).
		Str("source_id", cand.SourceID).
		Str("plate", res.Normalized).
		Str("raw_text", cand.Text).
		Float64("confidence", combined).
		Time("first_seen", cand.CapturedAt).
		Msg("accepted plate record")

	return plate.Outcome{
		Status:     plate.StatusAccepted,
		RecordID:   id,
		Plate:      res.Normalized,
		Confidence: combined,
	}
}

// Reconfigure swaps in components built from a validated config
// update. In-flight candidates finish with the components they read.
func (s *PipelineService) Reconfigure(cfg *config.Config) error {
	validator, err := validate.New(cfg.Validation)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fuser = fusion.NewFuser(cfg.Fusion.DetectionWeight, cfg.Fusion.OCRWeight)
	s.validator = validator
	s.suppressor = newSuppressor(cfg.Dedupe)
	s.log.Info().Msg("pipeline reconfigured, duplicate history reset")
	return nil
}

// Suppressor exposes the live suppressor for the periodic prune task
// and admin resets.
func (s *PipelineService) Suppressor() *dedupe.Suppressor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suppressor
}
