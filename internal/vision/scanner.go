package vision

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
)

// Scanner turns one frame into raw candidates by composing the two
// capabilities. It holds no locks; the pipeline stays untouched until
// candidates are submitted.
type Scanner struct {
	detector   Detector
	recognizer Recognizer
	log        zerolog.Logger
}

func NewScanner(detector Detector, recognizer Recognizer, log zerolog.Logger) *Scanner {
	return &Scanner{detector: detector, recognizer: recognizer, log: log}
}

// Scan detects plate regions in the frame and runs OCR on each. A
// capability timeout drops just this frame; a failed OCR call drops
// just that region.
func (s *Scanner) Scan(ctx context.Context, sourceID string, frame []byte, capturedAt time.Time) ([]plate.RawCandidate, error) {
	detections, err := s.detector.Detect(ctx, frame)
	if err != nil {
		if errors.Is(err, ErrCapabilityTimeout) {
			s.log.Warn().Str("source_id", sourceID).Msg("detector timed out, dropping frame")
		}
		return nil, err
	}

	candidates := make([]plate.RawCandidate, 0, len(detections))
	for _, det := range detections {
		rec, err := s.recognizer.Recognize(ctx, frame, det.Region)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("source_id", sourceID).
				Int("x", det.Region.X).
				Int("y", det.Region.Y).
				Msg("ocr failed for region, skipping")
			continue
		}
		candidates = append(candidates, plate.RawCandidate{
			SourceID:      sourceID,
			Region:        det.Region,
			DetectionConf: det.Confidence,
			Text:          rec.Text,
			OCRConf:       rec.Confidence,
			CapturedAt:    capturedAt,
		})
	}
	return candidates, nil
}
