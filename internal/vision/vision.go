// Package vision defines the detection and recognition capabilities
// the pipeline consumes, and HTTP-backed clients for both.
package vision

import (
	"context"
	"errors"

	"lpr-service/internal/domain/plate"
)

// ErrCapabilityTimeout marks a detector or OCR call that exceeded its
// deadline; the affected frame is dropped, other frames proceed.
var ErrCapabilityTimeout = errors.New("capability timeout")

// Detection is one plate-region hypothesis in a frame.
type Detection struct {
	Region     plate.Region `json:"region"`
	Confidence float64      `json:"confidence"`
}

// Recognition is the OCR result for one region. Empty text is a valid
// result meaning no legible text.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Detector finds candidate plate regions in a frame. May return zero
// detections.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]Detection, error)
}

// Recognizer reads text from one detected region of a frame.
type Recognizer interface {
	Recognize(ctx context.Context, frame []byte, region plate.Region) (Recognition, error)
}
