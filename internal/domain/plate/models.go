package plate

import (
	"time"
)

// Region is an axis-aligned plate bounding box in frame coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// RawCandidate is one detection+OCR result for one frame, as produced
// by the vision capability. Consumed once by the pipeline.
type RawCandidate struct {
	SourceID      string                 `json:"source_id"`
	Region        Region                 `json:"region"`
	DetectionConf float64                `json:"detection_confidence"`
	Text          string                 `json:"text"`
	OCRConf       float64                `json:"ocr_confidence"`
	CapturedAt    time.Time              `json:"captured_at"`
	ImagePath     string                 `json:"image_path,omitempty"`
	RawPayload    map[string]interface{} `json:"raw_payload,omitempty"`
}

// ValidatedReading is a RawCandidate after fusion and normalization.
// It exists only within one pipeline invocation.
type ValidatedReading struct {
	RawCandidate
	Normalized string
	Combined   float64
	FormatOK   bool
}

// Record is a persisted, accepted plate reading.
type Record struct {
	ID         int64                  `json:"id"`
	PlateText  string                 `json:"plate_text"`
	Confidence float64                `json:"confidence"`
	SourceID   string                 `json:"source_id"`
	FirstSeen  time.Time              `json:"first_seen"`
	ImagePath  string                 `json:"image_path,omitempty"`
	RawPayload map[string]interface{} `json:"raw_payload,omitempty"`
}

type Status string

const (
	StatusAccepted          Status = "accepted"
	StatusRejectedFormat    Status = "rejected_format"
	StatusRejectedDuplicate Status = "rejected_duplicate"
	StatusRejectedStorage   Status = "rejected_storage"
	StatusQueueSaturated    Status = "queue_saturated"
	StatusCanceled          Status = "canceled"
	StatusInvalidInput      Status = "invalid_input"
)

// Reason qualifies a format rejection.
type Reason string

const (
	ReasonEmptyText      Reason = "EmptyText"
	ReasonTooShort       Reason = "TooShort"
	ReasonTooLong        Reason = "TooLong"
	ReasonLowConfidence  Reason = "LowConfidence"
	ReasonNoPatternMatch Reason = "NoPatternMatch"
)

// Outcome is the single result reported for every candidate.
type Outcome struct {
	Status     Status  `json:"status"`
	Reason     Reason  `json:"reason,omitempty"`
	RecordID   int64   `json:"record_id,omitempty"`
	Plate      string  `json:"plate,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Detail     string  `json:"detail,omitempty"`
}

func (o Outcome) Accepted() bool {
	return o.Status == StatusAccepted
}

// QueryFilter narrows record queries.
type QueryFilter struct {
	PlateText *string
	SourceID  *string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
