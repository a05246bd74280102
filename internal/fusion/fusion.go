// Package fusion combines detection and OCR confidence scores into a
// single weighted value.
package fusion

import "math"

type Fuser struct {
	detectionWeight float64
	ocrWeight       float64
}

// NewFuser expects weights that sum to 1; config validation enforces
// that before construction.
func NewFuser(detectionWeight, ocrWeight float64) *Fuser {
	return &Fuser{detectionWeight: detectionWeight, ocrWeight: ocrWeight}
}

// Fuse returns the weighted combination of the two confidences.
// Out-of-range and NaN inputs are clamped to [0,1], not rejected.
func (f *Fuser) Fuse(detectionConf, ocrConf float64) float64 {
	return f.detectionWeight*clamp(detectionConf) + f.ocrWeight*clamp(ocrConf)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
