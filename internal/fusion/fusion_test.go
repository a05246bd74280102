package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuseDefaultWeights(t *testing.T) {
	f := NewFuser(0.6, 0.4)

	assert.InDelta(t, 0.86, f.Fuse(0.9, 0.8), 1e-9)
	assert.InDelta(t, 0.16, f.Fuse(0.2, 0.1), 1e-9)
	assert.Equal(t, 0.0, f.Fuse(0, 0))
	assert.Equal(t, 1.0, f.Fuse(1, 1))
}

func TestFuseClampsInputs(t *testing.T) {
	f := NewFuser(0.6, 0.4)

	assert.InDelta(t, 0.6, f.Fuse(1.5, 0), 1e-9)
	assert.InDelta(t, 0.4, f.Fuse(-2, 1), 1e-9)
	assert.Equal(t, 0.0, f.Fuse(math.NaN(), math.NaN()))
}

func TestFuseBoundedAndMonotonic(t *testing.T) {
	f := NewFuser(0.6, 0.4)
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}

	for _, d := range steps {
		prev := -1.0
		for _, o := range steps {
			got := f.Fuse(d, o)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			assert.GreaterOrEqual(t, got, prev, "not monotonic in ocr at d=%v", d)
			prev = got
		}
	}
	for _, o := range steps {
		prev := -1.0
		for _, d := range steps {
			got := f.Fuse(d, o)
			assert.GreaterOrEqual(t, got, prev, "not monotonic in detection at o=%v", o)
			prev = got
		}
	}
}
