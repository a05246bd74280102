package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateWithinWindow(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	assert.False(t, s.Claim("cam1", "ABC-1234", t0))
	assert.True(t, s.Claim("cam1", "ABC-1234", t0.Add(time.Second)))
}

func TestAcceptedAgainAfterWindow(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	assert.False(t, s.Claim("cam1", "ABC-1234", t0))
	assert.False(t, s.Claim("cam1", "ABC-1234", t0.Add(6*time.Second)))
}

func TestDuplicateRefreshExtendsWindow(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	assert.False(t, s.Claim("cam1", "ABC-1234", t0))
	// refresh at t0+4s keeps the sighting alive past t0+5s
	assert.True(t, s.Claim("cam1", "ABC-1234", t0.Add(4*time.Second)))
	assert.True(t, s.Claim("cam1", "ABC-1234", t0.Add(8*time.Second)))
	// no new entry was created on refresh
	assert.Equal(t, 1, s.Len())
}

func TestReleaseRemovesClaim(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	assert.False(t, s.Claim("cam1", "ABC-1234", t0))
	s.Release("cam1", "ABC-1234")

	// the released claim left no sighting, so the same plate claims
	// again instead of being suppressed
	assert.False(t, s.Claim("cam1", "ABC-1234", t0.Add(time.Second)))
	assert.Equal(t, 1, s.Len())

	// releasing a text with no sighting is a no-op
	s.Release("cam1", "XYZ-9876")
	s.Release("cam9", "ABC-1234")
	assert.Equal(t, 1, s.Len())
}

func TestNearDuplicateTolerance(t *testing.T) {
	// one edit on an 8-char plate scores 0.875
	s := NewSuppressor(5*time.Second, 0.85)
	t0 := time.Now()

	assert.False(t, s.Claim("cam1", "ABC-1234", t0))
	// off-by-one OCR re-read of the same physical plate
	assert.True(t, s.Claim("cam1", "ABC-1284", t0.Add(time.Second)))
	// genuinely different plate
	assert.False(t, s.Claim("cam1", "XYZ-9876", t0.Add(time.Second)))
}

func TestPerSourceScoping(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	assert.False(t, s.Claim("cam1", "ABC-1234", t0))
	assert.False(t, s.Claim("cam2", "ABC-1234", t0))
	assert.True(t, s.Claim("cam2", "ABC-1234", t0.Add(time.Second)))
}

func TestConcurrentIdenticalClaims(t *testing.T) {
	s := NewSuppressor(time.Minute, 0.9)
	t0 := time.Now()

	const n = 8
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Claim("cam1", "ABC-1234", t0)
		}()
	}
	wg.Wait()
	close(results)

	// exactly one goroutine wins the claim, the rest see a duplicate
	claimed := 0
	for dup := range results {
		if !dup {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 1, s.Len())
}

func TestPruneDropsExpired(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	s.Claim("cam1", "ABC-1234", t0)
	s.Claim("cam2", "ABC123", t0.Add(3*time.Second))
	assert.Equal(t, 2, s.Len())

	s.Prune(t0.Add(6 * time.Second))
	assert.Equal(t, 1, s.Len())

	s.Prune(t0.Add(10 * time.Second))
	assert.Equal(t, 0, s.Len())
}

func TestForget(t *testing.T) {
	s := NewSuppressor(5*time.Second, 0.9)
	t0 := time.Now()

	s.Claim("cam1", "ABC-1234", t0)
	s.Claim("cam2", "ABC123", t0)

	s.Forget("cam1")
	assert.False(t, s.Claim("cam1", "ABC-1234", t0.Add(time.Second)))
	assert.True(t, s.Claim("cam2", "ABC123", t0.Add(time.Second)))

	s.Forget("")
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentSources(t *testing.T) {
	s := NewSuppressor(time.Minute, 0.9)
	t0 := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			src := fmt.Sprintf("cam%d", n)
			for j := 0; j < 50; j++ {
				s.Claim(src, fmt.Sprintf("ABC-%04d", j), t0.Add(time.Duration(j)*time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16*50, s.Len())
}
