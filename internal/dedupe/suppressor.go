// Package dedupe suppresses near-duplicate plate readings within a
// sliding per-source time window.
package dedupe

import (
	"sync"
	"time"

	"lpr-service/internal/utils"
)

type sighting struct {
	text     string
	lastSeen time.Time
}

// shard holds the recent sightings of a single source. Entries older
// than the window are evicted lazily on every access.
type shard struct {
	mu        sync.Mutex
	sightings []sighting
}

type Suppressor struct {
	mu        sync.RWMutex
	shards    map[string]*shard
	window    time.Duration
	threshold float64
}

func NewSuppressor(window time.Duration, similarityThreshold float64) *Suppressor {
	return &Suppressor{
		shards:    make(map[string]*shard),
		window:    window,
		threshold: similarityThreshold,
	}
}

// Claim reports whether normalizedText is a near-duplicate of a
// recent sighting from the same source. On a duplicate the matching
// entry's lastSeen is refreshed. Otherwise a sighting is inserted
// immediately, under the shard lock, so a racing identical candidate
// sees it before the claimer's record is persisted. A claim whose
// persist fails must be undone with Release.
func (s *Suppressor) Claim(sourceID, normalizedText string, ts time.Time) bool {
	sh := s.shard(sourceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.evictExpired(ts, s.window)

	for i := range sh.sightings {
		if utils.Similarity(normalizedText, sh.sightings[i].text) >= s.threshold {
			sh.sightings[i].lastSeen = ts
			return true
		}
	}
	sh.sightings = append(sh.sightings, sighting{text: normalizedText, lastSeen: ts})
	return false
}

// Release removes the sighting inserted by a failed claim so a
// candidate whose persist failed leaves no suppressor memory behind.
// No-op when no exact-text sighting exists.
func (s *Suppressor) Release(sourceID, normalizedText string) {
	sh := s.shard(sourceID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for i := range sh.sightings {
		if sh.sightings[i].text == normalizedText {
			sh.sightings = append(sh.sightings[:i], sh.sightings[i+1:]...)
			return
		}
	}
}

// Prune evicts expired sightings across all sources and drops empty
// shards. Used by the periodic maintenance task.
func (s *Suppressor) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sh := range s.shards {
		sh.mu.Lock()
		sh.evictExpired(now, s.window)
		empty := len(sh.sightings) == 0
		sh.mu.Unlock()
		if empty {
			delete(s.shards, id)
		}
	}
}

// Forget drops all sightings for one source, or for every source when
// sourceID is empty. Called when dedupe settings change.
func (s *Suppressor) Forget(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sourceID == "" {
		s.shards = make(map[string]*shard)
		return
	}
	delete(s.shards, sourceID)
}

// Len reports the total sighting count across sources.
func (s *Suppressor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.sightings)
		sh.mu.Unlock()
	}
	return total
}

func (s *Suppressor) shard(sourceID string) *shard {
	s.mu.RLock()
	sh, ok := s.shards[sourceID]
	s.mu.RUnlock()
	if ok {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[sourceID]; ok {
		return sh
	}
	sh = &shard{}
	s.shards[sourceID] = sh
	return sh
}

// evictExpired keeps entries whose lastSeen is within the window of
// now. Caller holds the shard lock.
func (sh *shard) evictExpired(now time.Time, window time.Duration) {
	kept := sh.sightings[:0]
	for _, sg := range sh.sightings {
		if now.Sub(sg.lastSeen) <= window {
			kept = append(kept, sg)
		}
	}
	sh.sightings = kept
}
