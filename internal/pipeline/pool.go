// Package pipeline runs candidates through the recognition pipeline on
// a bounded worker pool with a backpressured intake queue.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lpr-service/internal/domain/plate"
)

// Processor handles one candidate end-to-end.
type Processor interface {
	Process(ctx context.Context, cand plate.RawCandidate) plate.Outcome
}

type job struct {
	cand   plate.RawCandidate
	result chan plate.Outcome
}

type Pool struct {
	processor     Processor
	queue         chan job
	workers       int
	submitTimeout time.Duration
	log           zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	// closeMu serializes intake against closing the queue; submitters
	// hold it shared for at most the bounded submit wait.
	closeMu sync.RWMutex
	closed  bool
}

func NewPool(processor Processor, workers, queueSize int, submitTimeout time.Duration, log zerolog.Logger) *Pool {
	return &Pool{
		processor:     processor,
		queue:         make(chan job, queueSize),
		workers:       workers,
		submitTimeout: submitTimeout,
		log:           log,
	}
}

// Start launches the workers. Each candidate is processed end-to-end
// by exactly one worker; ctx cancels in-flight work up to persistence.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info().Int("workers", p.workers).Int("queue_size", cap(p.queue)).Msg("pipeline workers started")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for jb := range p.queue {
		jb.result <- p.processor.Process(ctx, jb.cand)
	}
	p.log.Debug().Int("worker", id).Msg("pipeline worker drained")
}

// Submit enqueues a candidate and waits for its outcome. When the
// queue stays full past the submit timeout the candidate is dropped
// with a QueueSaturated outcome so the producer never stalls.
func (p *Pool) Submit(ctx context.Context, cand plate.RawCandidate) plate.Outcome {
	jb := job{cand: cand, result: make(chan plate.Outcome, 1)}

	timer := time.NewTimer(p.submitTimeout)
	defer timer.Stop()

	p.closeMu.RLock()
	if p.closed {
		p.closeMu.RUnlock()
		return plate.Outcome{Status: plate.StatusCanceled, Detail: "pipeline shutting down"}
	}

	select {
	case p.queue <- jb:
		p.closeMu.RUnlock()
	case <-timer.C:
		p.closeMu.RUnlock()
		p.log.Warn().Str("source_id", cand.SourceID).Msg("intake queue saturated, dropping candidate")
		return plate.Outcome{Status: plate.StatusQueueSaturated}
	case <-ctx.Done():
		p.closeMu.RUnlock()
		return plate.Outcome{Status: plate.StatusCanceled}
	}

	select {
	case out := <-jb.result:
		return out
	case <-ctx.Done():
		// the worker still completes the job; the producer stops waiting
		return plate.Outcome{Status: plate.StatusCanceled}
	}
}

// QueueDepth reports how many candidates are waiting, for health
// reporting.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Stop closes intake and waits for workers to drain the queue.
// Submitters already waiting are bounded by the submit timeout.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.queue)
		p.closeMu.Unlock()
	})
	p.wg.Wait()
}
