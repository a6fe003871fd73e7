package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/logger"
)

// snapshot holds the latest reported state of every sample. Runners write
// their own slot; the flusher reads copies.
type snapshot struct {
	mu      sync.Mutex
	samples []domain.Sample
	dirty   bool
}

func newSnapshot(samples []domain.Sample) *snapshot {
	return &snapshot{samples: domain.CloneSamples(samples)}
}

func (s *snapshot) set(i int, sample domain.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[i] = sample
	s.dirty = true
}

func (s *snapshot) get(i int) domain.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples[i]
}

// take returns a copy of all samples and their mean progress, or false when
// nothing changed since the last take.
func (s *snapshot) take() ([]domain.Sample, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil, 0, false
	}
	s.dirty = false
	out := domain.CloneSamples(s.samples)
	total := 0
	for _, sm := range out {
		total += sm.Progress
	}
	return out, total / len(out), true
}

// startFlusher persists snapshots every FlushInterval until the returned
// stop function is called. stop waits for an in-flight write to finish so
// the terminal write always lands last.
func (o *Orchestrator) startFlusher(ctx context.Context, taskID string, snap *snapshot) (stop func()) {
	flushCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	log := logger.FromContext(ctx)

	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-flushCtx.Done():
				return
			case <-ticker.C:
				samples, progress, ok := snap.take()
				if !ok {
					continue
				}
				u := domain.TaskUpdate{Samples: samples, Progress: &progress}
				if err := o.store.Update(flushCtx, taskID, u); err != nil {
					log.Debug("flush samples", "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
