package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// SpawnerMetrics tracks background task counts.
type SpawnerMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrSpawnerShutdown is returned when work is submitted to a shut-down spawner.
var ErrSpawnerShutdown = errors.New("spawner is shut down")

// Spawner is a bounded goroutine pool for fire-and-forget background
// pipelines. Spawn returns as soon as the goroutine is scheduled; the caller
// never observes the pipeline's outcome through Spawn.
type Spawner struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	m      SpawnerMetrics
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewSpawner creates a spawner allowing at most size concurrent pipelines.
func NewSpawner(size int) *Spawner {
	if size <= 0 {
		size = 1
	}
	return &Spawner{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Spawn schedules fn on a background goroutine. It blocks only while the
// spawner is at capacity, respecting context cancellation while waiting.
// The goroutine runs with its own context: fn must not inherit the caller's
// cancellation, otherwise a returning dispatcher would kill the pipeline.
func (s *Spawner) Spawn(ctx context.Context, fn func(ctx context.Context)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSpawnerShutdown
	}
	s.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
		// Slot acquired.
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSpawnerShutdown
	}

	// Re-check closed after acquiring the slot, in case Shutdown raced.
	// wg.Add(1) MUST be inside the lock to prevent race with Shutdown's wg.Wait().
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.sem
		return ErrSpawnerShutdown
	}
	s.wg.Add(1)
	atomic.AddInt64(&s.m.Active, 1)
	s.mu.Unlock()

	// Detach from the caller's cancellation but keep its values
	// (correlation fields survive into the background work).
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&s.m.Panics, 1)
				atomic.AddInt64(&s.m.Failed, 1)
			} else {
				atomic.AddInt64(&s.m.Completed, 1)
			}
			atomic.AddInt64(&s.m.Active, -1)
			<-s.sem
			s.wg.Done()
		}()
		fn(bgCtx)
	}()

	return nil
}

// Wait blocks until all spawned work completes.
func (s *Spawner) Wait() {
	s.wg.Wait()
}

// Shutdown prevents new spawns and waits for active work to complete.
func (s *Spawner) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}

// Metrics returns a snapshot of the spawner metrics.
func (s *Spawner) Metrics() SpawnerMetrics {
	return SpawnerMetrics{
		Active:    atomic.LoadInt64(&s.m.Active),
		Completed: atomic.LoadInt64(&s.m.Completed),
		Failed:    atomic.LoadInt64(&s.m.Failed),
		Panics:    atomic.LoadInt64(&s.m.Panics),
	}
}
