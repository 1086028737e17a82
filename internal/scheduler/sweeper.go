// Package scheduler runs the journal's periodic maintenance: the retention
// purge of expired records and the reconciliation of stuck sessions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
)

// Defaults for the sweep cadence.
const (
	DefaultPurgeSpec     = "0 3 * * *"    // daily at 03:00
	DefaultReconcileSpec = "*/15 * * * *" // every 15 minutes
	DefaultStaleAfter    = time.Hour
)

// Cleaner reconciles a batch of stale sessions. Satisfied by
// dispatch.Cleaner (interface here avoids an import cycle).
type Cleaner interface {
	ReconcileStale(ctx context.Context, sessionIDs []string) error
}

// Sweeper drives the cron-scheduled maintenance loop.
type Sweeper struct {
	store   store.Store
	cleaner Cleaner
	parser  cron.Parser
	logger  *slog.Logger

	purgeSpec     string
	reconcileSpec string
	staleAfter    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	nextPurge     time.Time
	nextReconcile time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithPurgeSpec sets the cron expression for the retention purge.
func WithPurgeSpec(spec string) SweeperOption {
	return func(s *Sweeper) { s.purgeSpec = spec }
}

// WithReconcileSpec sets the cron expression for stale-session reconciliation.
func WithReconcileSpec(spec string) SweeperOption {
	return func(s *Sweeper) { s.reconcileSpec = spec }
}

// WithStaleAfter sets how long a session may run before it counts as stuck.
func WithStaleAfter(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.staleAfter = d }
}

// NewSweeper creates a Sweeper. The cron expressions are validated eagerly
// so a bad schedule fails at startup, not at the first tick.
func NewSweeper(st store.Store, cleaner Cleaner, logger *slog.Logger, opts ...SweeperOption) (*Sweeper, error) {
	s := &Sweeper{
		store:         st,
		cleaner:       cleaner,
		parser:        cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:        logger,
		purgeSpec:     DefaultPurgeSpec,
		reconcileSpec: DefaultReconcileSpec,
		staleAfter:    DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	now := time.Now().UTC()
	var err error
	if s.nextPurge, err = s.nextRun(s.purgeSpec, now); err != nil {
		return nil, err
	}
	if s.nextReconcile, err = s.nextRun(s.reconcileSpec, now); err != nil {
		return nil, err
	}
	return s, nil
}

// Start launches the background sweep loop with a 60s ticker.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(sweepCtx)
	s.logger.Info("maintenance sweeper started",
		slog.String("purge_schedule", s.purgeSpec),
		slog.String("reconcile_schedule", s.reconcileSpec))
	return nil
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("maintenance sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, now time.Time) {
	if !now.Before(s.nextPurge) {
		if err := s.RunPurge(ctx); err != nil {
			s.logger.Error("retention purge failed", slog.String("error", err.Error()))
		}
		if next, err := s.nextRun(s.purgeSpec, now); err == nil {
			s.nextPurge = next
		}
	}
	if !now.Before(s.nextReconcile) {
		if err := s.RunReconcile(ctx); err != nil {
			s.logger.Error("stale session reconciliation failed", slog.String("error", err.Error()))
		}
		if next, err := s.nextRun(s.reconcileSpec, now); err == nil {
			s.nextReconcile = next
		}
	}
}

// RunPurge deletes all records whose TTL has elapsed.
func (s *Sweeper) RunPurge(ctx context.Context) error {
	removed, err := s.store.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	s.logger.Info("retention purge finished", slog.Int64("removed", removed))
	return nil
}

// RunReconcile finds sessions whose background task started before the
// staleness cutoff without reaching a terminal status and hands them to the
// cleaner.
func (s *Sweeper) RunReconcile(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	stale, err := s.store.ListStaleSessions(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	s.logger.Info("reconciling stale sessions", slog.Int("count", len(stale)))
	return s.cleaner.ReconcileStale(ctx, stale)
}

func (s *Sweeper) nextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return schedule.Next(from), nil
}
