// Package metabolism runs the background maintenance cycle: resonance
// decay, phantom cycle advancement, and (triage permitting) deeper
// housekeeping like cartridge analysis and split recommendations. It only
// runs when the heartbeat is unpaused and the configured turn interval has
// elapsed since the last run.
package metabolism

import (
	"context"
	"sync"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/metrics"
	"github.com/rs/zerolog"
)

const defaultBackgroundInterval = 100

// Handler performs one background priority's work. It returns the number
// of items it touched, for logging, and an error if the cycle failed.
type Handler func(ctx context.Context) (int, error)

// Scheduler gates background cycles on the heartbeat's turn counter.
type Scheduler struct {
	mu     sync.Mutex
	logger zerolog.Logger

	backgroundInterval uint64
	lastBackgroundTurn uint64

	handlers map[string]Handler
}

// New creates a Scheduler with the given interval (turns between background
// cycles); 0 uses the spec default of 100.
func New(backgroundInterval uint64) *Scheduler {
	if backgroundInterval == 0 {
		backgroundInterval = defaultBackgroundInterval
	}
	return &Scheduler{
		logger:             log.WithComponent("metabolism"),
		backgroundInterval: backgroundInterval,
		handlers:           make(map[string]Handler),
	}
}

// Register binds a priority name ("decay", "analyze_split", "routine",
// "daydream", "sleep") to the handler that executes it.
func (s *Scheduler) Register(priority string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[priority] = h
}

// Due reports whether enough turns have elapsed since the last background
// cycle to run another one.
func (s *Scheduler) Due(currentTurn uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return currentTurn-s.lastBackgroundTurn >= s.backgroundInterval
}

// Run executes the handler for priority, recording metrics and the last-run
// turn regardless of outcome. If no handler is registered for priority this
// is a no-op that returns nil.
func (s *Scheduler) Run(ctx context.Context, priority string, currentTurn uint64) error {
	s.mu.Lock()
	h, ok := s.handlers[priority]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn().Str("priority", priority).Msg("no handler registered for priority")
		return nil
	}

	timer := metrics.NewTimer()
	n, err := h(ctx)
	timer.ObserveDuration(metrics.BackgroundCycleDuration)

	s.mu.Lock()
	s.lastBackgroundTurn = currentTurn
	s.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Error().Err(err).Str("priority", priority).Msg("background cycle failed")
	} else {
		s.logger.Debug().Str("priority", priority).Int("touched", n).Msg("background cycle complete")
	}
	metrics.BackgroundCyclesTotal.WithLabelValues(priority, outcome).Inc()

	return err
}

// LastBackgroundTurn returns the turn the most recent background cycle ran
// at, for diagnostics.
func (s *Scheduler) LastBackgroundTurn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBackgroundTurn
}
