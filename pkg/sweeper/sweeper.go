// Package sweeper closes overdue proposals in the background. Accept and
// decline verify deadlines lazily, so sweep timing is purely an operational
// concern: a slow sweep delays advancing the search, never correctness.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scribeworks/quill/pkg/matching"
	"github.com/scribeworks/quill/pkg/metrics"
	"github.com/scribeworks/quill/pkg/tracing"
)

// ErrSweeperAlreadyRunning is returned when trying to start a running sweeper
var ErrSweeperAlreadyRunning = errors.New("sweeper already running")

const (
	// DefaultPollInterval is the default interval between sweep cycles
	DefaultPollInterval = 30 * time.Second

	// DefaultBatchSize is the number of overdue attempts to fetch per cycle
	DefaultBatchSize = 100
)

// Config holds configuration for the sweeper
type Config struct {
	// PollInterval is how often to look for overdue attempts
	PollInterval time.Duration

	// BatchSize is the maximum number of attempts to expire per cycle
	BatchSize int
}

// Sweeper polls for overdue proposed attempts and hands each one to the
// coordinator's advance path
type Sweeper struct {
	attempts    matching.AttemptStore
	coordinator *matching.Coordinator
	config      Config
	logger      ectologger.Logger
	now         func() time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewSweeper creates a new sweeper
func NewSweeper(attempts matching.AttemptStore, coordinator *matching.Coordinator, config Config, logger ectologger.Logger) *Sweeper {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Sweeper{
		attempts:    attempts,
		coordinator: coordinator,
		config:      config,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		stopCh:      make(chan struct{}),
		stoppedC:    make(chan struct{}),
	}
}

// SetNow overrides the clock. Test hook.
func (s *Sweeper) SetNow(now func() time.Time) {
	s.now = now
}

// Start starts the sweep loop
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSweeperAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting sweeper: poll_interval=%s batch_size=%d",
		s.config.PollInterval, s.config.BatchSize)

	go s.pollLoop(ctx)

	return nil
}

// Stop stops the sweeper gracefully
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Sweeper stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Sweeper shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the sweeper is running
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Sweeper) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Sweeper poll loop stopping")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle runs a single sweep: fetch overdue attempts, expire each one and
// advance its request. Failures on one attempt never block the rest.
func (s *Sweeper) RunCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "sweeper.Sweeper.RunCycle")
	defer span.End()

	start := time.Now()

	overdue, err := s.attempts.ListOverdue(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list overdue attempts")
		return
	}

	if len(overdue) == 0 {
		s.logger.WithContext(ctx).Debug("No overdue attempts")
		return
	}

	s.logger.WithContext(ctx).Infof("Sweeping %d overdue attempts", len(overdue))

	expired := 0
	for i := range overdue {
		attempt := overdue[i]
		if _, err := s.coordinator.HandleExpiry(ctx, &attempt); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"attempt_id": attempt.ID,
				"request_id": attempt.RequestID,
			}).Error("Failed to handle expired attempt")
			continue
		}
		expired++
	}

	metrics.SweepExpiredTotal.Add(float64(expired))
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
}
