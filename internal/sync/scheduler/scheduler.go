// Package scheduler provides background retry scheduling for queued tips.
//
// Connectivity events alone can leave entries behind: a gateway failure
// while online produces no reconnect. The scheduler periodically asks the
// engine to drain while online and sweeps entries that have waited too long.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// StalePolicy decides what happens to entries older than StaleAfter.
type StalePolicy string

const (
	// StaleKeep leaves stale entries queued and retried.
	StaleKeep StalePolicy = "keep"
	// StaleFlag marks stale entries for manual resolution.
	StaleFlag StalePolicy = "flag"
	// StaleDrop deletes stale entries.
	StaleDrop StalePolicy = "drop"
)

// ParseStalePolicy parses a policy name.
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch p := StalePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return StaleKeep, nil
	case StaleKeep, StaleFlag, StaleDrop:
		return p, nil
	}
	return "", fmt.Errorf("unknown stale policy %q", s)
}

// Drainer is the engine side the scheduler triggers.
type Drainer interface {
	RequestDrain()
}

// StaleQueue is the queue side the sweeper needs.
type StaleQueue interface {
	OlderThan(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error)
	Flag(ctx context.Context, ids []string) (int, error)
	RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// OnlineSource reports connectivity.
type OnlineSource interface {
	Online() bool
}

// Scheduler manages background retry operations.
type Scheduler struct {
	drainer       Drainer
	queue         StaleQueue
	network       OnlineSource
	retryInterval time.Duration
	sweepInterval time.Duration
	policy        StalePolicy
	staleAfter    time.Duration
	now           func() time.Time

	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.RWMutex
	isRunning     bool
	lastKick      time.Time
	lastSweep     time.Time
	lastSweepHits int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	RetryInterval time.Duration // How often to request a drain while online (default: 1 minute)
	SweepInterval time.Duration // How often to apply the stale policy (default: 1 hour)
	StalePolicy   StalePolicy   // default: keep
	StaleAfter    time.Duration // default: 72 hours
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		RetryInterval: 1 * time.Minute,
		SweepInterval: 1 * time.Hour,
		StalePolicy:   StaleKeep,
		StaleAfter:    72 * time.Hour,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(drainer Drainer, queue StaleQueue, network OnlineSource, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.StalePolicy == "" {
		cfg.StalePolicy = StaleKeep
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}

	return &Scheduler{
		drainer:       drainer,
		queue:         queue,
		network:       network,
		retryInterval: cfg.RetryInterval,
		sweepInterval: cfg.SweepInterval,
		policy:        cfg.StalePolicy,
		staleAfter:    cfg.StaleAfter,
		now:           time.Now,
	}
}

// Start starts the background scheduler. A stopped Scheduler can be
// started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()

	s.wg.Add(2)
	go s.retryLoop(ctx, stop)
	go s.sweepLoop(ctx, stop)

	logging.Info("Retry scheduler started", map[string]interface{}{
		"retry_interval": s.retryInterval.String(),
		"stale_policy":   string(s.policy),
		"stale_after":    s.staleAfter.String(),
	})
}

// Stop stops the background scheduler gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()

	logging.Info("Retry scheduler stopped", nil)
}

// retryLoop requests a drain on every tick while online.
func (s *Scheduler) retryLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !s.network.Online() {
				continue
			}
			s.drainer.RequestDrain()

			s.mu.Lock()
			s.lastKick = s.now()
			s.mu.Unlock()
		}
	}
}

// sweepLoop applies the stale policy on every tick.
func (s *Scheduler) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	if s.policy == StaleKeep {
		return
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.SweepStale(ctx); err != nil {
				logging.ErrorWithCode("Stale sweep failed", string(errors.CodeOf(err)), err, nil)
			}
		}
	}
}

// SweepStale applies the stale policy once and returns how many entries it
// flagged or dropped.
func (s *Scheduler) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)

	var n int
	var err error
	switch s.policy {
	case StaleFlag:
		var stale []*models.QueueEntry
		stale, err = s.queue.OlderThan(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		ids := make([]string, 0, len(stale))
		for _, e := range stale {
			if !e.Flagged {
				ids = append(ids, e.ID())
			}
		}
		if len(ids) > 0 {
			n, err = s.queue.Flag(ctx, ids)
		}
	case StaleDrop:
		n, err = s.queue.RemoveOlderThan(ctx, cutoff)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.lastSweep = s.now()
	s.lastSweepHits = n
	s.mu.Unlock()

	if n > 0 {
		logging.Warn("Stale queue entries handled", map[string]interface{}{
			"policy": string(s.policy),
			"count":  n,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return n, nil
}

// SchedulerStatus is a snapshot of scheduler state.
type SchedulerStatus struct {
	IsRunning     bool        `json:"is_running"`
	IsOnline      bool        `json:"is_online"`
	StalePolicy   StalePolicy `json:"stale_policy"`
	LastKick      *time.Time  `json:"last_kick,omitempty"`
	LastSweep     *time.Time  `json:"last_sweep,omitempty"`
	LastSweepHits int         `json:"last_sweep_hits"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:     s.isRunning,
		IsOnline:      s.network.Online(),
		StalePolicy:   s.policy,
		LastSweepHits: s.lastSweepHits,
	}
	if !s.lastKick.IsZero() {
		t := s.lastKick
		status.LastKick = &t
	}
	if !s.lastSweep.IsZero() {
		t := s.lastSweep
		status.LastSweep = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
