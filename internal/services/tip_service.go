// Package services provides tip orchestration for the device binaries.
//
// TipService coordinates edge validation, the sync engine, the local queue
// and settlement so the desktop API, the callback server and the mobile
// bridge all share one code path.
package services

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/eligibility"
	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/lifecycle"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/sync"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
	"github.com/kimhsiao/tipsync/backend/internal/sync/queue"
	"github.com/kimhsiao/tipsync/backend/internal/sync/scheduler"
)

// DefaultListLimit caps tip listings when no limit is given.
const DefaultListLimit = 100

// TipService coordinates tip submission and settlement.
type TipService struct {
	rt *Runtime

	// Event callbacks for WebSocket notifications
	onEngineEvent func(event sync.EngineEvent)
	onSettlement  func(t lifecycle.Transition)

	mu stdsync.RWMutex
}

// NewTipService creates a TipService over rt and routes engine events and
// settlement transitions to the registered callbacks.
func NewTipService(rt *Runtime) *TipService {
	s := &TipService{rt: rt}
	rt.Engine.SetEventHandler(sync.EventHandlerFunc(s.engineEvent))
	rt.Lifecycle.OnTransition(s.settled)
	return s
}

// SetEventCallbacks sets the notification callbacks. Either may be nil.
func (s *TipService) SetEventCallbacks(onEngineEvent func(sync.EngineEvent), onSettlement func(lifecycle.Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEngineEvent = onEngineEvent
	s.onSettlement = onSettlement
}

func (s *TipService) engineEvent(event sync.EngineEvent) {
	s.mu.RLock()
	fn := s.onEngineEvent
	s.mu.RUnlock()
	if fn != nil {
		fn(event)
	}
}

func (s *TipService) settled(t lifecycle.Transition) {
	s.mu.RLock()
	fn := s.onSettlement
	s.mu.RUnlock()
	if fn != nil {
		fn(t)
	}
}

// SubmitTip validates req and hands the intent to the engine. Validation
// and storage failures are errors; everything else is an Outcome.
func (s *TipService) SubmitTip(ctx context.Context, req eligibility.TipRequest) (*sync.Outcome, error) {
	intent, err := s.rt.Checker.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.rt.Engine.SubmitTip(ctx, intent)
}

// ListTips returns recorded tips, newest first.
func (s *TipService) ListTips(ctx context.Context, workerID string, status models.TipStatus, limit int) ([]*models.Tip, error) {
	if status != "" && !status.Valid() {
		return nil, errors.Validation("unknown status %q", status)
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	return s.rt.Tips.ListTips(ctx, workerID, status, limit)
}

// QueueEntries returns queued intents in submission order.
func (s *TipService) QueueEntries(ctx context.Context) ([]*models.QueueEntry, error) {
	return s.rt.Queue.Drain(ctx)
}

// RemoveQueueEntry deletes a queued intent so it is never submitted.
func (s *TipService) RemoveQueueEntry(ctx context.Context, id string) error {
	if _, err := s.rt.Queue.Get(ctx, id); err != nil {
		return err
	}
	if err := s.rt.Queue.Remove(ctx, id); err != nil {
		return err
	}
	logging.Info("Queued tip removed", map[string]interface{}{"intent_id": id})
	return nil
}

// SetOnline reports connectivity from platform glue. It takes over from
// the reachability prober.
func (s *TipService) SetOnline(online bool) {
	s.rt.ReportConnectivity(online)
}

// RetryNow asks the engine for a drain pass.
func (s *TipService) RetryNow() {
	s.rt.Engine.RequestDrain()
}

// PutWorker refreshes the offline worker cache.
func (s *TipService) PutWorker(ctx context.Context, w *models.Worker) error {
	if w == nil || w.ID == "" {
		return errors.Validation("worker id is required")
	}
	if w.Plan == "" {
		w.Plan = models.PlanLite
	}
	return s.rt.Workers.PutWorker(ctx, w)
}

// HandleCallback parses a gateway callback body and applies it.
func (s *TipService) HandleCallback(ctx context.Context, body []byte) (*lifecycle.Transition, error) {
	settlement, err := gateway.ParseCallback(body)
	if err != nil {
		return nil, err
	}
	return s.rt.Lifecycle.Apply(ctx, settlement)
}

// Status is a snapshot of the device sync state.
type Status struct {
	Online    bool                      `json:"online"`
	Draining  bool                      `json:"draining"`
	Queue     *queue.Stats              `json:"queue"`
	LastDrain *sync.DrainResult         `json:"last_drain,omitempty"`
	Scheduler scheduler.SchedulerStatus `json:"scheduler"`
	Time      time.Time                 `json:"time"`
}

// Status returns the current sync state.
func (s *TipService) Status(ctx context.Context) (*Status, error) {
	stats, err := s.rt.Queue.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Online:    s.rt.Monitor.Online(),
		Draining:  s.rt.Engine.Draining(),
		Queue:     stats,
		LastDrain: s.rt.Engine.LastDrain(),
		Scheduler: s.rt.Scheduler.GetStatus(),
		Time:      time.Now(),
	}, nil
}
