// Package sync hands tip intents to the payment gateway, queuing them while
// the device is offline and draining the queue once connectivity returns.
//
// Drains run on a single goroutine fed by a coalescing kick channel, so at
// most one pass is in flight and a request that arrives mid-pass produces
// exactly one follow-up pass.
package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/db"
	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/ids"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
)

// OutcomeStatus tells the caller what happened to a submitted tip.
type OutcomeStatus string

const (
	// OutcomeSubmitted means the gateway accepted the push and a pending
	// tip was recorded.
	OutcomeSubmitted OutcomeStatus = "submitted"
	// OutcomeQueued means the intent is stored locally and will be retried.
	OutcomeQueued OutcomeStatus = "queued"
)

// User-facing outcome messages.
const (
	MessageSubmitted = "Tip sent. Waiting for the customer to confirm."
	MessageQueued    = "Tip queued, will retry when back online."
)

// Outcome is the result of SubmitTip.
type Outcome struct {
	Status   OutcomeStatus      `json:"status"`
	IntentID string             `json:"intent_id"`
	Message  string             `json:"message"`
	Tip      *models.Tip        `json:"tip,omitempty"`
	Entry    *models.QueueEntry `json:"entry,omitempty"`
}

// Config holds engine configuration.
type Config struct {
	// SubmitTimeout bounds each gateway call (default 30s).
	SubmitTimeout time.Duration
	// SurfaceRejections returns final gateway rejections to the SubmitTip
	// caller instead of queuing them.
	SurfaceRejections bool
	// Description is sent as the transaction description.
	Description string
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		SubmitTimeout: 30 * time.Second,
		Description:   "Tip",
	}
}

// Engine is the sync engine.
type Engine struct {
	gateway gateway.Gateway
	queue   Queue
	tips    TipRecorder
	monitor NetworkMonitor
	cfg     Config
	now     func() time.Time

	kick   chan struct{}
	stopCh chan struct{}
	wg     stdsync.WaitGroup

	mu          stdsync.RWMutex
	isRunning   bool
	handler     EventHandler
	lastDrain   *DrainResult
	unsubscribe func()

	draining atomic.Bool
}

// NewEngine creates an Engine. Start must be called before drains run.
func NewEngine(gw gateway.Gateway, q Queue, tips TipRecorder, monitor NetworkMonitor, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.Description == "" {
		cfg.Description = "Tip"
	}

	return &Engine{
		gateway: gw,
		queue:   q,
		tips:    tips,
		monitor: monitor,
		cfg:     cfg,
		now:     time.Now,
		kick:    make(chan struct{}, 1),
	}
}

// SetEventHandler sets the event handler. A nil handler disables events.
func (e *Engine) SetEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Start starts the drain loop and subscribes to connectivity changes. A
// drain is requested right away when the device is already online. A
// stopped Engine can be started again.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = true
	stop := make(chan struct{})
	e.stopCh = stop
	e.unsubscribe = e.monitor.Subscribe(func(online bool) {
		if online {
			logging.Info("Connectivity restored, requesting drain", nil)
			e.RequestDrain()
		}
	})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(ctx, stop)

	if e.monitor.Online() {
		e.RequestDrain()
	}

	logging.Info("Sync engine started", nil)
}

// Stop stops the drain loop. An in-flight gateway call is allowed to finish
// so its result is recorded.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return
	}
	e.isRunning = false
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	stop := e.stopCh
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(stop)
	e.wg.Wait()

	logging.Info("Sync engine stopped", nil)
}

// RequestDrain requests a drain pass without blocking.
func (e *Engine) RequestDrain() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Draining reports whether a drain pass is running.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// LastDrain returns the most recent drain result, or nil.
func (e *Engine) LastDrain() *DrainResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastDrain == nil {
		return nil
	}
	result := *e.lastDrain
	return &result
}

// SubmitTip submits intent when online and queues it otherwise or when the
// submission fails. The gateway call is detached from ctx cancellation so
// a call that was already dispatched still decides the record.
func (e *Engine) SubmitTip(ctx context.Context, intent models.TipIntent) (*Outcome, error) {
	now := e.now()
	if intent.ID == "" {
		intent.ID = ids.NewIntentID(now)
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	ctx = context.WithoutCancel(ctx)

	if !e.monitor.Online() {
		return e.enqueue(ctx, intent, nil)
	}

	// A retried call for an intent that already produced a tip.
	if existing, err := e.tips.GetTipByIntentID(ctx, intent.ID); err == nil {
		return &Outcome{Status: OutcomeSubmitted, IntentID: intent.ID, Message: MessageSubmitted, Tip: existing}, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	resp, err := e.submit(ctx, intent)
	if err != nil {
		if e.cfg.SurfaceRejections && gateway.IsRejection(err) {
			logging.Warn("Tip rejected by gateway", map[string]interface{}{
				"intent_id": intent.ID,
				"error":     err.Error(),
			})
			return nil, errors.Wrap(errors.ErrGateway, "payment rejected", err)
		}
		return e.enqueue(ctx, intent, err)
	}

	tip, err := e.record(ctx, intent, resp)
	if err != nil {
		return nil, err
	}

	e.emit(EngineEvent{
		Type:          EventTipSubmitted,
		IntentID:      intent.ID,
		WorkerID:      intent.WorkerID,
		TransactionID: tip.TransactionID,
	})
	return &Outcome{Status: OutcomeSubmitted, IntentID: intent.ID, Message: MessageSubmitted, Tip: tip}, nil
}

// enqueue stores intent. submitErr is the failure that caused the queuing,
// nil when the device was offline.
func (e *Engine) enqueue(ctx context.Context, intent models.TipIntent, submitErr error) (*Outcome, error) {
	entry, err := e.queue.Enqueue(ctx, intent)
	if err != nil {
		logging.ErrorWithCode("Failed to queue tip intent", string(errors.ErrStorage), err, map[string]interface{}{
			"intent_id": intent.ID,
		})
		return nil, err
	}

	event := EngineEvent{Type: EventTipQueued, IntentID: intent.ID, WorkerID: intent.WorkerID}
	if submitErr != nil {
		if err := e.queue.RecordAttempt(ctx, intent.ID, submitErr); err != nil {
			logging.Warn("Failed to record submission attempt", map[string]interface{}{
				"intent_id": intent.ID,
				"error":     err.Error(),
			})
		} else {
			entry.Attempts++
		}
		event.Error = submitErr.Error()
		event.Attempts = entry.Attempts
	}
	e.emit(event)

	return &Outcome{Status: OutcomeQueued, IntentID: intent.ID, Message: MessageQueued, Entry: entry}, nil
}

func (e *Engine) submit(ctx context.Context, intent models.TipIntent) (*gateway.SubmitResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()

	return e.gateway.Submit(ctx, gateway.SubmitRequest{
		Phone:       intent.CustomerPhone,
		Amount:      intent.Amount,
		Reference:   intent.ID,
		Description: e.cfg.Description,
	})
}

// record creates the pending tip for an accepted submission. A tip that
// already exists for the intent is returned as is.
func (e *Engine) record(ctx context.Context, intent models.TipIntent, resp *gateway.SubmitResponse) (*models.Tip, error) {
	tip := &models.Tip{
		IntentID:      intent.ID,
		WorkerID:      intent.WorkerID,
		Amount:        intent.Amount,
		CustomerPhone: intent.CustomerPhone,
		TransactionID: resp.TransactionID,
		Status:        models.TipStatusPending,
	}
	err := e.tips.CreateTip(ctx, tip)
	if stderrors.Is(err, db.ErrTipExists) {
		return e.tips.GetTipByIntentID(ctx, intent.ID)
	}
	if err != nil {
		// The gateway already holds the push.
		logging.ErrorWithCode("Submitted tip could not be recorded", string(errors.ErrStorage), err, map[string]interface{}{
			"intent_id":           intent.ID,
			"transaction_id":      resp.TransactionID,
			"merchant_request_id": resp.MerchantRequestID,
			"worker_id":           intent.WorkerID,
			"amount":              intent.Amount,
		})
		e.emit(EngineEvent{
			Type:          EventTipUnrecorded,
			IntentID:      intent.ID,
			WorkerID:      intent.WorkerID,
			TransactionID: resp.TransactionID,
			Error:         err.Error(),
		})
		return nil, errors.Wrap(errors.ErrStorage,
			fmt.Sprintf("tip %s accepted by gateway as %s but not recorded", intent.ID, resp.TransactionID), err)
	}
	return tip, nil
}

func (e *Engine) loop(ctx context.Context, stop <-chan struct{}) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-e.kick:
		}

		if !e.ready(ctx) {
			continue
		}
		e.drain(ctx, stop)
	}
}

// ready reports whether a drain pass is worth running.
func (e *Engine) ready(ctx context.Context) bool {
	if !e.monitor.Online() {
		return false
	}
	n, err := e.queue.Size(ctx)
	if err != nil {
		logging.Error("Failed to read queue size", err, nil)
		return false
	}
	return n > 0
}

// stopping reports whether the engine was asked to stop.
func stopping(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// drain runs one pass over a FIFO snapshot of the queue. Failed entries are
// not retried within the pass.
func (e *Engine) drain(ctx context.Context, stop <-chan struct{}) {
	e.draining.Store(true)
	defer e.draining.Store(false)

	result := &DrainResult{StartTime: e.now()}
	e.emit(EngineEvent{Type: EventDrainStarted})

	defer func() {
		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		e.mu.Lock()
		e.lastDrain = result
		e.mu.Unlock()

		logging.Info("Drain pass completed", map[string]interface{}{
			"attempted":    result.Attempted,
			"submitted":    result.Submitted,
			"deduplicated": result.Deduplicated,
			"failed":       result.Failed,
			"cancelled":    result.Cancelled,
			"skipped":      result.Skipped,
		})
		snapshot := *result
		e.emit(EngineEvent{Type: EventDrainCompleted, Drain: &snapshot})
	}()

	// Submissions outlive a stop request; the loop only checks between entries.
	work := context.WithoutCancel(ctx)

	entries, err := e.queue.Drain(work)
	if err != nil {
		result.Error = err.Error()
		logging.ErrorWithCode("Failed to read queue for drain", string(errors.ErrStorage), err, nil)
		return
	}

	for i, entry := range entries {
		if stopping(ctx, stop) || !e.monitor.Online() {
			result.Skipped = len(entries) - i
			return
		}
		if err := e.drainEntry(work, entry, result); err != nil {
			result.Error = err.Error()
			result.Skipped = len(entries) - i - 1
			return
		}
	}
}

// drainEntry processes one queued entry. Only storage errors are returned;
// they end the pass.
func (e *Engine) drainEntry(ctx context.Context, entry *models.QueueEntry, result *DrainResult) error {
	intent := entry.Intent

	existing, err := e.tips.GetTipByIntentID(ctx, intent.ID)
	if err == nil {
		logging.Info("Queued intent already recorded, dropping entry", map[string]interface{}{
			"intent_id":      intent.ID,
			"transaction_id": existing.TransactionID,
		})
		result.Deduplicated++
		return e.queue.Remove(ctx, intent.ID)
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return err
	}

	// The pass works on a snapshot; an entry removed since then was
	// cancelled and must not be charged.
	if _, err := e.queue.Get(ctx, intent.ID); errors.Is(err, errors.ErrNotFound) {
		logging.Info("Queued intent removed before submission, skipping", map[string]interface{}{
			"intent_id": intent.ID,
		})
		result.Cancelled++
		return nil
	} else if err != nil {
		return err
	}

	result.Attempted++
	resp, err := e.submit(ctx, intent)
	if err != nil {
		result.Failed++
		if recErr := e.queue.RecordAttempt(ctx, intent.ID, err); recErr != nil {
			return recErr
		}
		logging.Warn("Queued tip submission failed", map[string]interface{}{
			"intent_id": intent.ID,
			"attempts":  entry.Attempts + 1,
			"error":     err.Error(),
		})
		e.emit(EngineEvent{
			Type:     EventEntryFailed,
			IntentID: intent.ID,
			WorkerID: intent.WorkerID,
			Attempts: entry.Attempts + 1,
			Error:    err.Error(),
		})
		return nil
	}

	tip, err := e.record(ctx, intent, resp)
	if err != nil {
		return err
	}
	if err := e.queue.Remove(ctx, intent.ID); err != nil {
		// The recorded tip makes the next pass drop the entry.
		logging.Warn("Failed to remove drained entry", map[string]interface{}{
			"intent_id": intent.ID,
			"error":     err.Error(),
		})
	}

	result.Submitted++
	e.emit(EngineEvent{
		Type:          EventEntrySubmitted,
		IntentID:      intent.ID,
		WorkerID:      intent.WorkerID,
		TransactionID: tip.TransactionID,
		Attempts:      entry.Attempts + 1,
	})
	return nil
}

func (e *Engine) emit(event EngineEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = e.now()
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Engine event handler panicked", map[string]interface{}{
				"type":  string(event.Type),
				"panic": r,
			})
		}
	}()
	handler.OnEngineEvent(event)
}

var _ SyncEngineInterface = (*Engine)(nil)
