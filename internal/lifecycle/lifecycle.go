// Package lifecycle applies gateway settlements to tip records.
//
// A tip moves from pending to completed or failed exactly once. Duplicate
// and late callbacks are no-ops, and callbacks for unknown transactions
// never create records.
package lifecycle

import (
	"context"
	stdsync "sync"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// Store is the part of the record store settlement needs.
type Store interface {
	GetTipByTransactionID(ctx context.Context, transactionID string) (*models.Tip, error)
	// SettleTip updates a pending tip and reports whether it changed.
	SettleTip(ctx context.Context, s *models.Settlement) (bool, error)
}

// Result describes what Apply did.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultUnknown   Result = "unknown"
)

// Transition is the outcome of one Apply call.
type Transition struct {
	Result Result           `json:"result"`
	From   models.TipStatus `json:"from,omitempty"`
	To     models.TipStatus `json:"to,omitempty"`
	Tip    *models.Tip      `json:"tip,omitempty"`
}

// Listener is called after a transition was applied.
type Listener func(t Transition)

// Lifecycle applies settlements.
type Lifecycle struct {
	store Store

	mu        stdsync.RWMutex
	listeners []Listener
}

// New creates a Lifecycle.
func New(store Store) *Lifecycle {
	return &Lifecycle{store: store}
}

// OnTransition registers fn for applied transitions.
func (l *Lifecycle) OnTransition(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Apply records s against its tip. Unknown transactions and already
// settled tips are reported through the Result, not as errors.
func (l *Lifecycle) Apply(ctx context.Context, s *models.Settlement) (*Transition, error) {
	if s == nil || s.TransactionID == "" {
		return nil, errors.Validation("settlement has no transaction id")
	}

	tip, err := l.store.GetTipByTransactionID(ctx, s.TransactionID)
	if errors.Is(err, errors.ErrNotFound) {
		logging.ErrorWithCode("Callback for unknown transaction", string(errors.ErrCallbackMismatch), nil, map[string]interface{}{
			"transaction_id": s.TransactionID,
			"result_code":    s.ResultCode,
		})
		return &Transition{Result: ResultUnknown}, nil
	}
	if err != nil {
		return nil, err
	}

	to := s.Status()
	if tip.Status.IsTerminal() {
		logging.Info("Duplicate callback ignored", map[string]interface{}{
			"transaction_id": s.TransactionID,
			"status":         string(tip.Status),
		})
		return &Transition{Result: ResultDuplicate, From: tip.Status, To: tip.Status, Tip: tip}, nil
	}

	if s.Amount != 0 && s.Amount != tip.Amount {
		logging.Warn("Callback amount differs from tip", map[string]interface{}{
			"transaction_id":  s.TransactionID,
			"tip_amount":      tip.Amount,
			"callback_amount": s.Amount,
		})
	}

	changed, err := l.store.SettleTip(ctx, s)
	if err != nil {
		return nil, err
	}

	current, err := l.store.GetTipByTransactionID(ctx, s.TransactionID)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Another callback settled it between the read and the update.
		return &Transition{Result: ResultDuplicate, From: current.Status, To: current.Status, Tip: current}, nil
	}

	t := Transition{Result: ResultApplied, From: tip.Status, To: to, Tip: current}
	logging.Info("Tip settled", map[string]interface{}{
		"transaction_id": s.TransactionID,
		"tip_id":         current.ID,
		"status":         string(to),
		"result_code":    s.ResultCode,
	})
	l.notify(t)
	return &t, nil
}

func (l *Lifecycle) notify(t Transition) {
	l.mu.RLock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("Transition listener panicked", map[string]interface{}{"panic": r})
				}
			}()
			fn(t)
		}()
	}
}
