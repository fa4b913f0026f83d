// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"

	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// SubmitTip submits an intent immediately when online, or queues it.
	// Only storage failures are returned as errors.
	SubmitTip(ctx context.Context, intent models.TipIntent) (*Outcome, error)

	// RequestDrain asks the engine to drain the queue. Requests made while a
	// drain is running are coalesced into one follow-up drain.
	RequestDrain()

	// SetEventHandler sets the handler for engine notifications.
	SetEventHandler(handler EventHandler)

	// Draining reports whether a drain pass is running.
	Draining() bool

	// LastDrain returns the result of the most recent drain pass.
	LastDrain() *DrainResult
}

// TipRecorder is the part of the record store the engine writes to.
type TipRecorder interface {
	CreateTip(ctx context.Context, tip *models.Tip) error
	GetTipByIntentID(ctx context.Context, intentID string) (*models.Tip, error)
}

// Queue is the durable intent queue.
type Queue interface {
	Enqueue(ctx context.Context, intent models.TipIntent) (*models.QueueEntry, error)
	Drain(ctx context.Context) ([]*models.QueueEntry, error)
	Get(ctx context.Context, id string) (*models.QueueEntry, error)
	Remove(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, attemptErr error) error
	Size(ctx context.Context) (int, error)
}

// NetworkMonitor reports connectivity.
type NetworkMonitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}
