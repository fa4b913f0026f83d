// Package db provides repository interfaces for tipsync data models.
package db

import (
	"context"

	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// TipStore defines operations for tip record persistence.
// This interface allows mocking for testing.
type TipStore interface {
	// CreateTip records a tip accepted by the gateway.
	CreateTip(ctx context.Context, tip *models.Tip) error

	// GetTipByTransactionID looks up a tip by gateway correlation id.
	GetTipByTransactionID(ctx context.Context, transactionID string) (*models.Tip, error)

	// GetTipByIntentID looks up a tip by the intent it was created from.
	GetTipByIntentID(ctx context.Context, intentID string) (*models.Tip, error)

	// SettleTip applies a settlement to a pending tip.
	SettleTip(ctx context.Context, s *models.Settlement) (bool, error)

	// ListTips lists tips newest first.
	ListTips(ctx context.Context, workerID string, status models.TipStatus, limit int) ([]*models.Tip, error)
}

// WorkerStore defines operations for the cached worker directory.
type WorkerStore interface {
	PutWorker(ctx context.Context, w *models.Worker) error
	GetWorker(ctx context.Context, id string) (*models.Worker, error)
}

var (
	_ TipStore    = (*TipRepository)(nil)
	_ WorkerStore = (*WorkerCache)(nil)
)
