package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/ids"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// ErrTipExists is returned by CreateTip when a tip for the same intent has
// already been recorded.
var ErrTipExists = stderrors.New("tip already recorded for intent")

// TipRepository is the SQLite record store for Tip entities.
type TipRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTipRepository creates a new TipRepository.
func NewTipRepository(db *sql.DB) *TipRepository {
	return &TipRepository{db: db, now: time.Now}
}

const tipColumns = `id, intent_id, worker_id, amount, customer_phone, transaction_id, status,
	mpesa_receipt, result_code, result_desc, created_at, updated_at`

// CreateTip inserts a pending tip. The ID and timestamps are assigned here.
// A second tip for the same intent is rejected with ErrTipExists.
func (r *TipRepository) CreateTip(ctx context.Context, tip *models.Tip) error {
	if tip.ID == "" {
		tip.ID = ids.New()
	}
	now := r.now().UTC()
	tip.CreatedAt = now
	tip.UpdatedAt = now
	if tip.Status == "" {
		tip.Status = models.TipStatusPending
	}

	query := `
	INSERT INTO tips (` + tipColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(intent_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		tip.ID, tip.IntentID, tip.WorkerID, tip.Amount, tip.CustomerPhone, tip.TransactionID,
		string(tip.Status), tip.MpesaReceipt, nullInt(tip.ResultCode), tip.ResultDesc,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return errors.Storage("failed to create tip", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Storage("failed to create tip", err)
	}
	if n == 0 {
		return ErrTipExists
	}
	return nil
}

// GetTipByTransactionID looks up a tip by its gateway correlation id.
func (r *TipRepository) GetTipByTransactionID(ctx context.Context, transactionID string) (*models.Tip, error) {
	return r.getOne(ctx, "transaction_id", transactionID)
}

// GetTipByIntentID looks up the tip recorded for a queued intent.
func (r *TipRepository) GetTipByIntentID(ctx context.Context, intentID string) (*models.Tip, error) {
	return r.getOne(ctx, "intent_id", intentID)
}

func (r *TipRepository) getOne(ctx context.Context, column, value string) (*models.Tip, error) {
	query := `SELECT ` + tipColumns + ` FROM tips WHERE ` + column + ` = ?`
	tip, err := scanTip(r.db.QueryRowContext(ctx, query, value))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrNotFound, "tip not found", err)
	}
	if err != nil {
		return nil, errors.Storage("failed to read tip", err)
	}
	return tip, nil
}

// SettleTip moves a pending tip to a terminal status. It reports false when
// no pending tip matched, which covers both unknown transactions and tips
// that were already settled.
func (r *TipRepository) SettleTip(ctx context.Context, s *models.Settlement) (bool, error) {
	status := s.Status()
	receipt := ""
	if status == models.TipStatusCompleted {
		receipt = s.Receipt
	}

	query := `
	UPDATE tips
	SET status = ?, mpesa_receipt = ?, result_code = ?, result_desc = ?, updated_at = ?
	WHERE transaction_id = ? AND status = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		string(status), receipt, s.ResultCode, s.ResultDesc, r.now().UTC().UnixNano(),
		s.TransactionID, string(models.TipStatusPending))
	if err != nil {
		return false, errors.Storage("failed to settle tip", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Storage("failed to settle tip", err)
	}
	return n == 1, nil
}

// ListTips returns tips newest first, optionally filtered by worker and status.
func (r *TipRepository) ListTips(ctx context.Context, workerID string, status models.TipStatus, limit int) ([]*models.Tip, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + tipColumns + ` FROM tips WHERE 1 = 1`
	var args []interface{}
	if workerID != "" {
		query += ` AND worker_id = ?`
		args = append(args, workerID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Storage("failed to list tips", err)
	}
	defer rows.Close()

	var tips []*models.Tip
	for rows.Next() {
		tip, err := scanTip(rows)
		if err != nil {
			return nil, errors.Storage("failed to scan tip", err)
		}
		tips = append(tips, tip)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list tips", err)
	}
	return tips, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTip(row rowScanner) (*models.Tip, error) {
	var tip models.Tip
	var status string
	var resultCode sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&tip.ID, &tip.IntentID, &tip.WorkerID, &tip.Amount, &tip.CustomerPhone,
		&tip.TransactionID, &status, &tip.MpesaReceipt, &resultCode, &tip.ResultDesc,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	tip.Status = models.TipStatus(status)
	if resultCode.Valid {
		code := int(resultCode.Int64)
		tip.ResultCode = &code
	}
	tip.CreatedAt = time.Unix(0, createdAt).UTC()
	tip.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &tip, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
