// Package models provides data model definitions for tipsync.
package models

import "time"

// TipStatus is the settlement state of a Tip record.
type TipStatus string

const (
	TipStatusPending   TipStatus = "pending"
	TipStatusCompleted TipStatus = "completed"
	TipStatusFailed    TipStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s TipStatus) IsTerminal() bool {
	return s == TipStatusCompleted || s == TipStatusFailed
}

// Valid reports whether s is a known status.
func (s TipStatus) Valid() bool {
	switch s {
	case TipStatusPending, TipStatusCompleted, TipStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a tip may move from s to next.
// Only pending -> completed and pending -> failed are allowed.
func (s TipStatus) CanTransition(next TipStatus) bool {
	return s == TipStatusPending && next.IsTerminal()
}

// Tip is the record-of-store entry created once the gateway accepted a
// push-payment submission.
type Tip struct {
	ID            string    `db:"id" json:"id"`
	IntentID      string    `db:"intent_id" json:"intent_id"`
	WorkerID      string    `db:"worker_id" json:"worker_id"`
	Amount        int64     `db:"amount" json:"amount"`
	CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	Status        TipStatus `db:"status" json:"status"`
	MpesaReceipt  string    `db:"mpesa_receipt" json:"mpesa_receipt,omitempty"`
	ResultCode    *int      `db:"result_code" json:"result_code,omitempty"`
	ResultDesc    string    `db:"result_desc" json:"result_desc,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Tip.
func (Tip) TableName() string {
	return "tips"
}
