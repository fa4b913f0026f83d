package models

import "time"

// TipIntent is a customer's request to pay a worker, before the gateway
// has confirmed the submission. Amount is in whole currency units and the
// phone is already normalized to the gateway format.
type TipIntent struct {
	ID            string    `db:"id" json:"id"`
	WorkerID      string    `db:"worker_id" json:"worker_id"`
	Amount        int64     `db:"amount" json:"amount"`
	CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// QueueEntry wraps a TipIntent with retry bookkeeping while it waits in the
// local queue.
type QueueEntry struct {
	Intent        TipIntent  `json:"intent"`
	Attempts      int        `db:"attempts" json:"attempts"`
	LastAttemptAt *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError     string     `db:"last_error" json:"last_error,omitempty"`
	Flagged       bool       `db:"flagged" json:"flagged"`
}

// ID returns the entry id, which is the intent id.
func (e *QueueEntry) ID() string {
	return e.Intent.ID
}

// Age returns how long the intent has been waiting at now.
func (e *QueueEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.Intent.CreatedAt)
}

// TableName returns the table name for QueueEntry.
func (QueueEntry) TableName() string {
	return "tip_queue"
}
