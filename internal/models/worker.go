package models

import "time"

// Plan is a worker subscription plan name.
type Plan string

const (
	PlanLite     Plan = "lite"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// Worker is a read-only copy of a worker profile from the record store.
type Worker struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Occupation    string     `db:"occupation" json:"occupation"`
	Plan          Plan       `db:"plan" json:"plan"`
	PlanExpiresAt *time.Time `db:"plan_expires_at" json:"plan_expires_at,omitempty"`
	TotalTips     int64      `db:"total_tips" json:"total_tips"`
	CachedAt      time.Time  `db:"cached_at" json:"cached_at"`
}

// SubscriptionActive reports whether the worker's plan is still paid up at now.
// A plan without an expiry never lapses.
func (w *Worker) SubscriptionActive(now time.Time) bool {
	return w.PlanExpiresAt == nil || now.Before(*w.PlanExpiresAt)
}

// TableName returns the table name for Worker.
func (Worker) TableName() string {
	return "worker_cache"
}
