package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// WorkerCache keeps the last-known copy of worker profiles so eligibility
// can be checked while the record store is unreachable.
type WorkerCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewWorkerCache creates a new WorkerCache.
func NewWorkerCache(db *sql.DB) *WorkerCache {
	return &WorkerCache{db: db, now: time.Now}
}

// PutWorker inserts or replaces a cached worker.
func (c *WorkerCache) PutWorker(ctx context.Context, w *models.Worker) error {
	w.CachedAt = c.now().UTC()

	var expires sql.NullInt64
	if w.PlanExpiresAt != nil {
		expires = sql.NullInt64{Int64: w.PlanExpiresAt.UnixNano(), Valid: true}
	}

	query := `
	INSERT INTO worker_cache (id, name, occupation, plan, plan_expires_at, total_tips, cached_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		occupation = excluded.occupation,
		plan = excluded.plan,
		plan_expires_at = excluded.plan_expires_at,
		total_tips = excluded.total_tips,
		cached_at = excluded.cached_at
	`
	_, err := c.db.ExecContext(ctx, query, w.ID, w.Name, w.Occupation, string(w.Plan), expires,
		w.TotalTips, w.CachedAt.UnixNano())
	if err != nil {
		return errors.Storage("failed to cache worker", err)
	}
	return nil
}

// GetWorker returns a cached worker or a NOT_FOUND error.
func (c *WorkerCache) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	query := `
	SELECT id, name, occupation, plan, plan_expires_at, total_tips, cached_at
	FROM worker_cache WHERE id = ?
	`
	var w models.Worker
	var plan string
	var expires sql.NullInt64
	var cachedAt int64
	err := c.db.QueryRowContext(ctx, query, id).Scan(&w.ID, &w.Name, &w.Occupation, &plan,
		&expires, &w.TotalTips, &cachedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrNotFound, "worker not found", err)
	}
	if err != nil {
		return nil, errors.Storage("failed to read worker", err)
	}

	w.Plan = models.Plan(plan)
	if expires.Valid {
		t := time.Unix(0, expires.Int64).UTC()
		w.PlanExpiresAt = &t
	}
	w.CachedAt = time.Unix(0, cachedAt).UTC()
	return &w, nil
}
