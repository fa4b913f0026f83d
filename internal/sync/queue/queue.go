// Package queue provides the durable local queue of tip intents that could
// not be handed to the payment gateway.
//
// Entries live in SQLite so they survive process restarts. Drain returns a
// FIFO snapshot without removing anything; an entry leaves the queue only
// through Remove, after the gateway acknowledged the submission.
package queue

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"
	"unicode/utf8"

	"github.com/kimhsiao/tipsync/backend/internal/crypto"
	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// maxErrorLength bounds the stored last_error text.
const maxErrorLength = 512

// Options configures a Queue.
type Options struct {
	// Sealer encrypts customer phone numbers at rest. Nil stores plaintext.
	Sealer *crypto.Sealer
}

// Queue is the SQLite-backed tip intent queue.
type Queue struct {
	db     *sql.DB
	sealer *crypto.Sealer
	now    func() time.Time
}

// New creates a Queue on an already-migrated database.
func New(db *sql.DB, opts Options) *Queue {
	return &Queue{
		db:     db,
		sealer: opts.Sealer,
		now:    time.Now,
	}
}

// Stats summarizes the queue contents.
type Stats struct {
	Total       int        `json:"total"`
	Flagged     int        `json:"flagged"`
	NeverTried  int        `json:"never_tried"`
	MaxAttempts int        `json:"max_attempts"`
	Oldest      *time.Time `json:"oldest,omitempty"`
}

const entryColumns = `id, worker_id, amount, customer_phone, created_at, attempts, last_attempt_at, last_error, flagged`

// Enqueue persists an intent. Enqueueing an intent whose ID is already
// queued returns the existing entry. The only failure mode is storage.
func (q *Queue) Enqueue(ctx context.Context, intent models.TipIntent) (*models.QueueEntry, error) {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = q.now()
	}

	phone, err := q.sealer.Seal(intent.CustomerPhone)
	if err != nil {
		return nil, errors.Storage("failed to seal queue entry", err)
	}

	query := `
	INSERT INTO tip_queue (id, worker_id, amount, customer_phone, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`
	if _, err := q.db.ExecContext(ctx, query, intent.ID, intent.WorkerID, intent.Amount, phone,
		intent.CreatedAt.UTC().UnixNano()); err != nil {
		return nil, errors.Storage("failed to enqueue tip intent", err)
	}

	entry, err := q.Get(ctx, intent.ID)
	if err != nil {
		return nil, err
	}

	logging.Info("Tip intent queued", map[string]interface{}{
		"intent_id": intent.ID,
		"worker_id": intent.WorkerID,
		"amount":    intent.Amount,
	})
	return entry, nil
}

// Drain returns every queued entry, oldest first. Nothing is removed.
func (q *Queue) Drain(ctx context.Context) ([]*models.QueueEntry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM tip_queue ORDER BY created_at, id`)
}

// OlderThan returns entries created before cutoff, oldest first.
func (q *Queue) OlderThan(ctx context.Context, cutoff time.Time) ([]*models.QueueEntry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM tip_queue WHERE created_at < ? ORDER BY created_at, id`,
		cutoff.UTC().UnixNano())
}

func (q *Queue) list(ctx context.Context, query string, args ...interface{}) ([]*models.QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Storage("failed to read queue", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := q.scan(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to read queue", err)
	}
	return entries, nil
}

// Get returns one entry or a NOT_FOUND error.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM tip_queue WHERE id = ?`, id)
	entry, err := q.scan(row)
	if err != nil {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && stderrors.Is(appErr.Err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "queue entry not found", sql.ErrNoRows)
		}
		return nil, err
	}
	return entry, nil
}

// Remove deletes one entry. Removing an absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM tip_queue WHERE id = ?`, id)
	if err != nil {
		return errors.Storage("failed to remove queue entry", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Debug("Queue entry removed", map[string]interface{}{"intent_id": id})
	}
	return nil
}

// RecordAttempt bumps the attempt count of an entry after a failed
// submission. An absent id is ignored.
func (q *Queue) RecordAttempt(ctx context.Context, id string, attemptErr error) error {
	msg := ""
	if attemptErr != nil {
		msg = truncate(attemptErr.Error(), maxErrorLength)
	}

	query := `
	UPDATE tip_queue
	SET attempts = attempts + 1, last_attempt_at = ?, last_error = ?
	WHERE id = ?
	`
	if _, err := q.db.ExecContext(ctx, query, q.now().UTC().UnixNano(), msg, id); err != nil {
		return errors.Storage("failed to record attempt", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Flag marks entries for manual resolution and returns how many changed.
func (q *Queue) Flag(ctx context.Context, ids []string) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Storage("failed to begin flag transaction", err)
	}
	defer tx.Rollback()

	flagged := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE tip_queue SET flagged = 1 WHERE id = ? AND flagged = 0`, id)
		if err != nil {
			return 0, errors.Storage("failed to flag queue entry", err)
		}
		n, _ := res.RowsAffected()
		flagged += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Storage("failed to commit flags", err)
	}
	return flagged, nil
}

// RemoveOlderThan deletes entries created before cutoff and returns how
// many were deleted.
func (q *Queue) RemoveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM tip_queue WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, errors.Storage("failed to drop stale entries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Storage("failed to drop stale entries", err)
	}
	return int(n), nil
}

// Size returns the number of queued entries.
func (q *Queue) Size(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tip_queue`).Scan(&n); err != nil {
		return 0, errors.Storage("failed to count queue", err)
	}
	return n, nil
}

// GetStats returns queue statistics.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	query := `
	SELECT COUNT(*),
		COALESCE(SUM(flagged), 0),
		COALESCE(SUM(CASE WHEN attempts = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(MAX(attempts), 0),
		MIN(created_at)
	FROM tip_queue
	`
	var stats Stats
	var oldest sql.NullInt64
	if err := q.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Flagged, &stats.NeverTried,
		&stats.MaxAttempts, &oldest); err != nil {
		return nil, errors.Storage("failed to read queue stats", err)
	}
	if oldest.Valid {
		t := time.Unix(0, oldest.Int64).UTC()
		stats.Oldest = &t
	}
	return &stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (q *Queue) scan(row rowScanner) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	var phone string
	var createdAt int64
	var lastAttempt sql.NullInt64
	var flagged int
	err := row.Scan(&entry.Intent.ID, &entry.Intent.WorkerID, &entry.Intent.Amount, &phone,
		&createdAt, &entry.Attempts, &lastAttempt, &entry.LastError, &flagged)
	if err != nil {
		return nil, errors.Storage("failed to scan queue entry", err)
	}

	entry.Intent.CustomerPhone, err = q.sealer.Open(phone)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to open sealed phone for "+entry.Intent.ID, err)
	}
	entry.Intent.CreatedAt = time.Unix(0, createdAt).UTC()
	if lastAttempt.Valid {
		t := time.Unix(0, lastAttempt.Int64).UTC()
		entry.LastAttemptAt = &t
	}
	entry.Flagged = flagged == 1
	return &entry, nil
}
