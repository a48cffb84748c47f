package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"lessonbot/internal/broadcast"
	"lessonbot/pkg/logx"
)

// JobStore implements broadcast.JobStore over the broadcast_jobs table.
type JobStore struct {
	store *Store
}

func (s *Store) Jobs() *JobStore { return &JobStore{store: s} }

// Enqueue validates and persists a new pending job. A zero scheduledAt is
// the "send immediately" sentinel and resolves to a near-past timestamp so
// the very next tick picks the job up.
func (j *JobStore) Enqueue(ctx context.Context, scheduledAt time.Time, content broadcast.Content, keyboard *broadcast.Keyboard) (int64, error) {
	if err := content.Validate(); err != nil {
		return 0, err
	}
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().Add(-time.Second)
	}

	contentJSON, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("marshal content: %w", err)
	}
	var keyboardJSON any
	if keyboard != nil {
		b, err := json.Marshal(keyboard)
		if err != nil {
			return 0, fmt.Errorf("marshal keyboard: %w", err)
		}
		keyboardJSON = string(b)
	}

	res, err := j.store.db.ExecContext(ctx,
		`INSERT INTO broadcast_jobs(scheduled_at, status, content, keyboard, created_at)
		 VALUES(?,?,?,?,?)`,
		formatTime(scheduledAt), string(broadcast.StatusPending), string(contentJSON), keyboardJSON, formatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	j.store.log.Debug("broadcast job enqueued", logx.Int64("job", id), logx.Time("scheduled_at", scheduledAt))
	return id, nil
}

// ListDue returns pending jobs whose scheduled time has passed, oldest
// first, ties broken by id so replays are deterministic.
func (j *JobStore) ListDue(ctx context.Context, now time.Time) ([]broadcast.Job, error) {
	rows, err := j.store.db.QueryContext(ctx,
		`SELECT id, scheduled_at, status, content, keyboard, claimed_at, created_at
		 FROM broadcast_jobs
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`,
		string(broadcast.StatusPending), formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []broadcast.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim transitions pending -> claimed with a single conditional update, so
// racing callers observe exactly one success. A false result is not an
// error: the job was already claimed or is terminal.
func (j *JobStore) Claim(ctx context.Context, id int64) (bool, error) {
	res, err := j.store.db.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status = ?, claimed_at = ?
		 WHERE id = ? AND status = ?`,
		string(broadcast.StatusClaimed), formatTime(time.Now()), id, string(broadcast.StatusPending),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete finishes a claimed job. Calling it in any other state is a no-op;
// that indicates a consistency bug elsewhere, so it is logged, not raised.
func (j *JobStore) Complete(ctx context.Context, id int64, outcome broadcast.Status) error {
	if !outcome.Terminal() {
		return fmt.Errorf("complete: outcome %q is not terminal", outcome)
	}
	res, err := j.store.db.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status = ?, claimed_at = NULL
		 WHERE id = ? AND status = ?`,
		string(outcome), id, string(broadcast.StatusClaimed),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		j.store.log.Warn("complete called on a job that is not claimed",
			logx.Int64("job", id), logx.String("outcome", string(outcome)))
	}
	return nil
}

// RecoverStuck reverts claims older than the threshold back to pending, so a
// crashed worker can't hold a job forever.
func (j *JobStore) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := j.store.db.ExecContext(ctx,
		`UPDATE broadcast_jobs SET status = ?, claimed_at = NULL
		 WHERE status = ? AND claimed_at <= ?`,
		string(broadcast.StatusPending), string(broadcast.StatusClaimed), formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeTerminal deletes sent/failed jobs older than the retention window.
// Jobs are otherwise retained for audit.
func (j *JobStore) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := j.store.db.ExecContext(ctx,
		`DELETE FROM broadcast_jobs
		 WHERE status IN (?, ?) AND created_at <= ?`,
		string(broadcast.StatusSent), string(broadcast.StatusFailed), formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Get fetches one job by id, mostly for tests and operator inspection.
func (j *JobStore) Get(ctx context.Context, id int64) (broadcast.Job, error) {
	row := j.store.db.QueryRowContext(ctx,
		`SELECT id, scheduled_at, status, content, keyboard, claimed_at, created_at
		 FROM broadcast_jobs WHERE id = ?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (broadcast.Job, error) {
	var (
		job          broadcast.Job
		scheduledAt  string
		status       string
		contentJSON  string
		keyboardJSON sql.NullString
		claimedAt    sql.NullString
		createdAt    string
	)
	if err := r.Scan(&job.ID, &scheduledAt, &status, &contentJSON, &keyboardJSON, &claimedAt, &createdAt); err != nil {
		return broadcast.Job{}, err
	}

	var err error
	if job.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return broadcast.Job{}, fmt.Errorf("job %d: scheduled_at: %w", job.ID, err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return broadcast.Job{}, fmt.Errorf("job %d: created_at: %w", job.ID, err)
	}
	if claimedAt.Valid {
		if job.ClaimedAt, err = parseTime(claimedAt.String); err != nil {
			return broadcast.Job{}, fmt.Errorf("job %d: claimed_at: %w", job.ID, err)
		}
	}
	job.Status = broadcast.Status(status)

	if err := json.Unmarshal([]byte(contentJSON), &job.Content); err != nil {
		return broadcast.Job{}, fmt.Errorf("job %d: content: %w", job.ID, err)
	}
	if keyboardJSON.Valid && keyboardJSON.String != "" {
		kb, err := broadcast.ParseKeyboard([]byte(keyboardJSON.String))
		if err != nil {
			return broadcast.Job{}, fmt.Errorf("job %d: keyboard: %w", job.ID, err)
		}
		job.Keyboard = kb
	}
	return job, nil
}
