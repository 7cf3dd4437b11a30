// Package jobs is a small persistent job queue on SQLite with lock-based
// stall detection. A claimed job holds a lock token that must be renewed
// (by reporting progress or logging) before the lock expires; a job whose
// lock expired is considered stalled and is requeued or failed.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// StalledReason is recorded on jobs failed by the stall checker.
const StalledReason = "job stalled more than allowable limit"

var (
	// ErrUnknownJob is returned for ids the queue has never seen.
	ErrUnknownJob = errors.New("unknown job")
	// ErrLockLost is returned when a job's lock expired or was taken over.
	ErrLockLost = errors.New("job lock lost")
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT    NOT NULL UNIQUE,
	name          TEXT    NOT NULL,
	data          TEXT    NOT NULL,
	state         TEXT    NOT NULL,
	progress      INTEGER NOT NULL DEFAULT 0,
	result        TEXT,
	error         TEXT    NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	stalled_count INTEGER NOT NULL DEFAULT 0,
	lock_token    TEXT,
	locked_until  INTEGER,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(name, state, seq);

CREATE TABLE IF NOT EXISTS job_logs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT    NOT NULL,
	message    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, seq);
`

// Record is a persisted job.
type Record struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	State        State           `json:"state"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Attempts     int             `json:"attempts"`
	StalledCount int             `json:"stalledCount"`
	Logs         []string        `json:"logs,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the job payload into v.
func (r *Record) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// SQLiteQueue stores jobs in a SQLite database, typically the one shared with the entity store.
type SQLiteQueue struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteQueue migrates the job tables on db.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	if _, err := db.Exec(queueSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate job schema: %w", err)
	}
	return &SQLiteQueue{db: db, now: time.Now}, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Add enqueues a job. data is stored as JSON.
func (q *SQLiteQueue) Add(ctx context.Context, name string, data any) (*Record, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job data: %w", err)
	}
	now := q.now()
	rec := &Record{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      payload,
		State:     StateWaiting,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, name, data, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, name, string(payload), string(StateWaiting), millis(now), millis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to add job: %w", err)
	}
	return rec, nil
}

const selectRecord = `SELECT id, name, data, state, progress, result, error, attempts, stalled_count,
	created_at, updated_at, finished_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec              Record
		data, state      string
		result           sql.NullString
		created, updated int64
		finished         sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Name, &data, &state, &rec.Progress, &result, &rec.Error,
		&rec.Attempts, &rec.StalledCount, &created, &updated, &finished)
	if err != nil {
		return nil, err
	}
	rec.Data = json.RawMessage(data)
	rec.State = State(state)
	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	if finished.Valid {
		t := fromMillis(finished.Int64)
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// Get returns a job with its log lines.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(q.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	rows, err := q.db.QueryContext(ctx, `SELECT message FROM job_logs WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load logs of job %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, err
		}
		rec.Logs = append(rec.Logs, msg)
	}
	return rec, rows.Err()
}

// List returns the most recent jobs of a name, newest first, without logs.
func (q *SQLiteQueue) List(ctx context.Context, name string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.db.QueryContext(ctx, selectRecord+` WHERE name = ? ORDER BY seq DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// claim moves the oldest waiting job of name to active under a fresh lock.
// It returns nil when nothing is waiting.
func (q *SQLiteQueue) claim(ctx context.Context, name string, lockFor time.Duration) (*Job, error) {
	now := q.now()
	token := uuid.NewString()
	var id string
	err := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET state = ?, lock_token = ?, locked_until = ?, attempts = attempts + 1, updated_at = ?
		WHERE seq = (SELECT seq FROM jobs WHERE name = ? AND state = ? ORDER BY seq LIMIT 1)
		RETURNING id`,
		string(StateActive), token, millis(now.Add(lockFor)), millis(now), name, string(StateWaiting)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	rec, err := scanRecord(q.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &Job{Record: rec, queue: q, token: token, lockFor: lockFor}, nil
}

// guarded runs an update that only applies while token still holds the job's lock.
func (q *SQLiteQueue) guarded(ctx context.Context, id, token, set string, args ...any) error {
	args = append(args, id, token, string(StateActive))
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET `+set+` WHERE id = ? AND lock_token = ? AND state = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, id)
	}
	return nil
}

func (q *SQLiteQueue) updateProgress(ctx context.Context, id, token string, pct int, lockFor time.Duration) error {
	now := q.now()
	return q.guarded(ctx, id, token, `progress = ?, locked_until = ?, updated_at = ?`,
		pct, millis(now.Add(lockFor)), millis(now))
}

func (q *SQLiteQueue) appendLog(ctx context.Context, id, token, msg string, lockFor time.Duration) error {
	now := q.now()
	if err := q.guarded(ctx, id, token, `locked_until = ?, updated_at = ?`, millis(now.Add(lockFor)), millis(now)); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, message, created_at) VALUES (?, ?, ?)`, id, msg, millis(now))
	if err != nil {
		return fmt.Errorf("failed to append log to job %s: %w", id, err)
	}
	return nil
}

func (q *SQLiteQueue) complete(ctx context.Context, id, token string, result json.RawMessage) error {
	now := millis(q.now())
	return q.guarded(ctx, id, token,
		`state = ?, result = ?, lock_token = NULL, locked_until = NULL, updated_at = ?, finished_at = ?`,
		string(StateCompleted), string(result), now, now)
}

func (q *SQLiteQueue) fail(ctx context.Context, id, token, reason string) error {
	now := millis(q.now())
	return q.guarded(ctx, id, token,
		`state = ?, error = ?, lock_token = NULL, locked_until = NULL, updated_at = ?, finished_at = ?`,
		string(StateFailed), reason, now, now)
}

// release returns an active job to the waiting state without counting a stall.
func (q *SQLiteQueue) release(ctx context.Context, id, token string) error {
	return q.guarded(ctx, id, token,
		`state = ?, lock_token = NULL, locked_until = NULL, updated_at = ?`,
		string(StateWaiting), millis(q.now()))
}

// recoverStalled handles active jobs of name whose lock expired: jobs that
// already stalled maxStalled times are failed, the rest go back to waiting.
func (q *SQLiteQueue) recoverStalled(ctx context.Context, name string, maxStalled int) (requeued, failed int64, err error) {
	now := millis(q.now())
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, error = ?, lock_token = NULL, locked_until = NULL, updated_at = ?, finished_at = ?
		WHERE name = ? AND state = ? AND locked_until < ? AND stalled_count >= ?`,
		string(StateFailed), StalledReason, now, now, name, string(StateActive), now, maxStalled)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fail stalled jobs: %w", err)
	}
	failed, _ = res.RowsAffected()

	res, err = q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, stalled_count = stalled_count + 1, lock_token = NULL, locked_until = NULL, updated_at = ?
		WHERE name = ? AND state = ? AND locked_until < ?`,
		string(StateWaiting), now, name, string(StateActive), now)
	if err != nil {
		return 0, failed, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}
	requeued, _ = res.RowsAffected()
	return requeued, failed, nil
}

// Job is a claimed job handed to a Processor.
type Job struct {
	*Record
	queue   *SQLiteQueue
	token   string
	lockFor time.Duration
}

// UpdateProgress records progress and renews the job's lock.
func (j *Job) UpdateProgress(ctx context.Context, pct int) error {
	if err := j.queue.updateProgress(ctx, j.ID, j.token, pct, j.lockFor); err != nil {
		return err
	}
	j.Progress = pct
	return nil
}

// Log appends a line to the job's log and renews its lock.
func (j *Job) Log(ctx context.Context, msg string) error {
	if err := j.queue.appendLog(ctx, j.ID, j.token, msg, j.lockFor); err != nil {
		return err
	}
	j.Logs = append(j.Logs, msg)
	return nil
}
