package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Queue entry states. Successful entries are deleted, not marked, so the
// table only ever holds work that still needs to reach the server.
const (
	entryPending  = "pending"
	entryInFlight = "in_flight"
	entryFailed   = "failed"
)

// QueuedScan is one scan captured while offline, waiting for submission. The
// event id travels with it so the server can deduplicate retries.
type QueuedScan struct {
	Seq        int64     `json:"seq"`
	EventID    uuid.UUID `json:"event_id"`
	AuditID    uuid.UUID `json:"audit_id"`
	RawCode    string    `json:"raw_code"`
	Source     string    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// SubmitFunc delivers one queued scan to the remote audit service.
type SubmitFunc func(ctx context.Context, scan QueuedScan) error

// DrainResult summarises one drain pass for the pending badge.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Queue is the durable local buffer for scans captured without connectivity.
// Backed by SQLite in WAL mode so an enqueue survives process death the
// moment Enqueue returns. Entries drain strictly in capture order: later
// scans depend on earlier ones having landed for correct duplicate
// classification.
type Queue struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenQueue opens or creates the queue database at path and recovers entries
// a previous process left in flight.
func OpenQueue(path string) (*Queue, error) {
	if path == "" {
		return nil, errors.New("queue path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS scan_queue (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT NOT NULL,
    audit_id    TEXT NOT NULL,
    raw_code    TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    captured_at TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'pending',
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT ''
)
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	// A crash mid-submission must not strand entries: anything in_flight
	// belongs back in the pending pool.
	if _, err := db.Exec(`UPDATE scan_queue SET state = ? WHERE state = ?`, entryPending, entryInFlight); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover in-flight entries: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close releases the underlying database.
func (q *Queue) Close() error {
	if q == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue writes the scan durably and returns its sequence number. It assigns
// an event id when the caller did not.
func (q *Queue) Enqueue(ctx context.Context, scan QueuedScan) (int64, error) {
	if scan.AuditID == uuid.Nil {
		return 0, errors.New("audit id is required")
	}
	if scan.RawCode == "" {
		return 0, errors.New("raw code is required")
	}
	if scan.EventID == uuid.Nil {
		scan.EventID = uuid.New()
	}
	if scan.CapturedAt.IsZero() {
		scan.CapturedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `
INSERT INTO scan_queue (event_id, audit_id, raw_code, source, captured_at, state)
VALUES (?, ?, ?, ?, ?, ?)
`, scan.EventID.String(), scan.AuditID.String(), scan.RawCode, scan.Source,
		scan.CapturedAt.UTC().Format(time.RFC3339Nano), entryPending)
	if err != nil {
		return 0, fmt.Errorf("enqueue scan: %w", err)
	}

	return res.LastInsertId()
}

// PendingCount reports how many entries still await successful submission.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var count int
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM scan_queue`).Scan(&count)
	return count, err
}

// Entries lists queued scans in capture order for inspection.
func (q *Queue) Entries(ctx context.Context) ([]QueuedScan, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx, `
SELECT seq, event_id, audit_id, raw_code, source, captured_at, state, attempts, last_error
FROM scan_queue
ORDER BY seq
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []QueuedScan
	for rows.Next() {
		scan, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, scan)
	}
	return entries, rows.Err()
}

// Drain submits queued entries in FIFO order, at most one attempt per entry
// per call. A success deletes the entry; a failure marks it failed and halts
// the pass, leaving it and every later entry queued for the next drain so
// capture order is preserved end to end. Data is never dropped here: a wedged
// entry waits for a later drain or explicit operator clearance.
func (q *Queue) Drain(ctx context.Context, submit SubmitFunc) (DrainResult, error) {
	if submit == nil {
		return DrainResult{}, errors.New("nil submit function")
	}

	q.mu.Lock()
	entries, err := q.pendingLocked(ctx)
	q.mu.Unlock()
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Attempted++

		if err := q.setState(ctx, entry.Seq, entryInFlight, ""); err != nil {
			return result, err
		}

		if err := submit(ctx, entry); err != nil {
			result.Failed++
			if markErr := q.markFailed(ctx, entry.Seq, err); markErr != nil {
				return result, markErr
			}
			break
		}

		if err := q.remove(ctx, entry.Seq); err != nil {
			return result, err
		}
		result.Succeeded++
	}

	return result, nil
}

// Clear removes a single entry by sequence number. Operator escape hatch for
// entries the server permanently rejects.
func (q *Queue) Clear(ctx context.Context, seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `DELETE FROM scan_queue WHERE seq = ?`, seq)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no queue entry with seq %d", seq)
	}
	return nil
}

// ClearAll removes every queued entry and reports how many were dropped.
func (q *Queue) ClearAll(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `DELETE FROM scan_queue`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queue) pendingLocked(ctx context.Context) ([]QueuedScan, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT seq, event_id, audit_id, raw_code, source, captured_at, state, attempts, last_error
FROM scan_queue
WHERE state IN (?, ?)
ORDER BY seq
`, entryPending, entryFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []QueuedScan
	for rows.Next() {
		scan, err := scanQueueRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, scan)
	}
	return entries, rows.Err()
}

func (q *Queue) setState(ctx context.Context, seq int64, state, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx, `UPDATE scan_queue SET state = ?, last_error = ? WHERE seq = ?`, state, lastError, seq)
	return err
}

func (q *Queue) markFailed(ctx context.Context, seq int64, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx, `
UPDATE scan_queue SET state = ?, attempts = attempts + 1, last_error = ? WHERE seq = ?
`, entryFailed, cause.Error(), seq)
	return err
}

func (q *Queue) remove(ctx context.Context, seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx, `DELETE FROM scan_queue WHERE seq = ?`, seq)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueRow(row rowScanner) (QueuedScan, error) {
	var (
		scan       QueuedScan
		eventID    string
		auditID    string
		capturedAt string
	)
	if err := row.Scan(&scan.Seq, &eventID, &auditID, &scan.RawCode, &scan.Source,
		&capturedAt, &scan.State, &scan.Attempts, &scan.LastError); err != nil {
		return QueuedScan{}, err
	}

	var err error
	if scan.EventID, err = uuid.Parse(eventID); err != nil {
		return QueuedScan{}, fmt.Errorf("queue entry %d: bad event id: %w", scan.Seq, err)
	}
	if scan.AuditID, err = uuid.Parse(auditID); err != nil {
		return QueuedScan{}, fmt.Errorf("queue entry %d: bad audit id: %w", scan.Seq, err)
	}
	if scan.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt); err != nil {
		return QueuedScan{}, fmt.Errorf("queue entry %d: bad captured_at: %w", scan.Seq, err)
	}

	return scan, nil
}
