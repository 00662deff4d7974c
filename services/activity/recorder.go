package activity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stocktake/pkg/bus"
	"stocktake/pkg/db"
)

// Actors and actions recorded in the activity feed.
const (
	actorScanner  = "scanner"
	actorOperator = "operator"

	actionScanRecorded  = "scan_recorded"
	actionAuditFinished = "audit_finished"
	actionAuditReset    = "audit_reset"
)

// Entry is one row of the activity feed.
type Entry struct {
	ID      int64          `json:"id" db:"id"`
	Actor   string         `json:"actor" db:"actor"`
	Action  string         `json:"action" db:"action"`
	Obj     string         `json:"obj" db:"obj"`
	Details map[string]any `json:"details" db:"-"`
	At      time.Time      `json:"at" db:"at"`
}

type scanRecordedEvent struct {
	ScanID     uuid.UUID `json:"scan_id"`
	AuditID    uuid.UUID `json:"audit_id"`
	Identifier string    `json:"identifier"`
	Outcome    string    `json:"outcome"`
	Source     string    `json:"source"`
}

type auditFinishedEvent struct {
	AuditID       uuid.UUID `json:"audit_id"`
	FinishedAt    time.Time `json:"finished_at"`
	Missing       int       `json:"missing"`
	Discrepancies int       `json:"discrepancies"`
	TasksCreated  int       `json:"tasks_created"`
}

type auditResetEvent struct {
	AuditID      uuid.UUID `json:"audit_id"`
	ScansDeleted int64     `json:"scans_deleted"`
}

// Recorder consumes audit lifecycle events from NATS and appends them to the
// activity feed table. The feed is an operator-facing chronicle; losing an
// entry never affects counters or classification, so handlers stay simple
// and rely on the bus redelivering on failure.
type Recorder struct {
	pool *pgxpool.Pool
	bus  *bus.Bus

	subMu sync.Mutex
	subs  []io.Closer
}

// NewRecorder constructs a Recorder for the provided dependencies.
func NewRecorder(pool *pgxpool.Pool, bus *bus.Bus) (*Recorder, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if bus == nil {
		return nil, errors.New("bus is required")
	}

	return &Recorder{pool: pool, bus: bus}, nil
}

// Start subscribes to the audit event subjects and records them until ctx is
// cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	if r == nil {
		return errors.New("nil recorder")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	subscriptions := []struct {
		subject string
		durable string
		handler func(ctx context.Context, data []byte) error
	}{
		{bus.SubjectScanRecorded, "activity-scans", r.handleScanRecorded},
		{bus.SubjectAuditFinished, "activity-finished", r.handleAuditFinished},
		{bus.SubjectAuditReset, "activity-reset", r.handleAuditReset},
	}

	for _, s := range subscriptions {
		sub, err := r.bus.Subscribe(ctx, s.subject, s.durable, s.handler)
		if err != nil {
			r.Close()
			return err
		}
		r.subMu.Lock()
		r.subs = append(r.subs, sub)
		r.subMu.Unlock()
	}

	return nil
}

// Close stops every subscription the recorder opened.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	var firstErr error
	for _, sub := range r.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}

func (r *Recorder) handleScanRecorded(ctx context.Context, data []byte) error {
	var evt scanRecordedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.AuditID == uuid.Nil {
		return errors.New("audit_id missing from scan event")
	}

	actor := actorScanner
	if evt.Source != "" {
		actor = evt.Source
	}

	return r.insert(ctx, actor, actionScanRecorded, evt.AuditID.String(), map[string]any{
		"scan_id":    evt.ScanID.String(),
		"identifier": evt.Identifier,
		"outcome":    evt.Outcome,
	})
}

func (r *Recorder) handleAuditFinished(ctx context.Context, data []byte) error {
	var evt auditFinishedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.AuditID == uuid.Nil {
		return errors.New("audit_id missing from finish event")
	}

	return r.insert(ctx, actorOperator, actionAuditFinished, evt.AuditID.String(), map[string]any{
		"missing":       evt.Missing,
		"discrepancies": evt.Discrepancies,
		"tasks_created": evt.TasksCreated,
	})
}

func (r *Recorder) handleAuditReset(ctx context.Context, data []byte) error {
	var evt auditResetEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.AuditID == uuid.Nil {
		return errors.New("audit_id missing from reset event")
	}

	return r.insert(ctx, actorOperator, actionAuditReset, evt.AuditID.String(), map[string]any{
		"scans_deleted": evt.ScansDeleted,
	})
}

func (r *Recorder) insert(ctx context.Context, actor, action, obj string, details map[string]any) error {
	detailsBytes, err := json.Marshal(details)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, r.pool, `
INSERT INTO activity (actor, action, obj, details)
VALUES ($1, $2, $3, $4::jsonb)
`, actor, action, obj, detailsBytes)
	return err
}

// Recent returns the latest feed entries, newest first.
func Recent(ctx context.Context, pool *pgxpool.Pool, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	type row struct {
		ID      int64     `db:"id"`
		Actor   string    `db:"actor"`
		Action  string    `db:"action"`
		Obj     string    `db:"obj"`
		Details []byte    `db:"details"`
		At      time.Time `db:"at"`
	}

	var rows []row
	err := db.Select(ctx, pool, &rows, `
SELECT id, actor, action, obj, details, at
FROM activity
ORDER BY at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entry := Entry{ID: r.ID, Actor: r.Actor, Action: r.Action, Obj: r.Obj, At: r.At}
		if len(r.Details) > 0 {
			if err := json.Unmarshal(r.Details, &entry.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
