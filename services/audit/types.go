package audit

import (
	"time"

	"github.com/google/uuid"
)

// Statuses an audit session moves through. Finished audits are kept for
// reporting and are never deleted.
const (
	StatusOpen     = "open"
	StatusFinished = "finished"
)

// StatusAvailable is the item status a snapshot item is expected to hold when
// it is scanned during a count.
const StatusAvailable = "available"

// Item is one tracked device in the inventory catalog.
type Item struct {
	ID        uuid.UUID `json:"id" db:"id"`
	IMEI      string    `json:"imei" db:"imei"`
	Serial    string    `json:"serial" db:"serial"`
	Brand     string    `json:"brand" db:"brand"`
	Model     string    `json:"model" db:"model"`
	Category  string    `json:"category" db:"category"`
	Status    string    `json:"status" db:"status"`
	Location  string    `json:"location" db:"location"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Audit is one physical inventory-counting session scoped to a location and
// filter criteria. Counters only grow; reset is a separate destructive path.
type Audit struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Location   string         `json:"location" db:"location"`
	Criteria   map[string]any `json:"criteria" db:"-"`
	Status     string         `json:"status" db:"status"`
	Note       string         `json:"note" db:"note"`
	Counters   Counters       `json:"counters" db:"-"`
	StartedAt  time.Time      `json:"started_at" db:"started_at"`
	FinishedAt *time.Time     `json:"finished_at" db:"finished_at"`
}

// SnapshotItem is one expected device frozen at audit creation time. The
// snapshot is the audit's ground truth for "expected" and never mutates, so
// the count measures drift against a fixed baseline.
type SnapshotItem struct {
	AuditID          uuid.UUID `json:"audit_id" db:"audit_id"`
	ItemID           uuid.UUID `json:"item_id" db:"item_id"`
	IdentifierKind   string    `json:"identifier_kind" db:"identifier_kind"`
	Identifier       string    `json:"identifier" db:"identifier"`
	ExpectedStatus   string    `json:"expected_status" db:"expected_status"`
	ExpectedLocation string    `json:"expected_location" db:"expected_location"`
}

// ScanEvent is one recorded read of a code during an audit. Append-only; the
// ID is client-generated and acts as the idempotence key under sync retries.
type ScanEvent struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	AuditID        uuid.UUID  `json:"audit_id" db:"audit_id"`
	RawCode        string     `json:"raw_code" db:"raw_code"`
	IdentifierKind string     `json:"identifier_kind" db:"identifier_kind"`
	Identifier     string     `json:"identifier" db:"identifier"`
	Outcome        Outcome    `json:"outcome" db:"outcome"`
	MatchedItemID  *uuid.UUID `json:"matched_item_id,omitempty" db:"matched_item_id"`
	FoundLocation  string     `json:"found_location,omitempty" db:"found_location"`
	Source         string     `json:"source" db:"source"`
	CapturedAt     time.Time  `json:"captured_at" db:"captured_at"`
	RecordedAt     time.Time  `json:"recorded_at" db:"recorded_at"`
}

// Task types generated at finalization plus manual entries.
const (
	TaskMissing           = "missing"
	TaskUnexpectedPresent = "unexpected_present"
	TaskStatusIncongruent = "status_incongruent"
	TaskManual            = "manual"
)

// Task statuses. Tasks are resolved by an operator action, never by the
// reconciliation flow itself.
const (
	TaskOpen     = "open"
	TaskResolved = "resolved"
)

// Task is a follow-up remediation record derived from an unresolved
// discrepancy or created manually.
type Task struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	AuditID        uuid.UUID  `json:"audit_id" db:"audit_id"`
	Type           string     `json:"type" db:"type"`
	Description    string     `json:"description" db:"description"`
	Priority       string     `json:"priority" db:"priority"`
	Status         string     `json:"status" db:"status"`
	Identifier     string     `json:"identifier,omitempty" db:"identifier"`
	ResolutionNote string     `json:"resolution_note,omitempty" db:"resolution_note"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}
