package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"stocktake/services/audit"
)

// ErrDebounced rejects a raw scan that arrived while the previous one was
// still classifying or inside the debounce window. Hardware scanners
// double-fire; admission control here keeps the duplicate detector honest.
var ErrDebounced = errors.New("scan debounced")

// IntakeResult tells the device UI what happened to one scan.
type IntakeResult struct {
	EventID  uuid.UUID `json:"event_id"`
	Outcome  string    `json:"outcome,omitempty"`
	Queued   bool      `json:"queued"`
	Seq      int64     `json:"seq,omitempty"`
	Replayed bool      `json:"replayed,omitempty"`
}

// fanoutEvent mirrors the payload stocktaked publishes on scan recording.
type fanoutEvent struct {
	ScanID     uuid.UUID `json:"scan_id"`
	AuditID    uuid.UUID `json:"audit_id"`
	Identifier string    `json:"identifier"`
	Outcome    string    `json:"outcome"`
	Source     string    `json:"source"`
}

const recentFanoutLimit = 50

// Intake is one client session's scan entry point: normalise, debounce,
// submit online or enqueue offline. One active scan at a time per session.
type Intake struct {
	auditID  uuid.UUID
	source   string
	debounce time.Duration

	queue   *Queue
	remote  Submitter
	syncer  *Syncer
	metrics *agentMetrics

	mu       sync.Mutex
	inFlight bool
	lastScan time.Time

	recentMu sync.Mutex
	recent   []fanoutEvent
}

// NewIntake builds a session bound to one audit.
func NewIntake(auditID uuid.UUID, source string, debounce time.Duration, queue *Queue, remote Submitter, syncer *Syncer, metrics *agentMetrics) (*Intake, error) {
	if auditID == uuid.Nil {
		return nil, errors.New("audit id is required")
	}
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if remote == nil {
		return nil, errors.New("remote submitter is required")
	}
	if syncer == nil {
		return nil, errors.New("syncer is required")
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	if metrics == nil {
		metrics = syncer.metrics
	}

	return &Intake{
		auditID:  auditID,
		source:   source,
		debounce: debounce,
		queue:    queue,
		remote:   remote,
		syncer:   syncer,
		metrics:  metrics,
	}, nil
}

// Scan processes one raw code. Invalid codes error out before anything is
// recorded or queued. Online submissions that hit transport failures divert
// into the offline queue instead of being lost or misclassified as not_found.
func (i *Intake) Scan(ctx context.Context, rawCode string) (IntakeResult, error) {
	if _, err := audit.NormalizeCode(rawCode); err != nil {
		return IntakeResult{}, err
	}

	if err := i.admit(); err != nil {
		i.metrics.debounced.Inc()
		return IntakeResult{}, err
	}
	defer i.release()

	scan := QueuedScan{
		EventID:    uuid.New(),
		AuditID:    i.auditID,
		RawCode:    rawCode,
		Source:     i.source,
		CapturedAt: time.Now().UTC(),
	}

	if i.syncer.Online() {
		result, err := i.remote.SubmitScan(ctx, scan)
		if err == nil {
			return IntakeResult{EventID: scan.EventID, Outcome: result.Outcome, Replayed: result.Replayed}, nil
		}
		if errors.Is(err, ErrRejected) {
			// The server will never accept this scan; queueing it would
			// wedge the FIFO drain behind a permanent failure.
			return IntakeResult{}, err
		}
		// Transport trouble: fall through to the durable queue.
	}

	seq, err := i.queue.Enqueue(ctx, scan)
	if err != nil {
		return IntakeResult{}, fmt.Errorf("enqueue offline scan: %w", err)
	}
	i.metrics.scansQueued.Inc()

	return IntakeResult{EventID: scan.EventID, Queued: true, Seq: seq}, nil
}

// admit enforces the debounce window: one scan in flight per session, and a
// minimum interval between accepted raw scans.
func (i *Intake) admit() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := time.Now()
	if i.inFlight {
		return fmt.Errorf("%w: previous scan still classifying", ErrDebounced)
	}
	if !i.lastScan.IsZero() && now.Sub(i.lastScan) < i.debounce {
		return fmt.Errorf("%w: within %s of previous scan", ErrDebounced, i.debounce)
	}

	i.inFlight = true
	i.lastScan = now
	return nil
}

func (i *Intake) release() {
	i.mu.Lock()
	i.inFlight = false
	i.mu.Unlock()
}

// HandleFanout consumes a scan-recorded event from the bus. Advisory only:
// it refreshes the recent-activity list shown on the device, never counters.
func (i *Intake) HandleFanout(ctx context.Context, data []byte) error {
	var evt fanoutEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.AuditID != i.auditID {
		return nil
	}

	i.recentMu.Lock()
	defer i.recentMu.Unlock()

	i.recent = append(i.recent, evt)
	if len(i.recent) > recentFanoutLimit {
		i.recent = i.recent[len(i.recent)-recentFanoutLimit:]
	}
	return nil
}

// Recent returns the latest fan-out events observed for this audit.
func (i *Intake) Recent() []fanoutEvent {
	i.recentMu.Lock()
	defer i.recentMu.Unlock()

	out := make([]fanoutEvent, len(i.recent))
	copy(out, i.recent)
	return out
}
