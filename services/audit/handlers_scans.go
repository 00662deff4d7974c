package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stocktake/pkg/bus"
	"stocktake/pkg/db"
)

// handleRecordScan runs one scan through the reconciliation pipeline:
// normalise, duplicate check, inventory lookup, snapshot membership,
// classification, durable insert, counter bump, fan-out. The event id is the
// idempotence key: replaying an already recorded event returns the original
// outcome without touching counters.
func (a *API) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		ID         uuid.UUID `json:"id"`
		RawCode    string    `json:"raw_code"`
		Source     string    `json:"source"`
		CapturedAt time.Time `json:"captured_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.RawCode = strings.TrimSpace(req.RawCode)
	if req.RawCode == "" {
		respondError(w, http.StatusBadRequest, errors.New("raw_code is required"))
		return
	}

	ident, err := NormalizeCode(req.RawCode)
	if err != nil {
		// Invalid codes are surfaced, never persisted as scans.
		a.metrics.invalidCodes.Inc()
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}

	audit, err := a.fetchAudit(r.Context(), auditID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, fmt.Errorf("audit %s not found", auditID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if audit.Status != StatusOpen {
		respondError(w, http.StatusConflict, fmt.Errorf("audit %s is %s", auditID, audit.Status))
		return
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CapturedAt.IsZero() {
		req.CapturedAt = time.Now().UTC()
	}
	if req.Source == "" {
		req.Source = a.config.DefaultSource
	}

	evt, item, err := a.classifyScan(r.Context(), auditID, req.ID, req.RawCode, ident, req.Source, req.CapturedAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	inserted, err := a.persistScan(r.Context(), &evt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if !inserted {
		// Replay of an event id the sync engine already delivered. Return the
		// recorded outcome; counters were bumped when it first landed.
		a.metrics.scansReplayed.Inc()
		existing, err := a.fetchScan(r.Context(), evt.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"scan":     existing,
			"replayed": true,
		})
		return
	}

	a.metrics.scansClassified.WithLabelValues(string(evt.Outcome)).Inc()

	a.publishEvent(r.Context(), bus.SubjectScanRecorded, map[string]any{
		"scan_id":    evt.ID,
		"audit_id":   evt.AuditID,
		"identifier": evt.Identifier,
		"outcome":    evt.Outcome,
		"source":     evt.Source,
	})

	payload := map[string]any{"scan": evt}
	if item != nil {
		payload["item"] = item
	}
	respondJSON(w, http.StatusCreated, payload)
}

// classifyScan resolves the decision table inputs and produces the event to
// persist. Pure classification stays in Classify; this gathers its facts.
func (a *API) classifyScan(ctx context.Context, auditID, eventID uuid.UUID, rawCode string, ident Identifier, source string, capturedAt time.Time) (ScanEvent, *Item, error) {
	input := ClassifyInput{}

	already, err := a.identifierScanned(ctx, auditID, ident.Value)
	if err != nil {
		return ScanEvent{}, nil, err
	}
	input.AlreadyScanned = already

	evt := ScanEvent{
		ID:             eventID,
		AuditID:        auditID,
		RawCode:        rawCode,
		IdentifierKind: string(ident.Kind),
		Identifier:     ident.Value,
		Source:         source,
		CapturedAt:     capturedAt,
		RecordedAt:     time.Now().UTC(),
	}

	var item *Item
	if !already {
		// Duplicate short-circuits before the lookup, so a replayed queued
		// scan costs no catalog query and cannot double-count.
		item, err = a.lookupItem(ctx, ident)
		if err != nil {
			return ScanEvent{}, nil, err
		}
	}

	if item != nil {
		input.Match = &Match{ItemID: item.ID, LiveStatus: item.Status, Location: item.Location}
		evt.MatchedItemID = &item.ID
		evt.FoundLocation = item.Location

		var expectedStatus string
		err = db.Get(ctx, a.store.DB, &expectedStatus, `
SELECT expected_status FROM snapshot_items WHERE audit_id = $1 AND item_id = $2
`, auditID, item.ID)
		switch {
		case err == nil:
			input.InSnapshot = true
			input.ExpectedStatus = expectedStatus
		case errors.Is(err, pgx.ErrNoRows):
			// Matched item outside the snapshot.
		default:
			return ScanEvent{}, nil, err
		}
	}

	evt.Outcome = Classify(input)
	return evt, item, nil
}

// identifierScanned is the duplicate detector: membership over identifiers
// with at least one non-duplicate scan event for the audit. Best-effort under
// concurrent clients; replay stays correct because counters key on event id.
func (a *API) identifierScanned(ctx context.Context, auditID uuid.UUID, identifier string) (bool, error) {
	var exists bool
	err := db.Get(ctx, a.store.DB, &exists, `
SELECT EXISTS (
    SELECT 1 FROM scan_events
    WHERE audit_id = $1 AND identifier = $2 AND outcome <> $3
)
`, auditID, identifier, OutcomeDuplicate)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// persistScan appends the event and bumps its counter in one transaction.
// ON CONFLICT keeps the pair idempotent by event id: when the insert is a
// no-op the counter stays untouched, so at-least-once delivery from the sync
// engine cannot double-count.
func (a *API) persistScan(ctx context.Context, evt *ScanEvent) (bool, error) {
	column, ok := counterColumn[evt.Outcome]
	if !ok {
		return false, fmt.Errorf("no counter for outcome %q", evt.Outcome)
	}

	inserted := false
	err := db.InTx(ctx, a.store.DB, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO scan_events (id, audit_id, raw_code, identifier_kind, identifier, outcome,
                         matched_item_id, found_location, source, captured_at, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING
`, evt.ID, evt.AuditID, evt.RawCode, evt.IdentifierKind, evt.Identifier, evt.Outcome,
			evt.MatchedItemID, evt.FoundLocation, evt.Source, evt.CapturedAt, evt.RecordedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true

		_, err = tx.Exec(ctx,
			fmt.Sprintf(`UPDATE audits SET %s = %s + 1 WHERE id = $1`, column, column),
			evt.AuditID)
		return err
	})
	return inserted, err
}

func (a *API) fetchScan(ctx context.Context, scanID uuid.UUID) (ScanEvent, error) {
	var evt ScanEvent
	err := db.Get(ctx, a.store.DB, &evt, `
SELECT id, audit_id, raw_code, identifier_kind, identifier, outcome,
       matched_item_id, found_location, source, captured_at, recorded_at
FROM scan_events
WHERE id = $1
`, scanID)
	return evt, err
}

func (a *API) handleListScans(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	query := `
SELECT id, audit_id, raw_code, identifier_kind, identifier, outcome,
       matched_item_id, found_location, source, captured_at, recorded_at
FROM scan_events
WHERE audit_id = $1`
	args := []any{auditID}
	if outcome := strings.TrimSpace(r.URL.Query().Get("outcome")); outcome != "" {
		args = append(args, outcome)
		query += ` AND outcome = $2`
	}
	query += ` ORDER BY recorded_at DESC LIMIT 500`

	var scans []ScanEvent
	if err := db.Select(r.Context(), a.store.DB, &scans, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if scans == nil {
		scans = []ScanEvent{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"scans": scans})
}
