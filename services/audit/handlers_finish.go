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

// handleFinishAudit closes an audit and generates follow-up tasks from its
// discrepancies. Outstanding discrepancies never block completion: the caller
// confirms once and the audit closes with a discrepancy note.
func (a *API) handleFinishAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Confirm bool   `json:"confirm"`
		Note    string `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
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
		respondError(w, http.StatusConflict, fmt.Errorf("audit %s is already %s", auditID, audit.Status))
		return
	}

	missing, discrepancies, err := a.collectDiscrepancies(r.Context(), auditID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	outstanding := len(missing) + len(discrepancies)
	if outstanding > 0 && !req.Confirm {
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":         "audit has outstanding discrepancies; repeat with confirm=true to finish anyway",
			"missing":       len(missing),
			"discrepancies": len(discrepancies),
		})
		return
	}

	finishedAt := time.Now().UTC()
	note := strings.TrimSpace(req.Note)
	if note == "" && outstanding > 0 {
		note = fmt.Sprintf("finished with %d missing and %d discrepancy scans outstanding", len(missing), len(discrepancies))
	}

	tasks := buildTasks(auditID, missing, discrepancies, finishedAt)

	err = db.InTx(r.Context(), a.store.DB, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE audits
SET status = $2, finished_at = $3, note = $4, missing = $5
WHERE id = $1 AND status = $6
`, auditID, StatusFinished, finishedAt, note, len(missing), StatusOpen)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("audit %s was finished concurrently", auditID)
		}

		for _, task := range tasks {
			if _, err := tx.Exec(ctx, `
INSERT INTO tasks (id, audit_id, type, description, priority, status, identifier, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, task.ID, task.AuditID, task.Type, task.Description, task.Priority, task.Status, task.Identifier, task.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.metrics.openAudits.Dec()

	a.publishEvent(r.Context(), bus.SubjectAuditFinished, map[string]any{
		"audit_id":      auditID,
		"finished_at":   finishedAt,
		"missing":       len(missing),
		"discrepancies": len(discrepancies),
		"tasks_created": len(tasks),
	})

	finished, err := a.fetchAudit(r.Context(), auditID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"audit":         finished,
		"tasks_created": len(tasks),
	})
}

// collectDiscrepancies loads the snapshot items with no found_expected scan
// and every unexpected or incongruent scan recorded for the audit.
func (a *API) collectDiscrepancies(ctx context.Context, auditID uuid.UUID) ([]SnapshotItem, []ScanEvent, error) {
	var missing []SnapshotItem
	err := db.Select(ctx, a.store.DB, &missing, `
SELECT s.audit_id, s.item_id, s.identifier_kind, s.identifier, s.expected_status, s.expected_location
FROM snapshot_items s
WHERE s.audit_id = $1
  AND NOT EXISTS (
      SELECT 1 FROM scan_events e
      WHERE e.audit_id = s.audit_id
        AND e.matched_item_id = s.item_id
        AND e.outcome = $2
  )
ORDER BY s.id
`, auditID, OutcomeFoundExpected)
	if err != nil {
		return nil, nil, err
	}

	var discrepancies []ScanEvent
	err = db.Select(ctx, a.store.DB, &discrepancies, `
SELECT id, audit_id, raw_code, identifier_kind, identifier, outcome,
       matched_item_id, found_location, source, captured_at, recorded_at
FROM scan_events
WHERE audit_id = $1 AND outcome = ANY($2)
ORDER BY recorded_at
`, auditID, []string{string(OutcomeUnexpectedPresent), string(OutcomeStatusIncongruent)})
	if err != nil {
		return nil, nil, err
	}

	return missing, discrepancies, nil
}

// handleResetAudit is the destructive escape hatch: it deletes every scan
// event and zeroes counters. The request must repeat the audit id as typed
// confirmation; stockctl adds an interactive prompt on top.
func (a *API) handleResetAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Confirm string `json:"confirm"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Confirm) != auditID.String() {
		respondError(w, http.StatusForbidden, errors.New("confirm must repeat the audit id exactly"))
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

	var deleted int64
	err = db.InTx(r.Context(), a.store.DB, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM scan_events WHERE audit_id = $1`, auditID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()

		_, err = tx.Exec(ctx, `
UPDATE audits
SET status = $2, finished_at = NULL, note = '',
    found = 0, unexpected = 0, duplicate = 0, incongruent = 0, not_found = 0,
    missing = (SELECT count(*) FROM snapshot_items WHERE audit_id = $1)
WHERE id = $1
`, auditID, StatusOpen)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if audit.Status == StatusFinished {
		a.metrics.openAudits.Inc()
	}

	a.publishEvent(r.Context(), bus.SubjectAuditReset, map[string]any{
		"audit_id":      auditID,
		"scans_deleted": deleted,
	})

	reset, err := a.fetchAudit(r.Context(), auditID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"audit":         reset,
		"scans_deleted": deleted,
	})
}
