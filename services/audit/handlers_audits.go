package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stocktake/pkg/db"
)

const auditColumns = `id, location, criteria, status, note,
       found, missing, unexpected, duplicate, incongruent, not_found,
       started_at, finished_at`

func (a *API) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria Criteria `json:"criteria"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Criteria.Location = strings.TrimSpace(req.Criteria.Location)
	if req.Criteria.Location == "" {
		respondError(w, http.StatusBadRequest, errors.New("criteria.location is required"))
		return
	}

	auditID := uuid.New()
	startedAt := time.Now().UTC()

	criteriaBytes, err := json.Marshal(req.Criteria.asMap())
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("marshal criteria: %w", err))
		return
	}

	var snapshotSize int
	err = db.InTx(r.Context(), a.store.DB, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO audits (id, location, criteria, status, started_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
`, auditID, req.Criteria.Location, string(criteriaBytes), StatusOpen, startedAt); err != nil {
			return err
		}

		size, err := buildSnapshot(ctx, tx, auditID, req.Criteria)
		if err != nil {
			return err
		}
		snapshotSize = size

		// Until something is found, every snapshot item is missing.
		_, err = tx.Exec(ctx, `UPDATE audits SET missing = $2 WHERE id = $1`, auditID, size)
		return err
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.metrics.openAudits.Inc()

	audit, err := a.fetchAudit(r.Context(), auditID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"audit":         audit,
		"snapshot_size": snapshotSize,
	})
}

func (a *API) handleListAudits(w http.ResponseWriter, r *http.Request) {
	query := `SELECT ` + auditColumns + ` FROM audits`
	args := []any{}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT 200`

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	rows, err := a.store.DB.Query(ctx, query, args...)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	defer rows.Close()

	audits := []Audit{}
	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

func (a *API) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
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

	snapshotSize, distinctFound, err := a.snapshotProgress(r.Context(), auditID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"audit":          audit,
		"snapshot_size":  snapshotSize,
		"distinct_found": distinctFound,
	})
}

func (a *API) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var items []SnapshotItem
	err = db.Select(r.Context(), a.store.DB, &items, `
SELECT audit_id, item_id, identifier_kind, identifier, expected_status, expected_location
FROM snapshot_items
WHERE audit_id = $1
ORDER BY id
`, auditID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"snapshot": items})
}

// fetchAudit loads one audit with missing recomputed from persisted scan
// events rather than trusting the stored column.
func (a *API) fetchAudit(ctx context.Context, auditID uuid.UUID) (Audit, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := a.store.DB.QueryRow(ctx, `SELECT `+auditColumns+` FROM audits WHERE id = $1`, auditID)
	audit, err := scanAudit(row)
	if err != nil {
		return Audit{}, err
	}

	snapshotSize, distinctFound, err := a.snapshotProgress(ctx, auditID)
	if err != nil {
		return Audit{}, err
	}
	audit.Counters.Missing = snapshotSize - distinctFound

	return audit, nil
}

// snapshotProgress reports snapshot size and the number of distinct snapshot
// items with at least one found_expected scan.
func (a *API) snapshotProgress(ctx context.Context, auditID uuid.UUID) (int, int, error) {
	var progress struct {
		SnapshotSize  int `db:"snapshot_size"`
		DistinctFound int `db:"distinct_found"`
	}
	err := db.Get(ctx, a.store.DB, &progress, `
SELECT
    (SELECT count(*) FROM snapshot_items WHERE audit_id = $1) AS snapshot_size,
    (SELECT count(DISTINCT matched_item_id) FROM scan_events
     WHERE audit_id = $1 AND outcome = $2 AND matched_item_id IS NOT NULL) AS distinct_found
`, auditID, OutcomeFoundExpected)
	if err != nil {
		return 0, 0, err
	}
	return progress.SnapshotSize, progress.DistinctFound, nil
}

func scanAudit(row pgx.Row) (Audit, error) {
	var audit Audit
	var criteriaRaw []byte
	err := row.Scan(&audit.ID, &audit.Location, &criteriaRaw, &audit.Status, &audit.Note,
		&audit.Counters.Found, &audit.Counters.Missing, &audit.Counters.Unexpected,
		&audit.Counters.Duplicate, &audit.Counters.Incongruent, &audit.Counters.NotFound,
		&audit.StartedAt, &audit.FinishedAt)
	if err != nil {
		return Audit{}, err
	}
	if len(criteriaRaw) > 0 {
		if err := json.Unmarshal(criteriaRaw, &audit.Criteria); err != nil {
			return Audit{}, fmt.Errorf("decode criteria: %w", err)
		}
	} else {
		audit.Criteria = map[string]any{}
	}
	return audit, nil
}

func auditIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "auditID"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("valid auditID is required")
	}
	return id, nil
}
