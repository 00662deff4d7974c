package audit

import (
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

const taskColumns = `id, audit_id, type, description, priority, status, identifier,
       resolution_note, created_at, resolved_at`

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE audit_id = $1`
	args := []any{auditID}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		args = append(args, status)
		query += ` AND status = $2`
	}
	query += ` ORDER BY created_at`

	var tasks []Task
	if err := db.Select(r.Context(), a.store.DB, &tasks, query, args...); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []Task{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	auditID, err := auditIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Description string `json:"description"`
		Priority    string `json:"priority"`
		Identifier  string `json:"identifier"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		respondError(w, http.StatusBadRequest, errors.New("description is required"))
		return
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}

	task := Task{
		ID:          uuid.New(),
		AuditID:     auditID,
		Type:        TaskManual,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      TaskOpen,
		Identifier:  strings.TrimSpace(req.Identifier),
		CreatedAt:   time.Now().UTC(),
	}

	_, err = db.Exec(r.Context(), a.store.DB, `
INSERT INTO tasks (id, audit_id, type, description, priority, status, identifier, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, task.ID, task.AuditID, task.Type, task.Description, task.Priority, task.Status, task.Identifier, task.CreatedAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (a *API) handleResolveTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "taskID")))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid taskID is required"))
		return
	}

	var req struct {
		Note string `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	row := a.store.DB.QueryRow(ctx, `
UPDATE tasks
SET status = $2, resolution_note = $3, resolved_at = $4
WHERE id = $1
RETURNING `+taskColumns, taskID, TaskResolved, strings.TrimSpace(req.Note), now)

	var task Task
	if err := row.Scan(&task.ID, &task.AuditID, &task.Type, &task.Description, &task.Priority,
		&task.Status, &task.Identifier, &task.ResolutionNote, &task.CreatedAt, &task.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, fmt.Errorf("task %s not found", taskID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"task": task})
}
