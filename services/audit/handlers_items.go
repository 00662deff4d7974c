package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var itemStatuses = map[string]bool{
	"available": true,
	"loaned":    true,
	"repair":    true,
	"sold":      true,
	"lost":      true,
}

func (a *API) handleUpsertItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IMEI     string `json:"imei"`
		Serial   string `json:"serial"`
		Brand    string `json:"brand"`
		Model    string `json:"model"`
		Category string `json:"category"`
		Status   string `json:"status"`
		Location string `json:"location"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.IMEI = strings.TrimSpace(req.IMEI)
	req.Serial = strings.TrimSpace(req.Serial)
	if req.IMEI == "" && req.Serial == "" {
		respondError(w, http.StatusBadRequest, errors.New("imei or serial is required"))
		return
	}
	if req.IMEI != "" {
		ident, err := NormalizeCode(req.IMEI)
		if err != nil || ident.Kind != KindIMEI {
			respondError(w, http.StatusBadRequest, fmt.Errorf("imei %q is not a 15-digit IMEI", req.IMEI))
			return
		}
		req.IMEI = ident.Value
	}
	if req.Status == "" {
		req.Status = StatusAvailable
	}
	if !itemStatuses[req.Status] {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", req.Status))
		return
	}

	now := time.Now().UTC()
	id := uuid.New()

	var query string
	var args []any
	if req.IMEI != "" {
		// One row per IMEI; repeated catalog pushes update the device in place.
		query = `
        INSERT INTO items (id, imei, serial, brand, model, category, status, location, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        ON CONFLICT (imei) WHERE imei <> '' DO UPDATE SET
            serial = EXCLUDED.serial,
            brand = EXCLUDED.brand,
            model = EXCLUDED.model,
            category = EXCLUDED.category,
            status = EXCLUDED.status,
            location = EXCLUDED.location,
            updated_at = EXCLUDED.updated_at
        RETURNING id, imei, serial, brand, model, category, status, location, created_at, updated_at;
    `
		args = []any{id, req.IMEI, req.Serial, req.Brand, req.Model, req.Category, req.Status, req.Location, now}
	} else {
		query = `
        INSERT INTO items (id, imei, serial, brand, model, category, status, location, created_at, updated_at)
        VALUES ($1, '', $2, $3, $4, $5, $6, $7, $8, $8)
        RETURNING id, imei, serial, brand, model, category, status, location, created_at, updated_at;
    `
		args = []any{id, req.Serial, req.Brand, req.Model, req.Category, req.Status, req.Location, now}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	row := a.store.DB.QueryRow(ctx, query, args...)
	var item Item
	if err := row.Scan(&item.ID, &item.IMEI, &item.Serial, &item.Brand, &item.Model, &item.Category,
		&item.Status, &item.Location, &item.CreatedAt, &item.UpdatedAt); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleLookupItem(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		respondError(w, http.StatusBadRequest, errors.New("code query parameter is required"))
		return
	}

	ident, err := NormalizeCode(code)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err)
		return
	}

	item, err := a.lookupItem(r.Context(), ident)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if item == nil {
		respondError(w, http.StatusNotFound, fmt.Errorf("no item matches %s %s", ident.Kind, ident.Value))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"identifier": ident,
		"item":       item,
	})
}
