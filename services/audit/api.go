package audit

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultRequestTimeout = 60 * time.Second

// Config controls runtime behaviour for the audit API handlers.
type Config struct {
	// DefaultSource labels scan events recorded without an explicit source.
	DefaultSource string
}

// API wires dependencies and configuration for the audit HTTP handlers.
type API struct {
	store   *Store
	config  Config
	metrics *metrics
}

// New initialises the API layer with defaults applied to the provided configuration.
func New(store *Store, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB is required")
	}

	if cfg.DefaultSource == "" {
		cfg.DefaultSource = "api"
	}

	return &API{
		store:   store,
		config:  cfg,
		metrics: newMetrics(),
	}, nil
}

// Routes constructs the chi router containing all audit API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/items", a.handleUpsertItem)
		r.Get("/items/lookup", a.handleLookupItem)

		r.Post("/audits", a.handleCreateAudit)
		r.Get("/audits", a.handleListAudits)
		r.Get("/audits/{auditID}", a.handleGetAudit)
		r.Get("/audits/{auditID}/snapshot", a.handleGetSnapshot)
		r.Post("/audits/{auditID}/scans", a.handleRecordScan)
		r.Get("/audits/{auditID}/scans", a.handleListScans)
		r.Post("/audits/{auditID}/finish", a.handleFinishAudit)
		r.Post("/audits/{auditID}/reset", a.handleResetAudit)
		r.Get("/audits/{auditID}/tasks", a.handleListTasks)
		r.Post("/audits/{auditID}/tasks", a.handleCreateTask)

		r.Post("/tasks/{taskID}/resolve", a.handleResolveTask)
	})

	return r, nil
}
