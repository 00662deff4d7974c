package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"stocktake/pkg/bus"
	"stocktake/pkg/telemetry"
	"stocktake/services/audit"
	"stocktake/services/scanner"
	"stocktake/services/scanner/internal/config"
)

func main() {
	if err := run("scannerd"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	queue, err := scanner.OpenQueue(cfg.QueuePath)
	if err != nil {
		return fmt.Errorf("open offline queue: %w", err)
	}
	defer queue.Close()

	client, err := scanner.NewClient(cfg.APIBase, 10*time.Second)
	if err != nil {
		return fmt.Errorf("build api client: %w", err)
	}

	syncer, err := scanner.NewSyncer(queue, client, logger, nil)
	if err != nil {
		return fmt.Errorf("build syncer: %w", err)
	}

	intake, err := scanner.NewIntake(cfg.AuditID, cfg.Source, cfg.Debounce, queue, client, syncer, nil)
	if err != nil {
		return fmt.Errorf("build intake: %w", err)
	}

	go syncer.Watch(ctx, cfg.ProbeInterval)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.DrainSchedule, func() {
		if _, _, err := syncer.Sync(ctx); err != nil {
			logger.Printf("ERROR scheduled drain: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid drain schedule %q: %w", cfg.DrainSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.NATSURL != "" {
		eventBus, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			logger.Printf("WARN realtime refresh unavailable: %v", err)
		} else {
			defer eventBus.Close()
			durable := fmt.Sprintf("scanner-%s", cfg.Source)
			if _, err := eventBus.Subscribe(ctx, bus.SubjectScanRecorded, durable, intake.HandleFanout); err != nil {
				logger.Printf("WARN subscribe fan-out: %v", err)
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scan", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RawCode string `json:"raw_code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		result, err := intake.Scan(r.Context(), req.RawCode)
		if err != nil {
			status := http.StatusBadGateway
			switch {
			case errors.Is(err, audit.ErrInvalidCode):
				status = http.StatusUnprocessableEntity
			case errors.Is(err, scanner.ErrDebounced):
				status = http.StatusTooManyRequests
			case errors.Is(err, scanner.ErrRejected):
				status = http.StatusConflict
			}
			respondJSON(w, status, map[string]any{"error": err.Error()})
			return
		}

		respondJSON(w, http.StatusOK, result)
	})
	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		pending, err := queue.PendingCount(r.Context())
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"online":  syncer.Online(),
			"pending": pending,
			"recent":  intake.Recent(),
		})
	})
	mux.HandleFunc("POST /v1/sync", func(w http.ResponseWriter, r *http.Request) {
		result, ran, err := syncer.Sync(r.Context())
		if err != nil {
			respondJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": result})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"ran": ran, "result": result})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO scanner agent for audit %s listening on %s", cfg.AuditID, server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
