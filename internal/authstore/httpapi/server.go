// Package httpapi exposes the auth store's admin surface: liveness,
// Prometheus scraping, and the circuit-breaker/outbox introspection
// endpoints spec.md's external interfaces section names. It carries no
// session-facing API — AuthStore's get/set/delete surface is a Go
// library call, not an HTTP route.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/hybrid"
	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore/reqcontext"
	"github.com/vitaliisemenov/baileys-auth-store/internal/config"
	"github.com/vitaliisemenov/baileys-auth-store/internal/middleware"
	"github.com/vitaliisemenov/baileys-auth-store/pkg/metrics"
)

// Config controls the admin server's network and middleware posture.
type Config struct {
	Addr                    string
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	Environment             string
	MetricsRegistry         *metrics.MetricsRegistry
	ConfigService           config.ConfigService
}

// NewServer builds the admin http.Server: gorilla/mux routing, the
// teacher's security-headers/recovery/logging middleware stack, wrapping
// a hybrid.Store.
func NewServer(cfg Config, store *hybrid.Store, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := mux.NewRouter()
	h := &handlers{store: store, logger: logger, environment: cfg.Environment, configService: cfg.ConfigService}

	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.HandleFunc("/metrics", promhttp.Handler().ServeHTTP).Methods(http.MethodGet)
	router.HandleFunc("/debug/circuit-breaker", h.circuitBreaker).Methods(http.MethodGet)
	router.HandleFunc("/debug/outbox", h.outboxStats).Methods(http.MethodGet)
	router.HandleFunc("/debug/outbox/reconcile", h.reconcileOutbox).Methods(http.MethodPost)
	if h.configService != nil {
		router.HandleFunc("/debug/config", h.debugConfig).Methods(http.MethodGet)
	}

	stack := middleware.BuildAdminMiddlewareStack(&middleware.MiddlewareConfig{
		Logger:          logger,
		MetricsRegistry: cfg.MetricsRegistry,
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      stack(router),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

type handlers struct {
	store         *hybrid.Store
	logger        *slog.Logger
	environment   string
	configService config.ConfigService
}

func (h *handlers) rc(r *http.Request) *reqcontext.Context {
	return reqcontext.New(r.Context(), h.environment)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	rc := h.rc(r)
	healthy := h.store.IsHealthy(rc)
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":         healthy,
		"coldCircuitOpen": h.store.IsColdCircuitBreakerOpen(),
	})
}

func (h *handlers) circuitBreaker(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.GetCircuitBreakerStats())
}

func (h *handlers) outboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetOutboxStats(h.rc(r))
	if err != nil {
		h.logger.Error("httpapi: outbox stats failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) reconcileOutbox(w http.ResponseWriter, r *http.Request) {
	processed, err := h.store.ReconcileOutbox(h.rc(r))
	if err != nil {
		h.logger.Error("httpapi: outbox reconcile failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (h *handlers) debugConfig(w http.ResponseWriter, r *http.Request) {
	resp, err := h.configService.GetConfig(r.Context(), config.GetConfigOptions{Format: "json", Sanitize: true})
	if err != nil {
		h.logger.Error("httpapi: config export failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
