package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/linesense/internal/analysis"
	"github.com/kiranshivaraju/linesense/internal/api/response"
)

// Pinger checks connectivity to a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AnalysisProbe checks the external analysis service.
type AnalysisProbe interface {
	Health(ctx context.Context) (*analysis.HealthStatus, error)
	CheckDatabase(ctx context.Context) (*analysis.DatabaseCheck, error)
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/health.
func NewHealthHandler(db Pinger, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		services := map[string]string{"database": "ok", "cache": "ok"}
		var failed []string
		if err := db.Ping(ctx); err != nil {
			slog.Warn("database health check failed", "error", err)
			failed = append(failed, "database unavailable")
		}
		if err := cache.Ping(ctx); err != nil {
			slog.Warn("cache health check failed", "error", err)
			failed = append(failed, "cache unavailable")
		}
		if len(failed) > 0 {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED", "One or more services degraded", failed)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  services,
			"timestamp": time.Now().UTC(),
		})
	}
}

// NewAnalysisHealthHandler returns an http.HandlerFunc for GET /api/analysis/health.
// A nil probe means the external service is disabled.
func NewAnalysisHealthHandler(probe AnalysisProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probe == nil {
			response.JSON(w, map[string]any{"status": "disabled", "fallback": "simulation"})
			return
		}

		health, err := probe.Health(r.Context())
		if err != nil {
			slog.Warn("analysis service health check failed", "error", err)
			response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
				"Analysis service is unavailable", []string{err.Error()})
			return
		}

		body := map[string]any{"status": "ok", "service": health}
		if db, err := probe.CheckDatabase(r.Context()); err != nil {
			slog.Warn("analysis service database check failed", "error", err)
			body["database"] = map[string]any{"success": false, "error": err.Error()}
		} else {
			body["database"] = db
		}
		response.JSON(w, body)
	}
}
