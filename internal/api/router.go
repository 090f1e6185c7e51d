package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	CORSOrigin string
	// ExposeErrorDetail adds the underlying error to 500 responses. Off in production.
	ExposeErrorDetail bool

	HealthHandler         http.HandlerFunc
	AnalysisHealthHandler http.HandlerFunc

	RegisterHandler       http.HandlerFunc
	LoginHandler          http.HandlerFunc
	LogoutHandler         http.HandlerFunc
	MeHandler             http.HandlerFunc
	UpdateProfileHandler  http.HandlerFunc
	ChangePasswordHandler http.HandlerFunc
	DeleteAccountHandler  http.HandlerFunc
	ReactivateHandler     http.HandlerFunc

	UploadHandler       http.HandlerFunc
	BatchUploadHandler  http.HandlerFunc
	ProcessTextHandler  http.HandlerFunc
	JobStatusHandler    http.HandlerFunc
	JobResultsHandler   http.HandlerFunc
	CancelJobHandler    http.HandlerFunc
	BatchStatusHandler  http.HandlerFunc
	BatchResultsHandler http.HandlerFunc

	DashboardStatsHandler http.HandlerFunc
	RecentJobsHandler     http.HandlerFunc
	QuickStatsHandler     http.HandlerFunc

	HistoryListHandler   http.HandlerFunc
	HistorySearchHandler http.HandlerFunc
	HistoryDetailHandler http.HandlerFunc
	HistoryDeleteHandler http.HandlerFunc
	HistoryExportHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.ErrorDetail(deps.ExposeErrorDetail))
	r.Use(mw.Recovery)
	if deps.CORSOrigin != "" {
		r.Use(mw.CORS(deps.CORSOrigin))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", orNotImplemented(deps.HealthHandler))
		r.Get("/analysis/health", orNotImplemented(deps.AnalysisHealthHandler))
		r.Post("/auth/register", orNotImplemented(deps.RegisterHandler))
		r.Post("/auth/login", orNotImplemented(deps.LoginHandler))
		r.Post("/auth/reactivate", orNotImplemented(deps.ReactivateHandler))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			r.Post("/auth/logout", orNotImplemented(deps.LogoutHandler))
			r.Get("/auth/me", orNotImplemented(deps.MeHandler))
			r.Put("/auth/profile", orNotImplemented(deps.UpdateProfileHandler))
			r.Put("/auth/change-password", orNotImplemented(deps.ChangePasswordHandler))
			r.Delete("/auth/account", orNotImplemented(deps.DeleteAccountHandler))

			r.Post("/text/upload", orNotImplemented(deps.UploadHandler))
			r.Post("/text/batch", orNotImplemented(deps.BatchUploadHandler))
			r.Post("/text/process", orNotImplemented(deps.ProcessTextHandler))
			r.Get("/text/status/{jobID}", orNotImplemented(deps.JobStatusHandler))
			r.Get("/text/results/{jobID}", orNotImplemented(deps.JobResultsHandler))
			r.Delete("/text/cancel/{jobID}", orNotImplemented(deps.CancelJobHandler))
			r.Get("/text/batch/{batchID}", orNotImplemented(deps.BatchStatusHandler))
			r.Get("/text/batch/{batchID}/results", orNotImplemented(deps.BatchResultsHandler))

			r.Get("/dashboard/stats", orNotImplemented(deps.DashboardStatsHandler))
			r.Get("/dashboard/recent", orNotImplemented(deps.RecentJobsHandler))
			r.Get("/dashboard/quick-stats", orNotImplemented(deps.QuickStatsHandler))

			r.Get("/history", orNotImplemented(deps.HistoryListHandler))
			r.Get("/history/search", orNotImplemented(deps.HistorySearchHandler))
			r.Get("/history/export/{id}", orNotImplemented(deps.HistoryExportHandler))
			r.Get("/history/{id}", orNotImplemented(deps.HistoryDetailHandler))
			r.Delete("/history/{id}", orNotImplemented(deps.HistoryDeleteHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
