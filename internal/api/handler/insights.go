package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/api/response"
	"github.com/kiranshivaraju/linesense/internal/insights"
)

// DashboardService defines the dashboard aggregation operations.
type DashboardService interface {
	Stats(ctx context.Context, userID uuid.UUID) (*insights.Stats, error)
	QuickStats(ctx context.Context, userID uuid.UUID) (*insights.QuickStats, error)
	Recent(ctx context.Context, userID uuid.UUID, limit int) (*insights.RecentJobs, error)
}

// HistoryService defines the history browsing operations.
type HistoryService interface {
	List(ctx context.Context, userID uuid.UUID, f insights.Filter, filename string) (*insights.Page, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*insights.Detail, error)
	Search(ctx context.Context, userID uuid.UUID, query string, f insights.Filter) (*insights.SearchPage, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Export(ctx context.Context, userID, id uuid.UUID, format string) (*insights.Export, error)
}

func NewDashboardStatsHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		stats, err := svc.Stats(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, err, "Failed to fetch dashboard stats")
			return
		}
		response.JSON(w, stats)
	}
}

func NewQuickStatsHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		stats, err := svc.QuickStats(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, err, "Failed to fetch quick stats")
			return
		}
		response.JSON(w, stats)
	}
}

// NewRecentJobsHandler returns an http.HandlerFunc for GET /api/dashboard/recent?limit=N.
func NewRecentJobsHandler(svc DashboardService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		recent, err := svc.Recent(r.Context(), user.ID, queryInt(r, "limit"))
		if err != nil {
			writeError(w, r, err, "Failed to fetch recent jobs")
			return
		}
		response.JSON(w, recent)
	}
}

// historyFilter reads page, limit, status, startDate and endDate.
func historyFilter(w http.ResponseWriter, r *http.Request) (insights.Filter, bool) {
	from, err := queryDate(r, "startDate", false)
	if err != nil {
		invalidRequest(w, "Invalid startDate")
		return insights.Filter{}, false
	}
	to, err := queryDate(r, "endDate", true)
	if err != nil {
		invalidRequest(w, "Invalid endDate")
		return insights.Filter{}, false
	}
	return insights.Filter{
		Status: r.URL.Query().Get("status"),
		From:   from,
		To:     to,
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	}, true
}

// NewHistoryListHandler returns an http.HandlerFunc for GET /api/history.
func NewHistoryListHandler(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		f, ok := historyFilter(w, r)
		if !ok {
			return
		}

		page, err := svc.List(r.Context(), user.ID, f, r.URL.Query().Get("search"))
		if err != nil {
			writeError(w, r, err, "Failed to fetch history")
			return
		}
		response.JSON(w, page)
	}
}

func NewHistoryDetailHandler(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "Invalid history ID format")
		if !ok {
			return
		}

		detail, err := svc.Get(r.Context(), user.ID, id)
		if err != nil {
			writeError(w, r, err, "Failed to fetch history record")
			return
		}
		response.JSON(w, detail)
	}
}

// NewHistorySearchHandler returns an http.HandlerFunc for GET /api/history/search.
// The term is read from q, falling back to search.
func NewHistorySearchHandler(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		f, ok := historyFilter(w, r)
		if !ok {
			return
		}
		query := r.URL.Query().Get("q")
		if query == "" {
			query = r.URL.Query().Get("search")
		}

		page, err := svc.Search(r.Context(), user.ID, query, f)
		if err != nil {
			writeError(w, r, err, "Failed to search history")
			return
		}
		response.JSON(w, page)
	}
}

func NewHistoryDeleteHandler(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "Invalid history ID format")
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), user.ID, id); err != nil {
			writeError(w, r, err, "Failed to delete history record")
			return
		}
		response.Message(w, "History record deleted successfully", map[string]any{"id": id})
	}
}

// NewHistoryExportHandler returns an http.HandlerFunc for GET /api/history/export/{id}.
// ?format=xlsx selects a workbook; CSV is the default.
func NewHistoryExportHandler(svc HistoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "Invalid history ID format")
		if !ok {
			return
		}

		export, err := svc.Export(r.Context(), user.ID, id, r.URL.Query().Get("format"))
		if err != nil {
			writeError(w, r, err, "Failed to export history record")
			return
		}
		response.Download(w, export.Filename, export.ContentType, export.Data)
	}
}
