package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/apperr"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

const topKeywordCount = 5

var (
	ErrRecordNotFound = apperr.NotFound("History record not found")
	ErrNotDeletable   = apperr.NotFound("History record not found or cannot be deleted (job may still be processing)")
	ErrJobNotFound    = apperr.NotFound("Job not found")
	ErrInvalidStatus  = apperr.Invalid("Invalid status filter")
)

// History serves the per-user job history pages.
type History struct {
	store store.Store
	cache cache.Cache
	now   func() time.Time
}

func NewHistory(st store.Store, ca cache.Cache) *History {
	return &History{store: st, cache: ca, now: time.Now}
}

// Filter narrows a history listing. Status "all" or "" matches every status.
type Filter struct {
	Status string
	From   time.Time
	To     time.Time
	Page   int
	Limit  int
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

func paginate(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasNext:    page*limit < total,
		HasPrev:    page > 1,
	}
}

// Item is one job as shown in the history list.
type Item struct {
	ID             uuid.UUID `json:"id"`
	JobID          uuid.UUID `json:"jobId"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	ProcessedAt    time.Time `json:"processedAt"`
	LinesProcessed int       `json:"linesProcessed"`
	SentimentScore *float64  `json:"sentimentScore"`
	ProcessingTime *string   `json:"processingTime"`
	FileSize       string    `json:"fileSize"`
	Error          *string   `json:"error"`
}

func itemOf(j *models.Job) Item {
	return Item{
		ID:             j.ID,
		JobID:          j.ID,
		Filename:       j.OriginalFilename,
		Status:         j.Status,
		ProcessedAt:    processedAt(j),
		LinesProcessed: derefInt(j.TotalLines),
		SentimentScore: j.AverageSentiment,
		ProcessingTime: seconds(j.ProcessingTimeMs),
		FileSize:       megabytes(j.FileSize),
		Error:          j.ErrorMessage,
	}
}

type Page struct {
	History    []Item     `json:"history"`
	Pagination Pagination `json:"pagination"`
}

func statusFilter(status string) (string, error) {
	if status == "" || status == "all" {
		return "", nil
	}
	if !models.ValidStatus(status) {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// List pages through the user's jobs, newest first. filename matches the
// original filename case-insensitively.
func (h *History) List(ctx context.Context, userID uuid.UUID, f Filter, filename string) (*Page, error) {
	status, err := statusFilter(f.Status)
	if err != nil {
		return nil, err
	}
	page, limit := store.NormalizePage(f.Page, defaultLimit(f.Limit, 10))

	jobs, total, err := h.store.ListJobs(ctx, store.JobFilter{
		UserID:   userID,
		Status:   status,
		From:     f.From,
		To:       f.To,
		Filename: strings.TrimSpace(filename),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	out := &Page{History: make([]Item, 0, len(jobs)), Pagination: paginate(page, limit, total)}
	for _, j := range jobs {
		out.History = append(out.History, itemOf(j))
	}
	return out, nil
}

func defaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

type ProcessingStats struct {
	ParallelWorkers string `json:"parallelWorkers"`
	TotalResults    int    `json:"totalResults"`
	ProcessingTime  string `json:"processingTime"`
}

// Details summarises the per-line results of a job.
type Details struct {
	SentimentBreakdown models.SentimentDistribution `json:"sentimentBreakdown"`
	TopKeywords        []string                     `json:"topKeywords"`
	PatternsFound      []string                     `json:"patternsFound"`
	ProcessingStats    ProcessingStats              `json:"processingStats"`
}

type Detail struct {
	Item
	DetailedResults *Details `json:"detailedResults"`
}

// Get returns one job with a summary of its results. Jobs without results
// have nil details.
func (h *History) Get(ctx context.Context, userID, id uuid.UUID) (*Detail, error) {
	job, err := h.store.GetJob(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting history record: %w", err)
	}
	return &Detail{Item: itemOf(job), DetailedResults: detailsOf(job)}, nil
}

func detailsOf(job *models.Job) *Details {
	if len(job.Results) == 0 {
		return nil
	}

	d := &Details{
		TopKeywords:   topKeywords(job.Results, topKeywordCount),
		PatternsFound: []string{},
		ProcessingStats: ProcessingStats{
			ParallelWorkers: "Simulation",
			TotalResults:    len(job.Results),
			ProcessingTime:  "N/A",
		},
	}
	if job.SentimentDistribution != nil {
		d.SentimentBreakdown = *job.SentimentDistribution
	}
	if _, ok := job.Results[0].Metadata["processId"]; ok {
		d.ProcessingStats.ParallelWorkers = "Python ML Workers"
	}
	if s := seconds(job.ProcessingTimeMs); s != nil {
		d.ProcessingStats.ProcessingTime = *s + "s"
	}

	seen := map[string]bool{}
	for _, r := range job.Results {
		for _, p := range r.PatternsFound {
			if !seen[p] {
				seen[p] = true
				d.PatternsFound = append(d.PatternsFound, p)
			}
		}
	}
	return d
}

// topKeywords returns the n most frequent keywords. Ties keep first-seen order.
func topKeywords(results []models.LineResult, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, r := range results {
		for _, k := range r.Keywords {
			if strings.TrimSpace(k) == "" {
				continue
			}
			if counts[k] == 0 {
				order = append(order, k)
			}
			counts[k]++
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return counts[order[a]] > counts[order[b]] })
	if len(order) > n {
		order = order[:n]
	}
	if order == nil {
		return []string{}
	}
	return order
}

type SearchHit struct {
	ID             uuid.UUID `json:"id"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	LinesProcessed int       `json:"linesProcessed"`
	SentimentScore *float64  `json:"sentimentScore"`
	Snippet        *string   `json:"snippet"`
}

type SearchPage struct {
	Results    []SearchHit `json:"results"`
	Query      string      `json:"query"`
	Pagination Pagination  `json:"pagination"`
}

// Search matches query against the original filename or the stored text and
// returns a snippet around the first match in the text.
func (h *History) Search(ctx context.Context, userID uuid.UUID, query string, f Filter) (*SearchPage, error) {
	status, err := statusFilter(f.Status)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	page, limit := store.NormalizePage(f.Page, defaultLimit(f.Limit, 20))

	jobs, total, err := h.store.ListJobs(ctx, store.JobFilter{
		UserID:      userID,
		Status:      status,
		From:        f.From,
		To:          f.To,
		Query:       query,
		IncludeText: query != "",
		Page:        page,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching history: %w", err)
	}

	out := &SearchPage{Results: make([]SearchHit, 0, len(jobs)), Query: query, Pagination: paginate(page, limit, total)}
	for _, j := range jobs {
		hit := SearchHit{
			ID:             j.ID,
			Filename:       j.OriginalFilename,
			Status:         j.Status,
			LinesProcessed: derefInt(j.TotalLines),
			SentimentScore: j.AverageSentiment,
		}
		if s, ok := Snippet(j.TextContent, query, SnippetWindow); ok {
			hit.Snippet = &s
		}
		out.Results = append(out.Results, hit)
	}
	return out, nil
}

// Delete removes a job in a terminal status.
func (h *History) Delete(ctx context.Context, userID, id uuid.UUID) error {
	err := h.store.DeleteJob(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotDeletable
	}
	if err != nil {
		return fmt.Errorf("deleting history record: %w", err)
	}
	if err := h.cache.Delete(ctx, cache.DashboardKeys(userID)...); err != nil {
		slog.Warn("dashboard cache invalidation failed", "user_id", userID, "error", err)
	}
	slog.Info("history record deleted", "job_id", id, "user_id", userID)
	return nil
}
