package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// recentSentimentJobs is how many of the newest completed jobs feed the
// dashboard's sentiment distribution.
const recentSentimentJobs = 20

// Dashboard answers the rollup queries behind the dashboard page.
type Dashboard struct {
	store store.Store
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewDashboard caches each user's rollups for ttl. A zero ttl disables caching.
func NewDashboard(st store.Store, ca cache.Cache, ttl time.Duration) *Dashboard {
	return &Dashboard{store: st, cache: ca, ttl: ttl, now: time.Now}
}

// PeriodSummary counts the jobs completed inside one window.
type PeriodSummary struct {
	FilesProcessed int     `json:"filesProcessed"`
	LinesAnalyzed  int64   `json:"linesAnalyzed"`
	AvgSentiment   float64 `json:"avgSentiment"`
}

type PeriodOverview struct {
	Today     PeriodSummary `json:"today"`
	ThisWeek  PeriodSummary `json:"thisWeek"`
	ThisMonth PeriodSummary `json:"thisMonth"`
}

// Stats is the all-time rollup of a user's jobs.
type Stats struct {
	TotalFilesProcessed   int                          `json:"totalFilesProcessed"`
	TotalLinesAnalyzed    int64                        `json:"totalLinesAnalyzed"`
	AverageProcessingTime float64                      `json:"averageProcessingTime"`
	SuccessRate           int                          `json:"successRate"`
	SentimentDistribution models.SentimentDistribution `json:"sentimentDistribution"`
	AverageSentiment      float64                      `json:"averageSentiment"`
	QuickStats            PeriodOverview               `json:"quickStats"`
}

type DayStats struct {
	PeriodSummary
	ChangeFromYesterday int `json:"changeFromYesterday"`
}

type WeekStats struct {
	PeriodSummary
	ChangeFromLastWeek int `json:"changeFromLastWeek"`
}

type MonthStats struct {
	PeriodSummary
	ChangeFromLastMonth int `json:"changeFromLastMonth"`
}

// QuickStats compares each current window with the one before it.
type QuickStats struct {
	Today     DayStats   `json:"today"`
	ThisWeek  WeekStats  `json:"thisWeek"`
	ThisMonth MonthStats `json:"thisMonth"`
}

// Stats returns the user's totals, success rate, averages, the percentage
// sentiment split of their most recent completed jobs and per-period counts.
func (d *Dashboard) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	key := cache.DashboardStatsKey(userID)
	var cached Stats
	if d.load(ctx, key, &cached) {
		return &cached, nil
	}

	totals, err := d.store.JobTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("job totals: %w", err)
	}
	dist, err := d.store.RecentSentiment(ctx, userID, recentSentimentJobs)
	if err != nil {
		return nil, fmt.Errorf("recent sentiment: %w", err)
	}

	p := PeriodBounds(d.now())
	var overview PeriodOverview
	for _, w := range []struct {
		dst  *PeriodSummary
		from time.Time
	}{
		{&overview.Today, p.Today},
		{&overview.ThisWeek, p.ThisWeek},
		{&overview.ThisMonth, p.ThisMonth},
	} {
		if *w.dst, err = d.period(ctx, userID, w.from, time.Time{}); err != nil {
			return nil, err
		}
	}

	stats := &Stats{
		TotalFilesProcessed:   totals.Total,
		TotalLinesAnalyzed:    totals.TotalLines,
		AverageProcessingTime: round2(totals.AverageProcessingMs),
		SentimentDistribution: Percentages(*dist),
		AverageSentiment:      round2(totals.AverageSentiment),
		QuickStats:            overview,
	}
	if totals.Total > 0 {
		stats.SuccessRate = int(math.Round(float64(totals.Completed) / float64(totals.Total) * 100))
	}

	d.save(ctx, key, stats)
	return stats, nil
}

// QuickStats returns today, this week and this month with their change
// against yesterday, last week and last month.
func (d *Dashboard) QuickStats(ctx context.Context, userID uuid.UUID) (*QuickStats, error) {
	key := cache.DashboardQuickStatsKey(userID)
	var cached QuickStats
	if d.load(ctx, key, &cached) {
		return &cached, nil
	}

	p := PeriodBounds(d.now())
	windows := []struct {
		from, to time.Time
	}{
		{p.Today, time.Time{}},
		{p.Yesterday, p.Today},
		{p.ThisWeek, time.Time{}},
		{p.LastWeek, p.ThisWeek},
		{p.ThisMonth, time.Time{}},
		{p.LastMonth, p.ThisMonth},
	}
	sums := make([]PeriodSummary, len(windows))
	for i, w := range windows {
		s, err := d.period(ctx, userID, w.from, w.to)
		if err != nil {
			return nil, err
		}
		sums[i] = s
	}

	qs := &QuickStats{
		Today:     DayStats{sums[0], CalculateChange(sums[0].FilesProcessed, sums[1].FilesProcessed)},
		ThisWeek:  WeekStats{sums[2], CalculateChange(sums[2].FilesProcessed, sums[3].FilesProcessed)},
		ThisMonth: MonthStats{sums[4], CalculateChange(sums[4].FilesProcessed, sums[5].FilesProcessed)},
	}
	d.save(ctx, key, qs)
	return qs, nil
}

func (d *Dashboard) period(ctx context.Context, userID uuid.UUID, from, to time.Time) (PeriodSummary, error) {
	ps, err := d.store.PeriodStats(ctx, userID, from, to)
	if err != nil {
		return PeriodSummary{}, fmt.Errorf("period stats: %w", err)
	}
	return PeriodSummary{
		FilesProcessed: ps.FilesProcessed,
		LinesAnalyzed:  ps.LinesAnalyzed,
		AvgSentiment:   round2(ps.AverageSentiment),
	}, nil
}

// load reads a cached rollup. Cache failures are treated as a miss.
func (d *Dashboard) load(ctx context.Context, key string, dst any) bool {
	if d.ttl <= 0 {
		return false
	}
	data, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("dashboard cache read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Warn("dashboard cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (d *Dashboard) save(ctx context.Context, key string, v any) {
	if d.ttl <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, data, d.ttl); err != nil {
		slog.Warn("dashboard cache write failed", "key", key, "error", err)
	}
}

// RecentJob is one row of the dashboard's recent activity list.
type RecentJob struct {
	ID             uuid.UUID `json:"id"`
	Filename       string    `json:"filename"`
	Status         string    `json:"status"`
	ProcessedAt    time.Time `json:"processedAt"`
	Lines          int       `json:"lines"`
	SentimentScore *float64  `json:"sentimentScore"`
	ProcessingTime *string   `json:"processingTime"`
	Error          *string   `json:"error"`
}

type RecentJobs struct {
	Jobs  []RecentJob `json:"jobs"`
	Count int         `json:"count"`
}

// Recent lists the user's newest jobs. limit is clamped to [1, 100] and
// defaults to 10.
func (d *Dashboard) Recent(ctx context.Context, userID uuid.UUID, limit int) (*RecentJobs, error) {
	if limit <= 0 {
		limit = 10
	}
	_, limit = store.NormalizePage(1, limit)

	jobs, _, err := d.store.ListJobs(ctx, store.JobFilter{UserID: userID, Page: 1, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing recent jobs: %w", err)
	}

	out := &RecentJobs{Jobs: make([]RecentJob, 0, len(jobs))}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, RecentJob{
			ID:             j.ID,
			Filename:       j.OriginalFilename,
			Status:         j.Status,
			ProcessedAt:    processedAt(j),
			Lines:          derefInt(j.TotalLines),
			SentimentScore: j.AverageSentiment,
			ProcessingTime: seconds(j.ProcessingTimeMs),
			Error:          j.ErrorMessage,
		})
	}
	out.Count = len(out.Jobs)
	return out, nil
}

func processedAt(j *models.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	return j.CreatedAt
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
