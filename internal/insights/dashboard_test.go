package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/cache/cachetest"
	"github.com/kiranshivaraju/linesense/internal/store/storetest"
	"github.com/kiranshivaraju/linesense/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday afternoon.
var fixedNow = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

type jobSpec struct {
	status    string
	name      string
	created   time.Time
	completed time.Time
	lines     int
	avg       float64
	ms        int64
	dist      models.SentimentDistribution
	results   []models.LineResult
	text      string
	errorMsg  string
}

func putJob(m *storetest.Memory, userID uuid.UUID, s jobSpec) *models.Job {
	if s.status == "" {
		s.status = models.JobStatusCompleted
	}
	if s.created.IsZero() {
		s.created = s.completed
	}
	j := &models.Job{
		ID:               uuid.New(),
		UserID:           userID,
		Filename:         s.name,
		OriginalFilename: s.name,
		FileSize:         2 * 1024 * 1024,
		TextContent:      s.text,
		Status:           s.status,
		Progress:         models.ProgressFor(s.status),
		CreatedAt:        s.created,
		UpdatedAt:        s.created,
	}
	switch s.status {
	case models.JobStatusCompleted:
		lines, avg, ms, dist := s.lines, s.avg, s.ms, s.dist
		completed := s.completed
		j.TotalLines, j.AverageSentiment, j.ProcessingTimeMs = &lines, &avg, &ms
		j.SentimentDistribution = &dist
		j.Results = s.results
		j.CompletedAt = &completed
	case models.JobStatusFailed:
		msg := s.errorMsg
		j.ErrorMessage = &msg
		j.FailedAt = &s.created
	}
	m.Put(j)
	return j
}

func newDashboard(m *storetest.Memory, ca cache.Cache, ttl time.Duration) *Dashboard {
	d := NewDashboard(m, ca, ttl)
	d.now = func() time.Time { return fixedNow }
	return d
}

func TestDashboard_Stats(t *testing.T) {
	m := storetest.NewMemory()
	user := uuid.New()

	putJob(m, user, jobSpec{name: "a.txt", completed: fixedNow.Add(-time.Hour), lines: 10, avg: 20, ms: 1000,
		dist: models.SentimentDistribution{Positive: 6, Neutral: 2, Negative: 2}})
	putJob(m, user, jobSpec{name: "b.txt", completed: fixedNow.AddDate(0, 0, -2), lines: 5, avg: -5, ms: 3000,
		dist: models.SentimentDistribution{Positive: 0, Neutral: 2, Negative: 8}})
	putJob(m, user, jobSpec{name: "c.txt", status: models.JobStatusFailed, created: fixedNow, errorMsg: "boom"})
	putJob(m, user, jobSpec{name: "d.txt", status: models.JobStatusPending, created: fixedNow})
	putJob(m, uuid.New(), jobSpec{name: "other.txt", completed: fixedNow, lines: 999, avg: 50})

	d := newDashboard(m, cachetest.NewMemory(), 0)
	st, err := d.Stats(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, 4, st.TotalFilesProcessed)
	assert.Equal(t, int64(15), st.TotalLinesAnalyzed)
	assert.Equal(t, 50, st.SuccessRate)
	assert.InDelta(t, 7.5, st.AverageSentiment, 1e-9)
	assert.InDelta(t, 2000, st.AverageProcessingTime, 1e-9)
	assert.Equal(t, models.SentimentDistribution{Positive: 30, Neutral: 20, Negative: 50}, st.SentimentDistribution)

	assert.Equal(t, PeriodSummary{FilesProcessed: 1, LinesAnalyzed: 10, AvgSentiment: 20}, st.QuickStats.Today)
	assert.Equal(t, 2, st.QuickStats.ThisWeek.FilesProcessed)
	assert.Equal(t, 2, st.QuickStats.ThisMonth.FilesProcessed)
}

func TestDashboard_StatsEmpty(t *testing.T) {
	d := newDashboard(storetest.NewMemory(), cachetest.NewMemory(), 0)
	st, err := d.Stats(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 0, st.SuccessRate)
	assert.Equal(t, models.SentimentDistribution{}, st.SentimentDistribution)
}

func TestDashboard_StatsCached(t *testing.T) {
	m := storetest.NewMemory()
	ca := cachetest.NewMemory()
	user := uuid.New()
	putJob(m, user, jobSpec{name: "a.txt", completed: fixedNow, lines: 3})

	d := newDashboard(m, ca, time.Minute)
	first, err := d.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, ca.Has(cache.DashboardStatsKey(user)))

	putJob(m, user, jobSpec{name: "b.txt", completed: fixedNow, lines: 3})
	second, err := d.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, ca.Delete(context.Background(), cache.DashboardKeys(user)...))
	third, err := d.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 2, third.TotalFilesProcessed)
}

func TestDashboard_CacheFailureFallsThrough(t *testing.T) {
	m := storetest.NewMemory()
	ca := cachetest.NewMemory()
	ca.Err = errors.New("redis down")
	user := uuid.New()
	putJob(m, user, jobSpec{name: "a.txt", completed: fixedNow, lines: 3})

	d := newDashboard(m, ca, time.Minute)
	st, err := d.Stats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalFilesProcessed)
}

func TestDashboard_QuickStats(t *testing.T) {
	m := storetest.NewMemory()
	user := uuid.New()
	p := PeriodBounds(fixedNow)

	// Today 2, yesterday 1.
	putJob(m, user, jobSpec{name: "t1", completed: p.Today.Add(time.Hour), lines: 4, avg: 10})
	putJob(m, user, jobSpec{name: "t2", completed: p.Today.Add(2 * time.Hour), lines: 6, avg: 20})
	putJob(m, user, jobSpec{name: "y1", completed: p.Yesterday.Add(time.Hour), lines: 1})
	// Last week 3, all of them in February.
	for i := 0; i < 3; i++ {
		putJob(m, user, jobSpec{name: "lw", completed: p.LastWeek.Add(time.Duration(i) * time.Hour), lines: 1})
	}

	d := newDashboard(m, cachetest.NewMemory(), 0)
	qs, err := d.QuickStats(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, 2, qs.Today.FilesProcessed)
	assert.Equal(t, int64(10), qs.Today.LinesAnalyzed)
	assert.InDelta(t, 15, qs.Today.AvgSentiment, 1e-9)
	assert.Equal(t, 100, qs.Today.ChangeFromYesterday)

	assert.Equal(t, 3, qs.ThisWeek.FilesProcessed)
	assert.Equal(t, 0, qs.ThisWeek.ChangeFromLastWeek)

	assert.Equal(t, 3, qs.ThisMonth.FilesProcessed)
	assert.Equal(t, 0, qs.ThisMonth.ChangeFromLastMonth)
}

func TestDashboard_Recent(t *testing.T) {
	m := storetest.NewMemory()
	user := uuid.New()
	for i := 0; i < 12; i++ {
		putJob(m, user, jobSpec{name: "f.txt", completed: fixedNow.Add(time.Duration(i) * time.Minute), lines: i, ms: 1500})
	}
	failed := putJob(m, user, jobSpec{name: "bad.txt", status: models.JobStatusFailed, created: fixedNow.Add(time.Hour), errorMsg: "boom"})

	d := newDashboard(m, cachetest.NewMemory(), 0)
	r, err := d.Recent(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, r.Count)
	require.Len(t, r.Jobs, 10)

	first := r.Jobs[0]
	assert.Equal(t, failed.ID, first.ID)
	assert.Equal(t, "boom", *first.Error)
	assert.Nil(t, first.ProcessingTime)
	assert.Equal(t, failed.CreatedAt, first.ProcessedAt)

	second := r.Jobs[1]
	assert.Equal(t, 11, second.Lines)
	require.NotNil(t, second.ProcessingTime)
	assert.Equal(t, "1.50", *second.ProcessingTime)

	r, err = d.Recent(context.Background(), user, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Count)
}
