// Package storetest provides an in-memory store.Store for service and handler tests.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// Memory is a goroutine-safe store.Store backed by maps. Transitions follow the
// same conditional rules as the Postgres store.
type Memory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
	jobs  map[uuid.UUID]*models.Job

	// PingErr, when set, is returned by Ping.
	PingErr error
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

var _ store.Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[uuid.UUID]*models.User),
		jobs:  make(map[uuid.UUID]*models.Job),
	}
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Memory) Ping(ctx context.Context) error { return m.PingErr }

// --- Users ---

func (m *Memory) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeEmailHolder(user.Email, uuid.Nil) != nil {
		return store.ErrDuplicateKey
	}
	if _, ok := m.users[user.ID]; ok {
		return store.ErrDuplicateKey
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

func (m *Memory) activeEmailHolder(email string, except uuid.UUID) *models.User {
	for _, u := range m.users {
		if !u.IsDeleted && u.ID != except && strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *Memory) GetActiveUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u := m.activeEmailHolder(email, uuid.Nil); u != nil {
		c := *u
		return &c, nil
	}
	return nil, store.ErrNotFound
}

func (m *Memory) GetDeletedUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *models.User
	for _, u := range m.users {
		if !u.IsDeleted || !strings.EqualFold(u.Email, email) {
			continue
		}
		if found == nil || u.DeletedAt.After(*found.DeletedAt) {
			found = u
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	c := *found
	return &c, nil
}

func (m *Memory) UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.IsDeleted {
		return nil, store.ErrNotFound
	}
	if m.activeEmailHolder(email, id) != nil {
		return nil, store.ErrDuplicateKey
	}
	u.Name, u.Email, u.UpdatedAt = name, email, m.now()
	c := *u
	return &c, nil
}

func (m *Memory) UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.IsDeleted {
		return store.ErrNotFound
	}
	u.PasswordHash, u.UpdatedAt = passwordHash, m.now()
	return nil
}

func (m *Memory) SoftDeleteUser(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.IsDeleted {
		return store.ErrNotFound
	}
	now := m.now()
	u.IsDeleted, u.DeletedAt, u.UpdatedAt = true, &now, now
	return nil
}

func (m *Memory) ReactivateUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.IsDeleted {
		return nil, store.ErrNotFound
	}
	if m.activeEmailHolder(u.Email, id) != nil {
		return nil, store.ErrDuplicateKey
	}
	u.IsDeleted, u.DeletedAt, u.UpdatedAt = false, nil, m.now()
	c := *u
	return &c, nil
}

// --- Jobs ---

func copyJob(j *models.Job) *models.Job {
	c := *j
	if j.Results != nil {
		c.Results = append([]models.LineResult(nil), j.Results...)
	}
	if j.SentimentDistribution != nil {
		d := *j.SentimentDistribution
		c.SentimentDistribution = &d
	}
	return &c
}

func (m *Memory) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.UserID != userID {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (m *Memory) ListBatchJobs(ctx context.Context, batchID string, userID uuid.UUID) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := []*models.Job{}
	for _, j := range m.jobs {
		if j.UserID == userID && j.BatchID != nil && *j.BatchID == batchID {
			jobs = append(jobs, copyJob(j))
		}
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return jobs, nil
}

func (m *Memory) TransitionJob(ctx context.Context, id uuid.UUID, to string, opts ...store.JobUpdateOption) error {
	params := store.NewJobUpdate(opts...)
	if err := params.Validate(to); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || (params.OwnerID != nil && j.UserID != *params.OwnerID) {
		return store.ErrNotFound
	}
	if !models.CanTransition(j.Status, to) {
		return store.ErrInvalidTransition
	}
	m.apply(j, to, params)
	return nil
}

func (m *Memory) apply(j *models.Job, to string, params *store.JobUpdate) {
	now := m.now()
	j.Status, j.Progress, j.UpdatedAt = to, models.ProgressFor(to), now
	switch to {
	case models.JobStatusProcessing:
		j.StartedAt = &now
	case models.JobStatusCompleted:
		out := params.Output
		lines, ms, workers, avg := out.TotalLines, out.ProcessingTimeMs, out.WorkersUsed, out.AverageSentiment
		dist := out.SentimentDistribution
		j.TotalLines, j.ProcessingTimeMs, j.WorkersUsed, j.AverageSentiment = &lines, &ms, &workers, &avg
		j.SentimentDistribution = &dist
		j.Results = append([]models.LineResult{}, out.Results...)
		j.CompletedAt = &now
	case models.JobStatusFailed:
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
		j.FailedAt = &now
	case models.JobStatusCancelled:
		j.CancelledAt = &now
	}
}

func (m *Memory) CancelJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.UserID != userID || !models.CanTransition(j.Status, models.JobStatusCancelled) {
		return nil, store.ErrNotFound
	}
	m.apply(j, models.JobStatusCancelled, &store.JobUpdate{})
	return copyJob(j), nil
}

func (m *Memory) DeleteJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.UserID != userID || !models.IsTerminal(j.Status) {
		return store.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Job
	for _, j := range m.jobs {
		if j.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && j.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && j.CreatedAt.After(filter.To) {
			continue
		}
		if filter.Filename != "" && !containsFold(j.OriginalFilename, filter.Filename) {
			continue
		}
		if filter.Query != "" && !containsFold(j.OriginalFilename, filter.Query) && !containsFold(j.TextContent, filter.Query) {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool { return matched[a].CreatedAt.After(matched[b].CreatedAt) })

	total := len(matched)
	page, limit := store.NormalizePage(filter.Page, filter.Limit)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := min(start+limit, total)

	jobs := []*models.Job{}
	for _, j := range matched[start:end] {
		c := copyJob(j)
		if !filter.IncludeText {
			c.TextContent = ""
		}
		if !filter.IncludeResults {
			c.Results = nil
		}
		jobs = append(jobs, c)
	}
	return jobs, total, nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (m *Memory) FailStaleJobs(ctx context.Context, before time.Time, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if models.IsTerminal(j.Status) || !j.UpdatedAt.Before(before) {
			continue
		}
		m.apply(j, models.JobStatusFailed, &store.JobUpdate{ErrorMessage: &message})
		n++
	}
	return n, nil
}

// --- Aggregates ---

func (m *Memory) JobTotals(ctx context.Context, userID uuid.UUID) (*store.JobTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var t store.JobTotals
	var sentimentSum, msSum float64
	for _, j := range m.jobs {
		if j.UserID != userID {
			continue
		}
		t.Total++
		switch j.Status {
		case models.JobStatusCompleted:
			t.Completed++
			t.TotalLines += int64(*j.TotalLines)
			sentimentSum += *j.AverageSentiment
			msSum += float64(*j.ProcessingTimeMs)
		case models.JobStatusFailed:
			t.Failed++
		}
	}
	if t.Completed > 0 {
		t.AverageSentiment = sentimentSum / float64(t.Completed)
		t.AverageProcessingMs = msSum / float64(t.Completed)
	}
	return &t, nil
}

func (m *Memory) PeriodStats(ctx context.Context, userID uuid.UUID, from, to time.Time) (*store.PeriodStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p store.PeriodStats
	var sum float64
	for _, j := range m.jobs {
		if j.UserID != userID || j.Status != models.JobStatusCompleted {
			continue
		}
		if j.CompletedAt.Before(from) || (!to.IsZero() && !j.CompletedAt.Before(to)) {
			continue
		}
		p.FilesProcessed++
		p.LinesAnalyzed += int64(*j.TotalLines)
		sum += *j.AverageSentiment
	}
	if p.FilesProcessed > 0 {
		p.AverageSentiment = sum / float64(p.FilesProcessed)
	}
	return &p, nil
}

func (m *Memory) RecentSentiment(ctx context.Context, userID uuid.UUID, jobs int) (*models.SentimentDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var completed []*models.Job
	for _, j := range m.jobs {
		if j.UserID == userID && j.Status == models.JobStatusCompleted && j.SentimentDistribution != nil {
			completed = append(completed, j)
		}
	}
	sort.Slice(completed, func(a, b int) bool { return completed[a].CompletedAt.After(*completed[b].CompletedAt) })
	if len(completed) > jobs {
		completed = completed[:jobs]
	}
	var d models.SentimentDistribution
	for _, j := range completed {
		d.Positive += j.SentimentDistribution.Positive
		d.Neutral += j.SentimentDistribution.Neutral
		d.Negative += j.SentimentDistribution.Negative
	}
	return &d, nil
}

// Put stores a job as-is, bypassing transitions. Tests use it to seed state.
func (m *Memory) Put(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = copyJob(job)
}
