package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a job exists but its current status
// is not an allowed source for the requested transition.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
// Job reads are always scoped to the owning user; an unknown id and a job owned
// by someone else are indistinguishable (ErrNotFound).
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetActiveUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetDeletedUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, name, email string) (*models.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SoftDeleteUser(ctx context.Context, id uuid.UUID) error
	ReactivateUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
	ListBatchJobs(ctx context.Context, batchID string, userID uuid.UUID) ([]*models.Job, error)
	TransitionJob(ctx context.Context, id uuid.UUID, to string, opts ...JobUpdateOption) error
	CancelJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	FailStaleJobs(ctx context.Context, before time.Time, message string) (int64, error)

	JobTotals(ctx context.Context, userID uuid.UUID) (*JobTotals, error)
	PeriodStats(ctx context.Context, userID uuid.UUID, from, to time.Time) (*PeriodStats, error)
	RecentSentiment(ctx context.Context, userID uuid.UUID, jobs int) (*models.SentimentDistribution, error)
}

// JobFilter selects a page of a user's jobs, newest first.
type JobFilter struct {
	UserID uuid.UUID
	Status string
	From   time.Time
	To     time.Time
	// Filename matches the original filename case-insensitively.
	Filename string
	// Query matches the original filename or the stored text case-insensitively.
	Query string
	// IncludeText loads text_content, which list views otherwise skip.
	IncludeText bool
	// IncludeResults loads per-line results and the distribution.
	IncludeResults bool
	Page           int
	Limit          int
}

// JobTotals is the all-time rollup of a user's jobs.
type JobTotals struct {
	Total               int
	Completed           int
	Failed              int
	TotalLines          int64
	AverageSentiment    float64
	AverageProcessingMs float64
}

// PeriodStats summarises jobs completed inside a time window.
type PeriodStats struct {
	FilesProcessed   int
	LinesAnalyzed    int64
	AverageSentiment float64
}

// JobUpdate collects the optional fields of a status transition.
type JobUpdate struct {
	ErrorMessage *string
	Output       *models.JobOutput
	OwnerID      *uuid.UUID
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

// WithOutput attaches the analysis output written on completion.
func WithOutput(out *models.JobOutput) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Output = out
	}
}

// WithOwner restricts the transition to jobs owned by userID.
func WithOwner(userID uuid.UUID) JobUpdateOption {
	return func(p *JobUpdate) {
		p.OwnerID = &userID
	}
}

// NormalizePage clamps page and limit the same way every list query does.
func NormalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}

// Validate checks that the update carries what a transition to status needs.
func (p *JobUpdate) Validate(to string) error {
	if len(models.AllowedSources(to)) == 0 {
		return ErrInvalidTransition
	}
	switch to {
	case models.JobStatusCompleted:
		if p.Output == nil {
			return errors.New("completed transition requires output")
		}
	case models.JobStatusFailed:
		if p.ErrorMessage == nil {
			return errors.New("failed transition requires error message")
		}
	}
	return nil
}

// NewJobUpdate folds opts into a JobUpdate.
func NewJobUpdate(opts ...JobUpdateOption) *JobUpdate {
	p := &JobUpdate{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}
