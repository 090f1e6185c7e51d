// Package jobs validates uploads, creates jobs and answers job queries.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/apperr"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/config"
	"github.com/kiranshivaraju/linesense/internal/processing"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/internal/upload"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

const (
	maxCombinedResults = 100
	defaultTextWorkers = 2
	abortedMessage     = "Batch submission aborted"
)

// Starter hands a created job to the orchestrator.
type Starter interface {
	Start(t processing.Task)
}

// Owner is the authenticated user submitting or querying jobs.
type Owner struct {
	ID    uuid.UUID
	Email string
}

// File is one uploaded file held in memory.
type File struct {
	Name string
	Data []byte
}

// Service is the ingestion and job query layer.
type Service struct {
	store   store.Store
	cache   cache.Cache
	uploads upload.Store
	starter Starter
	cfg     config.UploadConfig
	now     func() time.Time
}

func NewService(st store.Store, ca cache.Cache, uploads upload.Store, starter Starter, cfg config.UploadConfig) *Service {
	return &Service{
		store:   st,
		cache:   ca,
		uploads: uploads,
		starter: starter,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submission is the synchronous answer to an upload.
type Submission struct {
	JobID    uuid.UUID `json:"jobId"`
	Filename string    `json:"filename"`
	Status   string    `json:"status"`
}

// BatchSubmission is the synchronous answer to a batch upload.
type BatchSubmission struct {
	BatchID    string       `json:"batchId"`
	TotalFiles int          `json:"totalFiles"`
	Jobs       []Submission `json:"jobs"`
}

// Validate checks a file against the extension allow-list and size limit.
func (s *Service) Validate(f File) error {
	ext := strings.ToLower(filepath.Ext(f.Name))
	allowed := false
	for _, a := range s.cfg.AllowedExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return &apperr.ValidationError{
			Message: fmt.Sprintf("File type %s not allowed. Allowed types: %s", ext, strings.Join(s.cfg.AllowedExtensions, ", ")),
			Cause:   ErrUnsupportedFileType,
		}
	}
	if int64(len(f.Data)) > s.cfg.MaxFileSize {
		return s.tooLarge("File")
	}
	return nil
}

func (s *Service) tooLarge(what string) error {
	return &apperr.ValidationError{
		Message: fmt.Sprintf("%s too large. Maximum size is %dMB", what, s.cfg.MaxFileSize/(1024*1024)),
		Cause:   ErrFileTooLarge,
	}
}

// SubmitFile stores f, creates a pending job for it and starts processing.
func (s *Service) SubmitFile(ctx context.Context, owner Owner, f *File) (*Submission, error) {
	if f == nil {
		return nil, ErrNoFile
	}
	if err := s.Validate(*f); err != nil {
		return nil, err
	}

	job, task, err := s.createFileJob(ctx, owner, *f, nil)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, owner.ID)
	s.starter.Start(task)

	slog.Info("file uploaded", "job_id", job.ID, "user_id", owner.ID, "filename", f.Name)
	return &Submission{JobID: job.ID, Filename: job.OriginalFilename, Status: job.Status}, nil
}

// SubmitBatch validates every file before creating any job, then creates one
// job per file under a shared batch id.
func (s *Service) SubmitBatch(ctx context.Context, owner Owner, files []File) (*BatchSubmission, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > s.cfg.MaxBatchFiles {
		return nil, apperr.Invalid(fmt.Sprintf("Too many files. Maximum is %d per batch", s.cfg.MaxBatchFiles))
	}
	for _, f := range files {
		if err := s.Validate(f); err != nil {
			return nil, err
		}
	}

	batchID := fmt.Sprintf("batch_%d_%s", s.now().UnixMilli(), owner.ID)
	created := make([]*models.Job, 0, len(files))
	tasks := make([]processing.Task, 0, len(files))
	for _, f := range files {
		job, task, err := s.createFileJob(ctx, owner, f, &batchID)
		if err != nil {
			s.abort(ctx, tasks)
			return nil, err
		}
		created = append(created, job)
		tasks = append(tasks, task)
	}

	s.invalidate(ctx, owner.ID)
	out := &BatchSubmission{BatchID: batchID, TotalFiles: len(files), Jobs: make([]Submission, 0, len(created))}
	for i, job := range created {
		s.starter.Start(tasks[i])
		out.Jobs = append(out.Jobs, Submission{JobID: job.ID, Filename: job.OriginalFilename, Status: job.Status})
	}

	slog.Info("batch uploaded", "batch_id", batchID, "user_id", owner.ID, "files", len(files))
	return out, nil
}

// SubmitText creates a job for text sent in the request body.
func (s *Service) SubmitText(ctx context.Context, owner Owner, text string, workers int) (*Submission, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	// direct text is held to the same size limit as an uploaded file
	if int64(len(text)) > s.cfg.MaxFileSize {
		return nil, s.tooLarge("Text")
	}
	if workers <= 0 {
		workers = defaultTextWorkers
	}

	now := s.now()
	job := &models.Job{
		ID:               uuid.New(),
		UserID:           owner.ID,
		Filename:         models.DirectTextFilename,
		OriginalFilename: models.DirectTextFilename,
		FileSize:         int64(len(text)),
		FileType:         ".txt",
		TextContent:      searchableText([]byte(text)),
		ParallelWorkers:  workers,
		Status:           models.JobStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.invalidate(ctx, owner.ID)
	s.starter.Start(processing.Task{
		JobID:     job.ID,
		UserID:    owner.ID,
		UserEmail: owner.Email,
		Filename:  job.OriginalFilename,
		Content:   text,
	})

	slog.Info("direct text submitted", "job_id", job.ID, "user_id", owner.ID, "bytes", len(text))
	return &Submission{JobID: job.ID, Filename: job.OriginalFilename, Status: job.Status}, nil
}

func (s *Service) createFileJob(ctx context.Context, owner Owner, f File, batchID *string) (*models.Job, processing.Task, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	name := fmt.Sprintf("%s-%d-%d%s", owner.ID, s.now().UnixMilli(), rand.IntN(1_000_000_000), ext)

	key, err := s.uploads.Save(ctx, name, f.Data)
	if err != nil {
		return nil, processing.Task{}, fmt.Errorf("storing upload: %w", err)
	}

	now := s.now()
	job := &models.Job{
		ID:               uuid.New(),
		UserID:           owner.ID,
		BatchID:          batchID,
		Filename:         name,
		OriginalFilename: filepath.Base(f.Name),
		FilePath:         &key,
		FileSize:         int64(len(f.Data)),
		FileType:         ext,
		TextContent:      searchableText(f.Data),
		ParallelWorkers:  defaultTextWorkers,
		Status:           models.JobStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if rerr := s.uploads.Remove(ctx, key); rerr != nil {
			slog.Warn("could not remove orphaned upload", "key", key, "error", rerr)
		}
		return nil, processing.Task{}, fmt.Errorf("creating job: %w", err)
	}

	return job, processing.Task{
		JobID:     job.ID,
		UserID:    owner.ID,
		UserEmail: owner.Email,
		Filename:  job.OriginalFilename,
		UploadKey: key,
	}, nil
}

// abort fails jobs created earlier in a batch that could not be completed.
func (s *Service) abort(ctx context.Context, tasks []processing.Task) {
	for _, t := range tasks {
		if err := s.store.TransitionJob(ctx, t.JobID, models.JobStatusFailed, store.WithErrorMessage(abortedMessage)); err != nil {
			slog.Warn("could not fail aborted batch job", "job_id", t.JobID, "error", err)
		}
		if err := s.uploads.Remove(ctx, t.UploadKey); err != nil {
			slog.Warn("could not remove aborted upload", "key", t.UploadKey, "error", err)
		}
	}
}

func (s *Service) invalidate(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.DashboardKeys(userID)...); err != nil {
		slog.Warn("dashboard cache invalidation failed", "user_id", userID, "error", err)
	}
}

// searchableText makes raw upload bytes storable as text.
func searchableText(data []byte) string {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return strings.ReplaceAll(text, "\x00", "")
}

// StatusView is a job's lifecycle snapshot.
type StatusView struct {
	JobID       uuid.UUID  `json:"jobId"`
	Filename    string     `json:"filename"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

func (s *Service) getJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// Status returns the lifecycle of one of the owner's jobs.
func (s *Service) Status(ctx context.Context, userID, jobID uuid.UUID) (*StatusView, error) {
	job, err := s.getJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		JobID:       job.ID,
		Filename:    job.OriginalFilename,
		Status:      job.Status,
		Progress:    job.Progress,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		FailedAt:    job.FailedAt,
		CancelledAt: job.CancelledAt,
		Error:       job.ErrorMessage,
	}, nil
}

// Statistics is the aggregate part of a completed job.
type Statistics struct {
	TotalLines            int                          `json:"totalLines"`
	ProcessingTimeMs      int64                        `json:"processingTimeMs"`
	AverageSentiment      float64                      `json:"averageSentiment"`
	SentimentDistribution models.SentimentDistribution `json:"sentimentDistribution"`
}

// ResultsView is a completed job with its per-line results.
type ResultsView struct {
	JobID       uuid.UUID           `json:"jobId"`
	Filename    string              `json:"filename"`
	Status      string              `json:"status"`
	Results     []models.LineResult `json:"results"`
	Statistics  Statistics          `json:"statistics"`
	CreatedAt   time.Time           `json:"createdAt"`
	CompletedAt *time.Time          `json:"completedAt"`
}

func statisticsOf(job *models.Job) Statistics {
	var st Statistics
	if job.TotalLines != nil {
		st.TotalLines = *job.TotalLines
	}
	if job.ProcessingTimeMs != nil {
		st.ProcessingTimeMs = *job.ProcessingTimeMs
	}
	if job.AverageSentiment != nil {
		st.AverageSentiment = *job.AverageSentiment
	}
	if job.SentimentDistribution != nil {
		st.SentimentDistribution = *job.SentimentDistribution
	}
	return st
}

// Results returns the output of a completed job.
func (s *Service) Results(ctx context.Context, userID, jobID uuid.UUID) (*ResultsView, error) {
	job, err := s.getJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrNotCompleted
	}
	results := job.Results
	if results == nil {
		results = []models.LineResult{}
	}
	return &ResultsView{
		JobID:       job.ID,
		Filename:    job.OriginalFilename,
		Status:      job.Status,
		Results:     results,
		Statistics:  statisticsOf(job),
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// Cancel moves a pending or processing job to cancelled. It does not stop a
// run already in progress; the orchestrator drops its result instead.
func (s *Service) Cancel(ctx context.Context, userID, jobID uuid.UUID) (*Submission, error) {
	job, err := s.store.CancelJob(ctx, jobID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, fmt.Errorf("cancelling job: %w", err)
	}
	s.invalidate(ctx, userID)
	slog.Info("job cancelled", "job_id", jobID, "user_id", userID)
	return &Submission{JobID: job.ID, Filename: job.OriginalFilename, Status: job.Status}, nil
}
