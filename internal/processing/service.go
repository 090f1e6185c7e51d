// Package processing drives jobs from pending to a terminal state in the background.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/notify"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/internal/upload"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

const (
	notifyTimeout = 30 * time.Second
	// StaleMessage is recorded on jobs failed by Reconcile.
	StaleMessage = "Processing interrupted by server restart"
)

// Task is everything the orchestrator needs to run one job.
type Task struct {
	JobID     uuid.UUID
	UserID    uuid.UUID
	UserEmail string
	// Filename is the name shown to the user in notifications.
	Filename string
	// UploadKey names the transient file holding the source text. When empty,
	// Content is analysed directly.
	UploadKey string
	Content   string
}

// Policy is the deployment switch deciding which analyzers a run may use.
type Policy struct {
	UseExternal       bool
	FallbackOnFailure bool
	NotifyOnFailure   bool
}

// Service runs one orchestration per started task.
type Service struct {
	store    store.Store
	cache    cache.Cache
	uploads  upload.Store
	external models.Analyzer
	fallback models.Analyzer
	notifier notify.Notifier
	policy   Policy

	wg sync.WaitGroup
}

// NewService wires the orchestrator. external may be nil when policy.UseExternal is false.
func NewService(st store.Store, ca cache.Cache, uploads upload.Store, external, fallback models.Analyzer, notifier notify.Notifier, policy Policy) *Service {
	if external == nil {
		policy.UseExternal = false
	}
	return &Service{
		store:    st,
		cache:    ca,
		uploads:  uploads,
		external: external,
		fallback: fallback,
		notifier: notifier,
		policy:   policy,
	}
}

// Start launches the orchestration for t and returns immediately.
func (s *Service) Start(t Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(t)
	}()
}

// Wait blocks until every started orchestration and notification has finished
// or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile fails jobs left pending or processing since before now-olderThan.
// Nothing in this process is running them, so they would otherwise never finish.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.store.FailStaleJobs(ctx, time.Now().UTC().Add(-olderThan), StaleMessage)
	if err != nil {
		return 0, fmt.Errorf("reconciling stale jobs: %w", err)
	}
	if n > 0 {
		slog.Warn("failed stale jobs", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}

// outcome is what a run ended up writing.
type outcome struct {
	status  string
	output  *models.JobOutput
	message string
}

func (s *Service) run(t Task) {
	ctx := context.Background()

	res := s.orchestrate(ctx, t)
	s.removeUpload(ctx, t)

	if res.status == "" {
		return
	}
	if err := s.cache.Delete(ctx, cache.DashboardKeys(t.UserID)...); err != nil {
		slog.Warn("dashboard cache invalidation failed", "user_id", t.UserID, "error", err)
	}
	s.notify(t, res)
}

// orchestrate performs the state transitions for one job. It never panics.
func (s *Service) orchestrate(ctx context.Context, t Task) (res outcome) {
	log := slog.With("job_id", t.JobID, "user_id", t.UserID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in orchestration", "error", r)
			res = s.fail(ctx, log, t, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.store.TransitionJob(ctx, t.JobID, models.JobStatusProcessing); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			log.Info("job no longer pending, skipping", "error", err)
			return outcome{}
		}
		return s.fail(ctx, log, t, fmt.Sprintf("claiming job: %v", err))
	}
	log.Info("job processing")

	content, err := s.source(ctx, t)
	if err != nil {
		return s.fail(ctx, log, t, err.Error())
	}

	out, err := s.analyze(ctx, log, t, content)
	if err != nil {
		return s.fail(ctx, log, t, err.Error())
	}

	err = s.store.TransitionJob(ctx, t.JobID, models.JobStatusCompleted, store.WithOutput(out))
	switch {
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrNotFound):
		log.Info("job left processing before completion, dropping result", "error", err)
		return outcome{}
	case err != nil:
		return s.fail(ctx, log, t, fmt.Sprintf("storing result: %v", err))
	}

	log.Info("job completed", "total_lines", out.TotalLines, "workers", out.WorkersUsed)
	return outcome{status: models.JobStatusCompleted, output: out}
}

func (s *Service) source(ctx context.Context, t Task) (string, error) {
	if t.UploadKey == "" {
		return t.Content, nil
	}
	if s.uploads == nil {
		return "", errors.New("no upload store configured")
	}
	data, err := s.uploads.Read(ctx, t.UploadKey)
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	return string(data), nil
}

func (s *Service) analyze(ctx context.Context, log *slog.Logger, t Task, content string) (*models.JobOutput, error) {
	req := models.AnalysisRequest{
		JobID:    t.JobID,
		UserID:   t.UserID,
		Filename: t.Filename,
		Content:  content,
	}

	if !s.policy.UseExternal {
		return s.fallback.Analyze(ctx, req)
	}

	out, err := s.external.Analyze(ctx, req)
	if err == nil {
		return out, nil
	}
	if !s.policy.FallbackOnFailure {
		return nil, fmt.Errorf("%s failed: %w", s.external.Name(), err)
	}

	log.Warn("external analysis failed, using fallback", "analyzer", s.external.Name(), "error", err)
	out, ferr := s.fallback.Analyze(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("%s failed: %w", s.fallback.Name(), ferr)
	}
	return out, nil
}

// fail records message on the job. A rejected write means the job is already terminal.
func (s *Service) fail(ctx context.Context, log *slog.Logger, t Task, message string) outcome {
	err := s.store.TransitionJob(ctx, t.JobID, models.JobStatusFailed, store.WithErrorMessage(message))
	if err != nil {
		log.Warn("could not mark job failed", "error", err, "reason", message)
		return outcome{}
	}
	log.Warn("job failed", "error", message)
	return outcome{status: models.JobStatusFailed, message: message}
}

func (s *Service) removeUpload(ctx context.Context, t Task) {
	if t.UploadKey == "" || s.uploads == nil {
		return
	}
	if err := s.uploads.Remove(ctx, t.UploadKey); err != nil {
		slog.Warn("could not remove upload", "job_id", t.JobID, "key", t.UploadKey, "error", err)
	}
}

func (s *Service) notify(t Task, res outcome) {
	if t.UserEmail == "" || s.notifier == nil {
		return
	}
	if res.status == models.JobStatusFailed && !s.policy.NotifyOnFailure {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		var err error
		switch res.status {
		case models.JobStatusCompleted:
			err = s.notifier.ProcessingComplete(ctx, t.UserEmail, t.Filename, *res.output)
		case models.JobStatusFailed:
			err = s.notifier.ProcessingFailed(ctx, t.UserEmail, t.Filename, res.message)
		}
		if err != nil {
			slog.Warn("notification failed", "job_id", t.JobID, "status", res.status, "error", err)
		}
	}()
}
