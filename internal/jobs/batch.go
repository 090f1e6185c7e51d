package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// BatchJobView is one job inside a batch status answer.
type BatchJobView struct {
	JobID       uuid.UUID  `json:"jobId"`
	Filename    string     `json:"filename"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// BatchStatusView counts a batch's jobs per status.
type BatchStatusView struct {
	BatchID    string         `json:"batchId"`
	TotalJobs  int            `json:"totalJobs"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Processing int            `json:"processing"`
	Pending    int            `json:"pending"`
	Cancelled  int            `json:"cancelled"`
	Jobs       []BatchJobView `json:"jobs"`
}

// BatchStatus reports every job the owner created under batchID.
func (s *Service) BatchStatus(ctx context.Context, userID uuid.UUID, batchID string) (*BatchStatusView, error) {
	jobs, err := s.store.ListBatchJobs(ctx, batchID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing batch: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrBatchNotFound
	}

	v := &BatchStatusView{BatchID: batchID, TotalJobs: len(jobs), Jobs: make([]BatchJobView, 0, len(jobs))}
	for _, j := range jobs {
		switch j.Status {
		case models.JobStatusCompleted:
			v.Completed++
		case models.JobStatusFailed:
			v.Failed++
		case models.JobStatusProcessing:
			v.Processing++
		case models.JobStatusPending:
			v.Pending++
		case models.JobStatusCancelled:
			v.Cancelled++
		}
		v.Jobs = append(v.Jobs, BatchJobView{
			JobID:       j.ID,
			Filename:    j.OriginalFilename,
			Status:      j.Status,
			Progress:    j.Progress,
			CreatedAt:   j.CreatedAt,
			StartedAt:   j.StartedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	return v, nil
}

// BatchFileView summarises one completed file in a batch.
type BatchFileView struct {
	JobID                 uuid.UUID                    `json:"jobId"`
	Filename              string                       `json:"filename"`
	TotalLines            int                          `json:"totalLines"`
	ProcessingTimeMs      int64                        `json:"processingTimeMs"`
	AverageSentiment      float64                      `json:"averageSentiment"`
	SentimentDistribution models.SentimentDistribution `json:"sentimentDistribution"`
}

// CombinedResult is a line result tagged with the file it came from.
type CombinedResult struct {
	models.LineResult
	SourceFile string    `json:"sourceFile"`
	JobID      uuid.UUID `json:"jobId"`
}

// BatchResultsView aggregates the completed jobs of a batch.
type BatchResultsView struct {
	BatchID               string                       `json:"batchId"`
	TotalFiles            int                          `json:"totalFiles"`
	TotalLines            int                          `json:"totalLines"`
	TotalProcessingTime   int64                        `json:"totalProcessingTime"`
	AverageSentiment      float64                      `json:"averageSentiment"`
	SentimentDistribution models.SentimentDistribution `json:"sentimentDistribution"`
	Files                 []BatchFileView              `json:"files"`
	CombinedResults       []CombinedResult             `json:"combinedResults"`
}

// BatchResults combines the completed jobs of a batch. The distribution counts
// every line; the combined list keeps only the first 100.
func (s *Service) BatchResults(ctx context.Context, userID uuid.UUID, batchID string) (*BatchResultsView, error) {
	jobs, err := s.store.ListBatchJobs(ctx, batchID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing batch: %w", err)
	}

	v := &BatchResultsView{BatchID: batchID, Files: []BatchFileView{}, CombinedResults: []CombinedResult{}}
	var sentimentSum float64
	for _, j := range jobs {
		if j.Status != models.JobStatusCompleted {
			continue
		}
		st := statisticsOf(j)
		v.TotalLines += st.TotalLines
		v.TotalProcessingTime += st.ProcessingTimeMs
		sentimentSum += st.AverageSentiment
		v.Files = append(v.Files, BatchFileView{
			JobID:                 j.ID,
			Filename:              j.OriginalFilename,
			TotalLines:            st.TotalLines,
			ProcessingTimeMs:      st.ProcessingTimeMs,
			AverageSentiment:      st.AverageSentiment,
			SentimentDistribution: st.SentimentDistribution,
		})

		for _, r := range j.Results {
			switch r.SentimentLabel {
			case models.SentimentPositive:
				v.SentimentDistribution.Positive++
			case models.SentimentNegative:
				v.SentimentDistribution.Negative++
			case models.SentimentNeutral:
				v.SentimentDistribution.Neutral++
			}
			if len(v.CombinedResults) < maxCombinedResults {
				v.CombinedResults = append(v.CombinedResults, CombinedResult{LineResult: r, SourceFile: j.OriginalFilename, JobID: j.ID})
			}
		}
	}

	if len(v.Files) == 0 {
		return nil, ErrNoCompletedInBatch
	}
	v.TotalFiles = len(v.Files)
	v.AverageSentiment = sentimentSum / float64(len(v.Files))
	return v, nil
}
