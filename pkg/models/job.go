package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// DirectTextFilename names jobs created from request text rather than an upload.
const DirectTextFilename = "direct_text_input.txt"

// Job tracks one unit of requested text analysis. The API returns its id on upload;
// the client polls status until it reaches completed, failed or cancelled.
// Output fields are set iff Status is completed; ErrorMessage iff Status is failed.
type Job struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	UserID           uuid.UUID `db:"user_id"           json:"userId"`
	BatchID          *string   `db:"batch_id"          json:"batchId,omitempty"`
	Filename         string    `db:"filename"          json:"filename"`
	OriginalFilename string    `db:"original_filename" json:"originalFilename"`
	FilePath         *string   `db:"file_path"         json:"-"`
	FileSize         int64     `db:"file_size"         json:"fileSize"`
	FileType         string    `db:"file_type"         json:"fileType"`
	TextContent      string    `db:"text_content"      json:"-"`
	ParallelWorkers  int       `db:"parallel_workers"  json:"parallelWorkers"`

	Status       string  `db:"status"        json:"status"`
	Progress     int     `db:"progress"      json:"progress"`
	ErrorMessage *string `db:"error_message" json:"errorMessage,omitempty"`

	TotalLines            *int                   `db:"total_lines"            json:"totalLines,omitempty"`
	ProcessingTimeMs      *int64                 `db:"processing_time_ms"     json:"processingTimeMs,omitempty"`
	WorkersUsed           *int                   `db:"workers_used"           json:"workersUsed,omitempty"`
	AverageSentiment      *float64               `db:"average_sentiment"      json:"averageSentiment,omitempty"`
	SentimentDistribution *SentimentDistribution `db:"sentiment_distribution" json:"sentimentDistribution,omitempty"`
	Results               []LineResult           `db:"results"                json:"results,omitempty"`

	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updatedAt"`
	StartedAt   *time.Time `db:"started_at"   json:"startedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	FailedAt    *time.Time `db:"failed_at"    json:"failedAt,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`
}

// SentimentDistribution counts lines per sentiment label.
type SentimentDistribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// Total returns the number of labelled lines.
func (d SentimentDistribution) Total() int {
	return d.Positive + d.Neutral + d.Negative
}

// LineResult is the analysis of a single input line.
type LineResult struct {
	LineNumber     int            `json:"lineNumber"`
	OriginalText   string         `json:"originalText"`
	SentimentScore float64        `json:"sentimentScore"`
	SentimentLabel string         `json:"sentimentLabel"`
	Keywords       []string       `json:"keywords"`
	PatternsFound  []string       `json:"patternsFound"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// JobOutput is everything the analysis collaborator contributes to a completed job.
type JobOutput struct {
	TotalLines            int                   `json:"totalLines"`
	ProcessingTimeMs      int64                 `json:"processingTimeMs"`
	WorkersUsed           int                   `json:"workersUsed"`
	AverageSentiment      float64               `json:"averageSentiment"`
	SentimentDistribution SentimentDistribution `json:"sentimentDistribution"`
	Results               []LineResult          `json:"results"`
}

// IsTerminal reports whether no further transitions are permitted out of status.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists the statuses a job can never leave.
func TerminalStatuses() []string {
	return []string{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
}

// AllowedSources returns the statuses a job may be in for a transition to target.
// An empty result means target can never be reached by a transition.
//
// Besides the processing -> failed edge, failed may also be entered straight from
// pending. This covers jobs that fail before the orchestrator claims them: an
// aborted batch, an unreadable upload, and the startup sweep of stale jobs.
func AllowedSources(target string) []string {
	switch target {
	case JobStatusProcessing:
		return []string{JobStatusPending}
	case JobStatusCompleted:
		return []string{JobStatusProcessing}
	case JobStatusFailed:
		return []string{JobStatusPending, JobStatusProcessing}
	case JobStatusCancelled:
		return []string{JobStatusPending, JobStatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether from -> to is an edge of the job state machine.
func CanTransition(from, to string) bool {
	for _, s := range AllowedSources(to) {
		if s == from {
			return true
		}
	}
	return false
}

// ProgressFor returns the progress percentage recorded when entering status.
func ProgressFor(status string) int {
	switch status {
	case JobStatusProcessing:
		return 20
	case JobStatusCompleted:
		return 100
	default:
		return 0
	}
}

// ValidStatus reports whether s is a known job status.
func ValidStatus(s string) bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SentimentLabel maps a score to its label using fixed thresholds.
func SentimentLabel(score float64) string {
	switch {
	case score > 20:
		return SentimentPositive
	case score < -20:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
