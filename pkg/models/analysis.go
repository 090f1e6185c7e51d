package models

import (
	"context"

	"github.com/google/uuid"
)

// AnalysisRequest is the input handed to an Analyzer for one job.
type AnalysisRequest struct {
	JobID    uuid.UUID
	UserID   uuid.UUID
	Filename string
	Content  string
}

// Analyzer computes per-line sentiment for a block of text.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*JobOutput, error)
	Name() string
}
