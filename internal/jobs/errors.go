package jobs

import (
	"errors"

	"github.com/kiranshivaraju/linesense/internal/apperr"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")

	ErrNoFile       = apperr.Invalid("No file uploaded")
	ErrNoFiles      = apperr.Invalid("No files uploaded")
	ErrNoText       = apperr.Invalid("Text is required for processing")
	ErrNotCompleted = apperr.Invalid("Job is not completed yet")

	ErrJobNotFound        = apperr.NotFound("Job not found")
	ErrNotCancellable     = apperr.NotFound("Job not found or cannot be cancelled")
	ErrBatchNotFound      = apperr.NotFound("Batch not found")
	ErrNoCompletedInBatch = apperr.NotFound("No completed jobs found in this batch")
)
