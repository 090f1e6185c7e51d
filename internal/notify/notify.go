// Package notify sends best-effort emails about finished jobs.
package notify

import (
	"context"
	"log/slog"

	"github.com/kiranshivaraju/linesense/pkg/models"
)

// Notifier delivers job outcome messages to a job's owner.
type Notifier interface {
	ProcessingComplete(ctx context.Context, to, filename string, summary models.JobOutput) error
	ProcessingFailed(ctx context.Context, to, filename, message string) error
}

// Noop logs instead of sending. Used when SMTP is not configured.
type Noop struct{}

func (Noop) ProcessingComplete(_ context.Context, to, filename string, summary models.JobOutput) error {
	slog.Info("email disabled, skipping completion notice", "to", to, "filename", filename, "total_lines", summary.TotalLines)
	return nil
}

func (Noop) ProcessingFailed(_ context.Context, to, filename, message string) error {
	slog.Info("email disabled, skipping failure notice", "to", to, "filename", filename)
	return nil
}

var _ Notifier = Noop{}
