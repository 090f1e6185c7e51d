// Package upload holds the transient storage uploaded files live in between
// ingestion and the end of their orchestration run.
package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/linesense/internal/config"
)

var ErrNotFound = errors.New("upload not found")

// Store persists uploaded bytes under a key until Remove is called.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.UploadConfig) (Store, error) {
	switch cfg.Backend {
	case "disk", "":
		return NewDisk(cfg.Dir)
	case "minio":
		return NewMinIO(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}
