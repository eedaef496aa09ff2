package artifact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/compute-jobs/internal/config"
)

// New returns the backend selected by cfg.Mode
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Storage, error) {
	switch cfg.Mode {
	case "s3":
		return NewS3Storage(ctx, cfg, logger)
	case "local", "":
		return NewLocalStorage(cfg.LocalDir, cfg.LocalBaseURL, cfg.KeyPrefix, logger)
	default:
		return nil, fmt.Errorf("unknown storage mode: %s", cfg.Mode)
	}
}
