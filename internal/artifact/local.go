package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalStorage writes artifacts below a directory on disk
type LocalStorage struct {
	baseDir   string
	baseURL   string
	keyPrefix string
	logger    *slog.Logger
}

// NewLocalStorage creates baseDir if needed
func NewLocalStorage(baseDir, baseURL, keyPrefix string, logger *slog.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if baseURL == "" {
		abs, err := filepath.Abs(baseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
		}
		baseURL = "file://" + filepath.ToSlash(abs)
	}

	return &LocalStorage{
		baseDir:   baseDir,
		baseURL:   baseURL,
		keyPrefix: keyPrefix,
		logger:    logger,
	}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, name string, data []byte) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, contentType := objectKey(s.keyPrefix, name, data)
	filePath := filepath.Join(s.baseDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory structure: %w", err)
	}

	// write then rename so a reader never sees a partial file
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	s.logger.Debug("Artifact written to local storage",
		slog.String("key", key),
		slog.String("path", filePath),
		slog.Int("size", len(data)),
	)

	return &UploadResult{
		Key:         key,
		URL:         joinURL(s.baseURL, key),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

func (s *LocalStorage) Kind() string {
	return "Local Filesystem"
}
