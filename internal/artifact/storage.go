// Package artifact stores the files produced by compute jobs and hands back
// a URL that is used as the job's artifact reference.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Storage uploads artifacts
type Storage interface {
	// Upload stores data under name. The content type is detected from
	// data and the extension it implies is appended to the key.
	Upload(ctx context.Context, name string, data []byte) (*UploadResult, error)
	Kind() string
}

// UploadResult describes a stored artifact
type UploadResult struct {
	Key         string
	URL         string
	ContentType string
	Size        int
}

// objectKey builds a stable key so a recomputed job overwrites its
// previous artifact instead of leaving a second copy
func objectKey(prefix, name string, data []byte) (string, string) {
	mime := mimetype.Detect(data)

	safe := strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(name)
	key := safe + mime.Extension()
	if prefix != "" {
		key = path.Join(strings.Trim(prefix, "/"), key)
	}

	return key, mime.String()
}

func joinURL(base, key string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), key)
}
