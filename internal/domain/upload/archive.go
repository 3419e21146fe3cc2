package upload

import (
	"context"
	"fmt"
	"io"
	"path"

	"chunkupload/internal/blob"
)

// Archiver copies finished files to long-term storage.
type Archiver interface {
	Save(ctx context.Context, key string, r io.Reader) error
	URL(key string) string
}

// ArchiveResult is the completion response when archiving is enabled.
type ArchiveResult struct {
	Upload     *Upload `json:"upload"`
	ArchiveKey string  `json:"archive_key"`
	ArchiveURL string  `json:"archive_url"`
}

// NewArchiveHook returns a CompletionHook that streams the completed blob
// to archiver under <kind>/<id>/<filename>.
func NewArchiveHook(archiver Archiver, blobs blob.Store) CompletionHook {
	return func(ctx context.Context, u *Upload) (any, error) {
		rc, err := blobs.Open(ctx, u.BlobPath)
		if err != nil {
			return nil, fmt.Errorf("open completed blob: %w", err)
		}
		defer rc.Close()

		key := path.Join(u.Kind, u.ID, path.Base(u.Filename))
		if err := archiver.Save(ctx, key, rc); err != nil {
			return nil, fmt.Errorf("archive upload: %w", err)
		}
		return &ArchiveResult{
			Upload:     u,
			ArchiveKey: key,
			ArchiveURL: archiver.URL(key),
		}, nil
	}
}
