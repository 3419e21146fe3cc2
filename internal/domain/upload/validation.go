package upload

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// validateFilename applies the extension and mimetype allowlists. The
// mimetype is guessed from the extension, as no content has been inspected.
func (o Options) validateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return validationErrorf("filename is required")
	}
	if len(name) > 255 {
		return validationErrorf("filename must be at most 255 characters")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if len(o.AllowedExtensions) > 0 && !containsFold(o.AllowedExtensions, ext) {
		return validationErrorf("Extension '%s' not allowed. Allowed extensions are: '%s'.",
			ext, strings.Join(o.AllowedExtensions, ", "))
	}

	if len(o.AllowedMimeTypes) > 0 {
		mimeType := mime.TypeByExtension(filepath.Ext(name))
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
		if !containsFold(o.AllowedMimeTypes, mimeType) {
			return validationErrorf("MIME type '%s' is not valid. Allowed types are: %s.",
				mimeType, strings.Join(o.AllowedMimeTypes, ", "))
		}
	}
	return nil
}

// validateSize checks the finished size against MinBytes and maxBytes, the
// limit already resolved for the caller.
func (o Options) validateSize(size, maxBytes int64) error {
	if o.MinBytes > 0 && size < o.MinBytes {
		return validationErrorf("The current file %s, which is too small. The minimum file size is %s.",
			formatBytes(size), formatBytes(o.MinBytes))
	}
	if maxBytes > 0 && size > maxBytes {
		return validationErrorf("The current file %s, which is too large. The maximum file size is %s.",
			formatBytes(size), formatBytes(maxBytes))
	}
	return nil
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimPrefix(s, "."), v) {
			return true
		}
	}
	return false
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
