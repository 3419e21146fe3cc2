package upload

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"chunkupload/internal/checksum"
)

const (
	DefaultKind             = "upload"
	DefaultExpirationWindow = 24 * time.Hour
	DefaultUploadPath       = "chunked_uploads/%Y/%m/%d"
	DefaultIncompleteExt    = ".part"
	DefaultCompleteExt      = ".done"
)

// Options configures a Service. Start from DefaultOptions and override;
// zero-valued strings and durations are filled with defaults by NewService,
// booleans are taken as given.
type Options struct {
	// Kind is stored on every record this service creates; the sweeper
	// selects records by kind.
	Kind             string
	ExpirationWindow time.Duration
	// UploadPath is the blob directory, with strftime-style %Y %m %d %H %M %S.
	UploadPath        string
	ChecksumAlgorithm string
	ChecksumCheck     bool
	MinBytes          int64
	// MaxBytes limits the declared total of an upload. 0 means no limit.
	MaxBytes int64
	// MaxBytesFor overrides MaxBytes per caller when set.
	MaxBytesFor       func(ctx context.Context, caller *OwnerRef) int64
	AllowedExtensions []string
	AllowedMimeTypes  []string
	// UserRestricted hides records from callers other than their owner.
	UserRestricted bool
	// RequireOwner rejects uploads from anonymous callers.
	RequireOwner  bool
	IncompleteExt string
	CompleteExt   string
}

func DefaultOptions() Options {
	return Options{
		Kind:              DefaultKind,
		ExpirationWindow:  DefaultExpirationWindow,
		UploadPath:        DefaultUploadPath,
		ChecksumAlgorithm: checksum.Default,
		ChecksumCheck:     true,
		UserRestricted:    true,
		IncompleteExt:     DefaultIncompleteExt,
		CompleteExt:       DefaultCompleteExt,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Kind == "" {
		o.Kind = d.Kind
	}
	if o.ExpirationWindow <= 0 {
		o.ExpirationWindow = d.ExpirationWindow
	}
	if o.UploadPath == "" {
		o.UploadPath = d.UploadPath
	}
	if o.ChecksumAlgorithm == "" {
		o.ChecksumAlgorithm = d.ChecksumAlgorithm
	}
	o.ChecksumAlgorithm = checksum.Normalize(o.ChecksumAlgorithm)
	if o.IncompleteExt == "" {
		o.IncompleteExt = d.IncompleteExt
	}
	if o.CompleteExt == "" {
		o.CompleteExt = d.CompleteExt
	}
	return o
}

func (o Options) maxBytes(ctx context.Context, caller *OwnerRef) int64 {
	if o.MaxBytesFor != nil {
		return o.MaxBytesFor(ctx, caller)
	}
	return o.MaxBytes
}

var pathPattern = strings.NewReplacer(
	"%%", "%",
	"%Y", "2006",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
)

// expandPath renders the strftime-style directory pattern for t.
func expandPath(pattern string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '%' && i+1 < len(pattern) {
			b.WriteString(t.Format(pathPattern.Replace(pattern[i : i+2])))
			i++
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

// incompletePath is where the blob for a new upload lives until completion.
func (o Options) incompletePath(id, filename string, now time.Time) string {
	return path.Join(expandPath(o.UploadPath, now), id+safeExt(filename)+o.IncompleteExt)
}

func (o Options) completePath(p string) string {
	return strings.TrimSuffix(p, o.IncompleteExt) + o.CompleteExt
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	ext = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, ext)
	if len(ext) <= 1 || len(ext) > 16 {
		return ""
	}
	return ext
}
