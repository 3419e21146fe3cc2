package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chunkupload/internal/blob"
)

// Confirmer is asked before each deletion; false skips the upload.
type Confirmer func(ctx context.Context, u *Upload) (bool, error)

type SweepOptions struct {
	// Kinds limits the sweep to these record kinds; empty means all.
	Kinds []string
	// KeepRecord deletes only blobs and leaves the records in place.
	KeepRecord bool
	Confirm    Confirmer
}

// SweepReport counts affected uploads per status, in total and per kind.
type SweepReport struct {
	KeepRecord bool
	Counts     map[Status]int
	ByKind     map[string]map[Status]int
	Skipped    int
	Failed     int
}

func newSweepReport(keepRecord bool) *SweepReport {
	return &SweepReport{
		KeepRecord: keepRecord,
		Counts:     zeroCounts(),
		ByKind:     make(map[string]map[Status]int),
	}
}

func zeroCounts() map[Status]int {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	return counts
}

func (r *SweepReport) add(u *Upload) {
	r.Counts[u.Status]++
	kind, ok := r.ByKind[u.Kind]
	if !ok {
		kind = zeroCounts()
		r.ByKind[u.Kind] = kind
	}
	kind[u.Status]++
}

func (r *SweepReport) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Lines renders counts the way the cleanup command prints them.
func (r *SweepReport) Lines(counts map[Status]int) []string {
	suffix := ""
	if r.KeepRecord {
		suffix = " file"
	}
	lines := make([]string, 0, len(Statuses))
	for _, st := range Statuses {
		lines = append(lines, fmt.Sprintf("%d %s upload%ss were deleted.",
			counts[st], strings.ToLower(st.Label()), suffix))
	}
	return lines
}

type SweeperOption func(*Sweeper)

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper removes uploads that stayed incomplete past the expiration window.
type Sweeper struct {
	repo   Repository
	blobs  blob.Store
	window time.Duration
	now    func() time.Time
}

func NewSweeper(repo Repository, blobs blob.Store, window time.Duration, options ...SweeperOption) *Sweeper {
	if window <= 0 {
		window = DefaultExpirationWindow
	}
	s := &Sweeper{
		repo:   repo,
		blobs:  blobs,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Run handles each expired upload on its own so the blob removal always
// accompanies the record removal. Failures are logged, counted and
// returned together once every candidate has been tried.
func (s *Sweeper) Run(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	cutoff := s.now().Add(-s.window)
	candidates, err := s.repo.ListExpired(ctx, ExpiredFilter{
		CreatedAtOrBefore: cutoff,
		Kinds:             opts.Kinds,
		WithBlobOnly:      opts.KeepRecord,
	})
	if err != nil {
		return nil, fmt.Errorf("list expired uploads: %w", err)
	}

	report := newSweepReport(opts.KeepRecord)
	var errs []error
	for _, u := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if opts.Confirm != nil {
			ok, err := opts.Confirm(ctx, u)
			if err != nil {
				errs = append(errs, fmt.Errorf("confirm %s: %w", u.ID, err))
				break
			}
			if !ok {
				report.Skipped++
				continue
			}
		}

		swept, err := s.sweepOne(ctx, u.ID, cutoff, opts.KeepRecord)
		if err != nil {
			slog.Error("sweep upload failed", "upload_id", u.ID, "error", err)
			report.Failed++
			errs = append(errs, fmt.Errorf("sweep %s: %w", u.ID, err))
			continue
		}
		if swept == nil {
			// resumed, completed or deleted since listing
			report.Skipped++
			continue
		}
		report.add(swept)
	}

	slog.Info("upload sweep finished",
		"candidates", len(candidates),
		"deleted", report.Total(),
		"skipped", report.Skipped,
		"failed", report.Failed,
		"keep_record", opts.KeepRecord,
	)
	return report, errors.Join(errs...)
}

func (s *Sweeper) sweepOne(ctx context.Context, id string, cutoff time.Time, keepRecord bool) (*Upload, error) {
	var swept *Upload
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		u, err := repo.GetForUpdate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if u.Status != StatusUploading || u.CreatedAt.After(cutoff) {
			return nil
		}

		if !keepRecord {
			if err := deleteRecordAndBlob(ctx, repo, s.blobs, u); err != nil {
				return err
			}
			swept = u
			return nil
		}

		if u.BlobPath == "" {
			return nil
		}
		path := u.BlobPath
		u.BlobPath = ""
		if err := repo.Update(ctx, u); err != nil {
			return err
		}
		if err := deleteBlob(ctx, s.blobs, path); err != nil {
			return err
		}
		swept = u
		return nil
	})
	return swept, err
}

// Schedule runs the sweep every interval until ctx is done or the returned
// channel is closed.
func (s *Sweeper) Schedule(ctx context.Context, interval time.Duration, opts SweepOptions) chan struct{} {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Run(ctx, opts); err != nil {
					slog.Error("scheduled upload sweep failed", "error", err)
				}
			case <-stopCh:
				slog.Info("scheduled upload sweep stopped")
				return
			case <-ctx.Done():
				slog.Info("scheduled upload sweep stopped", "reason", ctx.Err())
				return
			}
		}
	}()

	slog.Info("scheduled upload sweep started", "interval", interval)
	return stopCh
}
