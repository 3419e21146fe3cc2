package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chunkupload/internal/blob"
	"chunkupload/internal/checksum"

	"github.com/google/uuid"
)

// CompletionHook runs after an upload has been committed as complete. A
// non-nil result replaces the default response body.
type CompletionHook func(ctx context.Context, u *Upload) (any, error)

// ChunkRequest is one byte range of an upload.
type ChunkRequest struct {
	// UploadID is empty for the first chunk of a new upload.
	UploadID string
	Filename string
	// ContentRange is the raw `bytes start-end/total` header value.
	ContentRange string
	// Whole marks a request carrying the entire file; ContentRange is ignored.
	Whole bool
	// Payload is nil when the request carried no chunk at all.
	Payload     io.Reader
	PayloadSize int64
	Caller      *OwnerRef
}

type CompleteRequest struct {
	// UploadID may be empty when Chunk carries a whole file.
	UploadID string
	Checksum string
	Caller   *OwnerRef
	Chunk    *ChunkRequest
}

type Completion struct {
	Upload *Upload
	// Response is what the completion hook returned, if anything.
	Response any
}

type ServiceOption func(*Service)

func WithOwnerRegistry(r OwnerRegistry) ServiceOption {
	return func(s *Service) { s.owners = r }
}

func WithCompletionHook(h CompletionHook) ServiceOption {
	return func(s *Service) { s.hook = h }
}

func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.events = n }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service implements the chunk append and completion protocols on top of a
// record repository and a blob store.
type Service struct {
	repo   Repository
	blobs  blob.Store
	opts   Options
	owners OwnerRegistry
	hook   CompletionHook
	events Notifier
	locks  *keyedMutex
	now    func() time.Time
}

func NewService(repo Repository, blobs blob.Store, opts Options, options ...ServiceOption) *Service {
	s := &Service{
		repo:  repo,
		blobs: blobs,
		opts:  opts.withDefaults(),
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Service) Options() Options {
	return s.opts
}

// AppendChunk validates one byte range and applies it, creating the upload
// when req.UploadID is empty.
func (s *Service) AppendChunk(ctx context.Context, req ChunkRequest) (*Upload, error) {
	rng, err := s.validateChunk(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.UploadID == "" {
		return s.create(ctx, req, rng)
	}
	return s.append(ctx, req, rng)
}

func (s *Service) validateChunk(ctx context.Context, req ChunkRequest) (ContentRange, error) {
	if req.Payload == nil {
		return ContentRange{}, validationError(ErrNoChunk)
	}

	var rng ContentRange
	if req.Whole {
		rng = WholeRange(req.PayloadSize)
	} else {
		var err error
		if rng, err = ParseContentRange(req.ContentRange); err != nil {
			return ContentRange{}, validationError(ErrBadContentRange)
		}
	}

	if rng.End >= rng.Total {
		return ContentRange{}, validationErrorf("End of chunk exceeds reported total (%d bytes)", rng.Total)
	}
	if limit := s.opts.maxBytes(ctx, req.Caller); limit > 0 && rng.Total > limit {
		return ContentRange{}, validationErrorf("Size of file exceeds the limit (%d bytes)", limit)
	}
	if rng.Size() != req.PayloadSize {
		return ContentRange{}, sizeMismatch(req.PayloadSize, rng.Size())
	}
	return rng, nil
}

func sizeMismatch(actual, reported int64) *Error {
	return validationErrorf("File size doesn't match headers: file size is %d but %d reported", actual, reported)
}

func (s *Service) create(ctx context.Context, req ChunkRequest, rng ContentRange) (*Upload, error) {
	if req.Caller == nil && s.opts.RequireOwner {
		return nil, newError(KindAuth, ErrOwnerRequired, "")
	}
	if req.Caller != nil && s.owners != nil {
		if err := s.owners.Allowed(ctx, *req.Caller); err != nil {
			return nil, newError(KindValidation, err, "")
		}
	}
	if err := s.opts.validateFilename(req.Filename); err != nil {
		return nil, err
	}
	if rng.Start != 0 {
		return nil, conflictError(0, rng.Start)
	}

	now := s.now()
	u := &Upload{
		ID:        uuid.NewString(),
		Kind:      s.opts.Kind,
		Filename:  req.Filename,
		Status:    StatusUploading,
		CreatedAt: now,
	}
	u.setOwner(req.Caller)
	u.BlobPath = s.opts.incompletePath(u.ID, u.Filename, now)

	n, err := s.blobs.Create(ctx, u.BlobPath, io.LimitReader(req.Payload, rng.Size()))
	if err != nil {
		_ = s.blobs.Delete(ctx, u.BlobPath)
		return nil, fmt.Errorf("create upload blob: %w", err)
	}
	if n != rng.Size() {
		_ = s.blobs.Delete(ctx, u.BlobPath)
		return nil, sizeMismatch(n, rng.Size())
	}
	u.Offset = n

	if err := s.repo.Create(ctx, u); err != nil {
		_ = s.blobs.Delete(ctx, u.BlobPath)
		return nil, fmt.Errorf("save upload record: %w", err)
	}

	slog.Debug("upload created", "upload_id", u.ID, "kind", u.Kind, "offset", u.Offset, "owner", req.Caller)
	s.publish(EventProgress, u)
	return u, nil
}

func (s *Service) append(ctx context.Context, req ChunkRequest, rng ContentRange) (*Upload, error) {
	unlock := s.locks.Lock(req.UploadID)
	defer unlock()

	var out *Upload
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		u, err := s.loadVisible(ctx, repo.GetForUpdate, req.UploadID, req.Caller)
		if err != nil {
			return err
		}
		if err := s.checkState(u); err != nil {
			return err
		}
		if rng.Start != u.Offset {
			return conflictError(u.Offset, rng.Start)
		}

		expected := u.Offset
		n, err := s.blobs.Append(ctx, u.BlobPath, expected, io.LimitReader(req.Payload, rng.Size()))
		if err != nil {
			return fmt.Errorf("append chunk: %w", err)
		}
		if n != rng.Size() {
			// the stray bytes are truncated by the next append
			return sizeMismatch(n, rng.Size())
		}

		u.Offset += n
		u.dropChecksum()
		if err := repo.UpdateProgress(ctx, u, expected); err != nil {
			return err
		}
		out = u
		return nil
	})
	if errors.Is(err, errStaleOffset) {
		cur, gerr := s.repo.GetByID(ctx, req.UploadID)
		if errors.Is(gerr, ErrNotFound) {
			return nil, notFoundError()
		}
		if gerr != nil {
			return nil, fmt.Errorf("reload upload after offset conflict: %w", gerr)
		}
		return nil, conflictError(cur.Offset, rng.Start)
	}
	if err != nil {
		return nil, err
	}

	s.publish(EventProgress, out)
	return out, nil
}

// Complete verifies the checksum of an upload and marks it complete. When
// req.Chunk is set and req.UploadID is empty the chunk is stored first as a
// whole-file upload.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*Completion, error) {
	id := req.UploadID
	if id == "" {
		if req.Chunk == nil {
			return nil, validationError(ErrNoChunk)
		}
		if s.opts.ChecksumCheck && req.Checksum == "" {
			return nil, s.checksumRequired()
		}
		chunk := *req.Chunk
		chunk.Whole = true
		chunk.Caller = req.Caller
		u, err := s.AppendChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		id = u.ID
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	var done *Upload
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		u, err := s.loadVisible(ctx, repo.GetForUpdate, id, req.Caller)
		if err != nil {
			return err
		}
		if err := s.checkState(u); err != nil {
			return err
		}
		if err := s.trimBlob(ctx, u); err != nil {
			return err
		}

		if s.opts.ChecksumCheck {
			if req.Checksum == "" {
				return s.checksumRequired()
			}
			sum, err := s.Checksum(ctx, u)
			if err != nil {
				return err
			}
			if sum != req.Checksum {
				return newError(KindIntegrity, ErrChecksumMismatch, "")
			}
		}
		if err := s.opts.validateSize(u.Offset, s.opts.maxBytes(ctx, req.Caller)); err != nil {
			return err
		}

		incomplete := u.BlobPath
		complete := s.opts.completePath(incomplete)
		if complete != incomplete {
			if err := s.blobs.Rename(ctx, incomplete, complete); err != nil {
				return fmt.Errorf("finalize upload blob: %w", err)
			}
		}

		now := s.now()
		u.Status = StatusComplete
		u.CompletedAt = &now
		u.BlobPath = complete
		if err := repo.Update(ctx, u); err != nil {
			if complete != incomplete {
				_ = s.blobs.Rename(ctx, complete, incomplete)
			}
			return fmt.Errorf("mark upload complete: %w", err)
		}
		done = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("upload complete", "upload_id", done.ID, "kind", done.Kind, "bytes", done.Offset)
	s.publish(EventCompleted, done)

	c := &Completion{Upload: done}
	if s.hook != nil {
		resp, err := s.hook(ctx, done)
		if err != nil {
			return c, fmt.Errorf("completion hook for upload %s: %w", done.ID, err)
		}
		c.Response = resp
	}
	return c, nil
}

func (s *Service) checksumRequired() *Error {
	return validationErrorf("Checksum of type '%s' is required", s.opts.ChecksumAlgorithm)
}

// Checksum returns the hex digest of everything appended so far, reading the
// blob through a fresh read-only handle. The result is cached on u until the
// next append.
func (s *Service) Checksum(ctx context.Context, u *Upload) (string, error) {
	algo := s.opts.ChecksumAlgorithm
	if sum, ok := u.cachedChecksum(algo); ok {
		return sum, nil
	}
	rc, err := s.blobs.Open(ctx, u.BlobPath)
	if err != nil {
		return "", fmt.Errorf("open upload blob: %w", err)
	}
	defer rc.Close()

	sum, err := checksum.Sum(ctx, io.LimitReader(rc, u.Offset), algo)
	if err != nil {
		return "", err
	}
	u.cacheChecksum(algo, sum)
	return sum, nil
}

// trimBlob drops bytes past the recorded offset, left behind when an append
// reached the blob but its offset update did not commit.
func (s *Service) trimBlob(ctx context.Context, u *Upload) error {
	size, err := s.blobs.Size(ctx, u.BlobPath)
	if err != nil {
		return fmt.Errorf("stat upload blob: %w", err)
	}
	if size < u.Offset {
		return fmt.Errorf("upload %s: %w: have %d, want %d", u.ID, blob.ErrShortBlob, size, u.Offset)
	}
	if size == u.Offset {
		return nil
	}
	if _, err := s.blobs.Append(ctx, u.BlobPath, u.Offset, http.NoBody); err != nil {
		return fmt.Errorf("trim upload blob: %w", err)
	}
	slog.Warn("trimmed uncommitted bytes from upload blob", "upload_id", u.ID, "offset", u.Offset, "blob_size", size)
	u.dropChecksum()
	return nil
}

// Abort moves an in-progress upload to the aborted state and drops its blob.
func (s *Service) Abort(ctx context.Context, id string, caller *OwnerRef) (*Upload, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var out *Upload
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		u, err := s.loadVisible(ctx, repo.GetForUpdate, id, caller)
		if err != nil {
			return err
		}
		if err := s.checkState(u); err != nil {
			return err
		}
		path := u.BlobPath
		u.Status = StatusAborted
		u.BlobPath = ""
		u.dropChecksum()
		if err := repo.Update(ctx, u); err != nil {
			return fmt.Errorf("mark upload aborted: %w", err)
		}
		if err := deleteBlob(ctx, s.blobs, path); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(EventAborted, out)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string, caller *OwnerRef) (*Upload, error) {
	return s.loadVisible(ctx, s.repo.GetByID, id, caller)
}

func (s *Service) List(ctx context.Context, caller *OwnerRef, status Status) ([]*Upload, error) {
	return s.repo.List(ctx, ListFilter{
		Restricted: s.opts.UserRestricted,
		Owner:      caller,
		Kind:       s.opts.Kind,
		Status:     status,
	})
}

// Delete removes the record and its blob. A blob that cannot be removed
// keeps the record in place.
func (s *Service) Delete(ctx context.Context, id string, caller *OwnerRef) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	var deleted *Upload
	err := s.repo.Transaction(ctx, func(repo Repository) error {
		u, err := s.loadVisible(ctx, repo.GetForUpdate, id, caller)
		if err != nil {
			return err
		}
		if err := deleteRecordAndBlob(ctx, repo, s.blobs, u); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("upload deleted", "upload_id", id)
	s.publish(EventDeleted, deleted)
	return nil
}

// IsExpired applies the configured expiration window to u.
func (s *Service) IsExpired(u *Upload) bool {
	return u.Expired(s.now(), s.opts.ExpirationWindow)
}

func (s *Service) ExpiresAt(u *Upload) time.Time {
	return u.ExpiresAt(s.opts.ExpirationWindow)
}

type getFunc func(ctx context.Context, id string) (*Upload, error)

// loadVisible fetches a record and hides it from callers that may not see
// it. Absent and hidden records are indistinguishable.
func (s *Service) loadVisible(ctx context.Context, get getFunc, id string, caller *OwnerRef) (*Upload, error) {
	if id == "" {
		return nil, notFoundError()
	}
	u, err := get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}
	if u.Kind != s.opts.Kind {
		return nil, notFoundError()
	}
	if s.opts.UserRestricted && !sameOwner(u.Owner(), caller) {
		return nil, notFoundError()
	}
	return u, nil
}

// checkState rejects mutation of uploads that can no longer change.
func (s *Service) checkState(u *Upload) error {
	if u.Expired(s.now(), s.opts.ExpirationWindow) {
		return newError(KindState, ErrExpired, "")
	}
	switch u.Status {
	case StatusComplete:
		return newError(KindState, ErrAlreadyComplete, "")
	case StatusAborted:
		return newError(KindState, ErrAborted, "")
	}
	return nil
}

// deleteBlob removes path; a blob that is already gone is not an error.
func deleteBlob(ctx context.Context, blobs blob.Store, path string) error {
	if path == "" {
		return nil
	}
	if err := blobs.Delete(ctx, path); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("delete upload blob: %w", err)
	}
	return nil
}

// deleteRecordAndBlob must run inside a transaction on repo: the blob goes
// last so a failed removal rolls the record deletion back.
func deleteRecordAndBlob(ctx context.Context, repo Repository, blobs blob.Store, u *Upload) error {
	if err := repo.Delete(ctx, u.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFoundError()
		}
		return fmt.Errorf("delete upload record: %w", err)
	}
	return deleteBlob(ctx, blobs, u.BlobPath)
}

func (s *Service) publish(typ EventType, u *Upload) {
	if s.events == nil || u == nil {
		return
	}
	s.events.Publish(newEvent(typ, u, s.opts.ExpirationWindow))
}
