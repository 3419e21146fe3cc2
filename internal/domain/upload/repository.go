package upload

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errStaleOffset means a progress update lost a race with another writer.
var errStaleOffset = errors.New("upload offset changed concurrently")

type ListFilter struct {
	// Restricted limits results to records owned by Owner; a nil Owner
	// then matches only anonymous records.
	Restricted bool
	Owner      *OwnerRef
	Kind       string
	Status     Status
}

type ExpiredFilter struct {
	// CreatedAtOrBefore is inclusive, matching Upload.Expired.
	CreatedAtOrBefore time.Time
	Kinds             []string
	// WithBlobOnly skips records whose blob has already been removed.
	WithBlobOnly bool
}

// Repository persists upload records. All mutations of one record during a
// request happen inside Transaction on the repository passed to fn.
type Repository interface {
	Create(ctx context.Context, u *Upload) error
	GetByID(ctx context.Context, id string) (*Upload, error)
	// GetForUpdate loads a record and locks its row until the enclosing
	// transaction ends, where the database supports row locks.
	GetForUpdate(ctx context.Context, id string) (*Upload, error)
	// UpdateProgress stores u.Offset only if the stored offset still equals
	// expectedOffset and the record is still uploading.
	UpdateProgress(ctx context.Context, u *Upload, expectedOffset int64) error
	Update(ctx context.Context, u *Upload) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]*Upload, error)
	ListExpired(ctx context.Context, f ExpiredFilter) ([]*Upload, error)
	// Kinds returns every distinct record kind, sorted.
	Kinds(ctx context.Context) ([]string, error)
	Transaction(ctx context.Context, fn func(repo Repository) error) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, u *Upload) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *repository) GetByID(ctx context.Context, id string) (*Upload, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (*Upload, error) {
	q := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.get(q, id)
}

func (r *repository) get(q *gorm.DB, id string) (*Upload, error) {
	var u Upload
	err := q.Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) UpdateProgress(ctx context.Context, u *Upload, expectedOffset int64) error {
	res := r.db.WithContext(ctx).
		Model(&Upload{}).
		Where("id = ? AND upload_offset = ? AND status = ?", u.ID, expectedOffset, StatusUploading).
		Update("upload_offset", u.Offset)
	if res.Error != nil {
		if isSerializationFailure(res.Error) {
			return errStaleOffset
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStaleOffset
	}
	return nil
}

func (r *repository) Update(ctx context.Context, u *Upload) error {
	res := r.db.WithContext(ctx).
		Model(&Upload{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"filename":      u.Filename,
			"blob_path":     u.BlobPath,
			"upload_offset": u.Offset,
			"status":        u.Status,
			"owner_kind":    u.OwnerKind,
			"owner_id":      u.OwnerID,
			"completed_at":  u.CompletedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Upload{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, f ListFilter) ([]*Upload, error) {
	q := r.db.WithContext(ctx).Model(&Upload{})
	if f.Restricted {
		if f.Owner == nil {
			q = q.Where("owner_kind = ? AND owner_id = ?", "", "")
		} else {
			q = q.Where("owner_kind = ? AND owner_id = ?", f.Owner.Kind, f.Owner.ID)
		}
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var uploads []*Upload
	err := q.Order("created_at DESC").Find(&uploads).Error
	return uploads, err
}

func (r *repository) ListExpired(ctx context.Context, f ExpiredFilter) ([]*Upload, error) {
	q := r.db.WithContext(ctx).
		Model(&Upload{}).
		Where("status = ? AND created_at <= ?", StatusUploading, f.CreatedAtOrBefore)
	if len(f.Kinds) > 0 {
		q = q.Where("kind IN ?", f.Kinds)
	}
	if f.WithBlobOnly {
		q = q.Where("blob_path <> ?", "")
	}

	var uploads []*Upload
	err := q.Order("created_at ASC").Find(&uploads).Error
	return uploads, err
}

func (r *repository) Kinds(ctx context.Context) ([]string, error) {
	var kinds []string
	err := r.db.WithContext(ctx).
		Model(&Upload{}).
		Distinct("kind").
		Order("kind").
		Pluck("kind", &kinds).Error
	return kinds, err
}

func (r *repository) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repository{db: tx})
	})
}

// isSerializationFailure reports postgres serialization and deadlock
// aborts, which mean another writer got to the row first.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
