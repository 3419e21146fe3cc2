package upload

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusUploading Status = "uploading"
	StatusComplete  Status = "complete"
	StatusAborted   Status = "aborted"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusUploading, StatusComplete, StatusAborted}

// Label is the human name used in cleanup reports.
func (s Status) Label() string {
	switch s {
	case StatusUploading:
		return "Incomplete"
	case StatusComplete:
		return "Complete"
	case StatusAborted:
		return "Aborted"
	}
	return string(s)
}

// Upload is one resumable upload: a record plus the blob it owns.
// Offset always equals the number of bytes present in the blob.
type Upload struct {
	ID          string     `gorm:"column:id;primaryKey;size:36" json:"id"`
	Kind        string     `gorm:"column:kind;size:64;index;not null" json:"kind"`
	Filename    string     `gorm:"column:filename;size:255;not null" json:"filename"`
	BlobPath    string     `gorm:"column:blob_path;size:255" json:"-"`
	Offset      int64      `gorm:"column:upload_offset;not null;default:0" json:"offset"`
	Status      Status     `gorm:"column:status;size:16;index;not null" json:"status"`
	OwnerKind   string     `gorm:"column:owner_kind;size:64;index:idx_uploads_owner" json:"-"`
	OwnerID     string     `gorm:"column:owner_id;size:64;index:idx_uploads_owner" json:"-"`
	CreatedAt   time.Time  `gorm:"column:created_at;index;not null" json:"created_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`

	// digest cache, dropped on every append
	checksum     string
	checksumAlgo string
}

func (Upload) TableName() string { return "chunked_uploads" }

func (u *Upload) ExpiresAt(window time.Duration) time.Time {
	return u.CreatedAt.Add(window)
}

// Expired reports whether an upload still in progress has outlived window.
// Complete and aborted uploads never expire.
func (u *Upload) Expired(now time.Time, window time.Duration) bool {
	return u.Status == StatusUploading && !u.ExpiresAt(window).After(now)
}

// Owner returns the owning identity, or nil for anonymous uploads.
func (u *Upload) Owner() *OwnerRef {
	if u.OwnerKind == "" && u.OwnerID == "" {
		return nil
	}
	return &OwnerRef{Kind: u.OwnerKind, ID: u.OwnerID}
}

func (u *Upload) setOwner(o *OwnerRef) {
	if o == nil {
		u.OwnerKind, u.OwnerID = "", ""
		return
	}
	u.OwnerKind, u.OwnerID = o.Kind, o.ID
}

func (u *Upload) cachedChecksum(algo string) (string, bool) {
	if u.checksum == "" || u.checksumAlgo != algo {
		return "", false
	}
	return u.checksum, true
}

func (u *Upload) cacheChecksum(algo, sum string) {
	u.checksumAlgo, u.checksum = algo, sum
}

func (u *Upload) dropChecksum() {
	u.checksumAlgo, u.checksum = "", ""
}

func (u *Upload) String() string {
	return fmt.Sprintf("<%s - upload_id: %s - bytes: %d - status: %s>", u.Filename, u.ID, u.Offset, u.Status)
}
