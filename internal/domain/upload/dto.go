package upload

import "time"

type uploadResponse struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Kind        string     `json:"kind"`
	Filename    string     `json:"filename"`
	Offset      int64      `json:"offset"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Expired     bool       `json:"expired"`
}

type listQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=uploading complete aborted"`
}

type completeJSON map[string]any

func (b completeJSON) str(key string) string {
	if v, ok := b[key].(string); ok {
		return v
	}
	return ""
}
