package upload

import "time"

type EventType string

const (
	EventProgress  EventType = "upload.progress"
	EventCompleted EventType = "upload.completed"
	EventAborted   EventType = "upload.aborted"
	EventDeleted   EventType = "upload.deleted"
)

// Event is a state change of one upload, delivered to its owner.
type Event struct {
	Type   EventType   `json:"type"`
	Upload EventUpload `json:"upload"`

	owner *OwnerRef
}

type EventUpload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Filename  string    `json:"filename"`
	Offset    int64     `json:"offset"`
	Status    Status    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e Event) Owner() *OwnerRef { return e.owner }

// Notifier receives upload events. Publish must not block.
type Notifier interface {
	Publish(e Event)
}

func newEvent(typ EventType, u *Upload, window time.Duration) Event {
	return Event{
		Type: typ,
		Upload: EventUpload{
			ID:        u.ID,
			Kind:      u.Kind,
			Filename:  u.Filename,
			Offset:    u.Offset,
			Status:    u.Status,
			ExpiresAt: u.ExpiresAt(window),
		},
		owner: u.Owner(),
	}
}
