package upload

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, owner OwnerRef) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, owner)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients(owner) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(msg, &e))
	return e
}

func ownedUpload(id string, owner OwnerRef) *Upload {
	u := &Upload{ID: id, Kind: DefaultKind, Filename: "a.bin", Status: StatusUploading, CreatedAt: time.Now().UTC()}
	u.setOwner(&owner)
	return u
}

func TestHub_DeliversOnlyToOwner(t *testing.T) {
	hub := NewHub()
	alice := OwnerRef{Kind: "user", ID: "alice"}
	bob := OwnerRef{Kind: "user", ID: "bob"}
	conn := dialHub(t, hub, alice)

	hub.Publish(newEvent(EventProgress, ownedUpload("bobs", bob), time.Hour))
	hub.Publish(newEvent(EventProgress, &Upload{ID: "anon", Status: StatusUploading}, time.Hour))
	hub.Publish(newEvent(EventCompleted, ownedUpload("alices", alice), time.Hour))

	e := readEvent(t, conn)
	assert.Equal(t, EventCompleted, e.Type)
	assert.Equal(t, "alices", e.Upload.ID)
}

func TestHub_Subscribe(t *testing.T) {
	hub := NewHub()
	alice := OwnerRef{Kind: "user", ID: "alice"}
	conn := dialHub(t, hub, alice)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "upload_id": "two"}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.connections[alice.String()] {
			return c.uploads["two"]
		}
		return false
	}, time.Second, 5*time.Millisecond)

	hub.Publish(newEvent(EventProgress, ownedUpload("one", alice), time.Hour))
	hub.Publish(newEvent(EventProgress, ownedUpload("two", alice), time.Hour))

	e := readEvent(t, conn)
	assert.Equal(t, "two", e.Upload.ID)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub := NewHub()
	alice := OwnerRef{Kind: "user", ID: "alice"}
	conn := dialHub(t, hub, alice)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients(alice) == 0 }, 2*time.Second, 5*time.Millisecond)
}
