package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

// newMirrorServer accepts one connection and forwards every frame.
func newMirrorServer(t *testing.T) (string, <-chan MirrorMessage, <-chan string) {
	t.Helper()
	frames := make(chan MirrorMessage, 8)
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler exit")
		for {
			var msg MirrorMessage
			if err := wsjson.Read(r.Context(), conn, &msg); err != nil {
				return
			}
			frames <- msg
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), frames, auth
}

func receive(t *testing.T, frames <-chan MirrorMessage) MirrorMessage {
	t.Helper()
	select {
	case msg := <-frames:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
		return MirrorMessage{}
	}
}

func TestNewWebSocketMirror_RequiresWSScheme(t *testing.T) {
	_, err := NewWebSocketMirror("http://example.com", "")
	assert.True(t, ir.IsConfigError(err))
}

func TestWebSocketMirror_StreamsSnapshotsAndEvents(t *testing.T) {
	url, frames, auth := newMirrorServer(t)
	ctx := context.Background()

	m, err := NewWebSocketMirror(url, "tok")
	require.NoError(t, err)
	assert.False(t, m.IsReady())
	require.NoError(t, m.Initialize(ctx))
	defer m.Destroy()
	assert.True(t, m.IsReady())
	assert.Equal(t, "Bearer tok", <-auth)

	require.NoError(t, m.PushData(ctx, "u1", testSnapshot()))
	msg := receive(t, frames)
	assert.Equal(t, MirrorSnapshot, msg.Type)
	assert.Equal(t, "u1", msg.UserID)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, 0.42, msg.Snapshot.Areas["editor"].Density)

	require.NoError(t, m.TrackEvent(ctx, "u1", testEvent()))
	msg = receive(t, frames)
	assert.Equal(t, MirrorEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, testEvent(), *msg.Event)
}

func TestWebSocketMirror_IsWriteOnly(t *testing.T) {
	m, err := NewWebSocketMirror("ws://127.0.0.1:1/mirror", "")
	require.NoError(t, err)
	_, err = m.PullData(context.Background(), "u1")
	assert.ErrorIs(t, err, syncer.ErrWriteOnly)
}

func TestWebSocketMirror_DestroyedRejectsWrites(t *testing.T) {
	url, _, _ := newMirrorServer(t)
	m, err := NewWebSocketMirror(url, "")
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))

	m.Destroy()
	m.Destroy()
	assert.False(t, m.IsReady())
	assert.ErrorIs(t, m.TrackEvent(context.Background(), "u1", testEvent()), syncer.ErrNotReady)
}
