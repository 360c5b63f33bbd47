package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

// Mirror message types.
const (
	MirrorSnapshot = "snapshot"
	MirrorEvent    = "event"
)

// MirrorMessage is the JSON frame written to the mirror.
type MirrorMessage struct {
	Type     string           `json:"type"`
	UserID   string           `json:"userId"`
	Snapshot *ir.SyncSnapshot `json:"snapshot,omitempty"`
	Event    *ir.TrackedEvent `json:"event,omitempty"`
}

// WebSocketMirror streams snapshots and tracked events to a websocket
// endpoint. It is write-only: PullData always fails with
// syncer.ErrWriteOnly, so it can never be the primary source.
type WebSocketMirror struct {
	url    string
	header http.Header

	mu     sync.Mutex
	conn   *websocket.Conn
	closed context.Context // done once the peer or Destroy closes the conn
}

// NewWebSocketMirror creates a mirror for a ws:// or wss:// URL. A non-empty
// token is sent as a bearer token during the handshake.
func NewWebSocketMirror(rawURL, token string) (*WebSocketMirror, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "ws://") && !strings.HasPrefix(rawURL, "wss://") {
		return nil, &ir.ConfigError{
			Code:    ir.ErrCodeConfigInvalid,
			Path:    "sources.websocket.url",
			Message: fmt.Sprintf("url %q must use ws:// or wss://", rawURL),
		}
	}
	header := http.Header{}
	if token = strings.TrimSpace(token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebSocketMirror{url: rawURL, header: header}, nil
}

func (w *WebSocketMirror) Name() string { return "websocket" }

// Initialize dials the endpoint. Idempotent while connected.
func (w *WebSocketMirror) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connected() {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{HTTPHeader: w.header})
	if err != nil {
		return fmt.Errorf("dial mirror: %w", err)
	}
	// The mirror never reads application data; CloseRead keeps control
	// frames flowing and reports when the connection goes away.
	w.closed = conn.CloseRead(context.Background())
	w.conn = conn
	return nil
}

func (w *WebSocketMirror) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected()
}

func (w *WebSocketMirror) connected() bool {
	return w.conn != nil && w.closed.Err() == nil
}

func (w *WebSocketMirror) PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error {
	snap.Normalize()
	return w.write(ctx, MirrorMessage{Type: MirrorSnapshot, UserID: userID, Snapshot: &snap})
}

// PullData always fails: the mirror is write-only.
func (w *WebSocketMirror) PullData(context.Context, string) (ir.SyncSnapshot, error) {
	return ir.SyncSnapshot{}, syncer.ErrWriteOnly
}

func (w *WebSocketMirror) TrackEvent(ctx context.Context, userID string, ev ir.TrackedEvent) error {
	return w.write(ctx, MirrorMessage{Type: MirrorEvent, UserID: userID, Event: &ev})
}

// Destroy closes the connection with a normal closure.
func (w *WebSocketMirror) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return
	}
	_ = w.conn.Close(websocket.StatusNormalClosure, "mirror destroyed")
	w.conn = nil
}

// write serializes frames so messages reach the peer in call order.
func (w *WebSocketMirror) write(ctx context.Context, msg MirrorMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected() {
		return syncer.ErrNotReady
	}
	if err := wsjson.Write(ctx, w.conn, msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}
