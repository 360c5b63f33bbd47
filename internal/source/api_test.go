package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

// fakeAPI is an in-memory sync service.
type fakeAPI struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	events    []ir.TrackedEvent
	auth      []string
	failures  atomic.Int32 // respond 503 this many times first
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{snapshots: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/users/{user}/snapshot", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		body, ok := f.snapshots[r.PathValue("user")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"not_found","message":"no snapshot"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("PUT /v1/users/{user}/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if f.failures.Load() > 0 {
			f.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		f.snapshots[r.PathValue("user")] = body
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v1/users/{user}/events", func(w http.ResponseWriter, r *http.Request) {
		var ev ir.TrackedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestAPI(t *testing.T, url string) *API {
	t.Helper()
	a, err := NewAPI(url, WithToken("secret"), WithRetries(2, time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(a.Destroy)
	return a
}

func TestNewAPI_Validation(t *testing.T) {
	_, err := NewAPI("")
	assert.True(t, ir.IsConfigError(err))
	_, err = NewAPI("not a url")
	assert.True(t, ir.IsConfigError(err))
}

func TestAPI_PullMissingUserIsEmpty(t *testing.T) {
	_, srv := newFakeAPI(t)
	a := newTestAPI(t, srv.URL)

	snap, err := a.PullData(context.Background(), "nobody")
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
}

func TestAPI_PushPullRoundTrip(t *testing.T) {
	f, srv := newFakeAPI(t)
	a := newTestAPI(t, srv.URL)
	ctx := context.Background()

	want := testSnapshot()
	require.NoError(t, a.PushData(ctx, "user 1", want))
	got, err := a.PullData(ctx, "user 1")
	require.NoError(t, err)

	want.Normalize()
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"Bearer secret"}, f.auth)
}

func TestAPI_RetriesServerErrors(t *testing.T) {
	f, srv := newFakeAPI(t)
	a := newTestAPI(t, srv.URL)
	f.failures.Store(2)

	require.NoError(t, a.PushData(context.Background(), "u1", testSnapshot()))
	assert.Zero(t, f.failures.Load())
}

func TestAPI_GivesUpAfterRetryBudget(t *testing.T) {
	f, srv := newFakeAPI(t)
	a := newTestAPI(t, srv.URL)
	f.failures.Store(10)

	err := a.PushData(context.Background(), "u1", testSnapshot())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestAPI_PullRejectsInvalidSnapshot(t *testing.T) {
	f, srv := newFakeAPI(t)
	a := newTestAPI(t, srv.URL)

	f.mu.Lock()
	f.snapshots["u1"] = []byte(`{"areas":{"editor":{"density":7}},"overrides":{},"usageHistory":[]}`)
	f.snapshots["u2"] = []byte(`{"areas":{}}`)
	f.mu.Unlock()

	_, err := a.PullData(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	_, err = a.PullData(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestAPI_TrackEvent(t *testing.T) {
	f, srv := newFakeAPI(t)
	a := newTestAPI(t, srv.URL)

	require.NoError(t, a.TrackEvent(context.Background(), "u1", testEvent()))
	assert.Equal(t, []ir.TrackedEvent{testEvent()}, f.events)
}

func TestAPI_InitializeFailsWhenUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a, err := NewAPI(srv.URL, WithRetries(0, 0, 0))
	require.NoError(t, err)
	require.Error(t, a.Initialize(context.Background()))
	assert.False(t, a.IsReady())
	assert.ErrorIs(t, a.PushData(context.Background(), "u1", testSnapshot()), syncer.ErrNotReady)
}

func TestRetryDelay(t *testing.T) {
	a := &API{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}
	assert.Equal(t, 100*time.Millisecond, a.retryDelay(1, ""))
	assert.Equal(t, 400*time.Millisecond, a.retryDelay(3, ""))
	assert.Equal(t, time.Second, a.retryDelay(10, ""))
	assert.Equal(t, time.Second, a.retryDelay(1, "30"))
	assert.Equal(t, 0*time.Second, parseRetryAfter("soon"))
}
