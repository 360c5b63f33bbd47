package source

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/roach88/reveal/internal/ir"
	"github.com/roach88/reveal/internal/syncer"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON string

const snapshotSchemaURL = "snapshot.schema.json"

// HTTPError is a non-2xx response from the API.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ErrInvalidSnapshot marks a pulled payload that failed schema validation.
var ErrInvalidSnapshot = errors.New("invalid snapshot payload")

// APIOption configures an API source.
type APIOption func(*API)

// WithHTTPClient sets the HTTP client. Defaults to a client with a 15s
// timeout.
func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) APIOption {
	return func(a *API) { a.token = strings.TrimSpace(token) }
}

// WithRetries sets the retry budget for transport errors, 429 and 5xx.
func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) APIOption {
	return func(a *API) {
		a.maxRetries = maxRetries
		a.baseDelay = baseDelay
		a.maxDelay = maxDelay
	}
}

// API talks to a remote sync service:
//
//	GET  /v1/health
//	GET  /v1/users/{user}/snapshot
//	PUT  /v1/users/{user}/snapshot
//	POST /v1/users/{user}/events
//
// A 404 on snapshot pull means the user has no stored state.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	mu     sync.RWMutex
	ready  bool
	schema *jsonschema.Schema
}

// NewAPI creates an API source for baseURL.
func NewAPI(baseURL string, opts ...APIOption) (*API, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: "sources.api.url", Message: "url is required"}
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, &ir.ConfigError{Code: ir.ErrCodeConfigInvalid, Path: "sources.api.url", Message: err.Error()}
	}
	a := &API{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *API) Name() string { return "api" }

// Initialize compiles the snapshot schema and checks the service health.
func (a *API) Initialize(ctx context.Context) error {
	schema, err := compileSnapshotSchema()
	if err != nil {
		return fmt.Errorf("compile snapshot schema: %w", err)
	}
	if err := a.doJSON(ctx, http.MethodGet, "/v1/health", nil, nil); err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.schema = schema
	a.ready = true
	return nil
}

func (a *API) IsReady() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

func (a *API) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready = false
	a.httpClient.CloseIdleConnections()
}

func (a *API) PushData(ctx context.Context, userID string, snap ir.SyncSnapshot) error {
	if !a.IsReady() {
		return syncer.ErrNotReady
	}
	snap.Normalize()
	if err := a.doJSON(ctx, http.MethodPut, userPath(userID, "snapshot"), snap, nil); err != nil {
		return fmt.Errorf("push data: %w", err)
	}
	return nil
}

// PullData fetches and validates the user's snapshot.
func (a *API) PullData(ctx context.Context, userID string) (ir.SyncSnapshot, error) {
	a.mu.RLock()
	ready, schema := a.ready, a.schema
	a.mu.RUnlock()
	if !ready {
		return ir.SyncSnapshot{}, syncer.ErrNotReady
	}

	var raw json.RawMessage
	err := a.doJSON(ctx, http.MethodGet, userPath(userID, "snapshot"), nil, &raw)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return ir.EmptySnapshot(), nil
	}
	if err != nil {
		return ir.SyncSnapshot{}, fmt.Errorf("pull data: %w", err)
	}
	if len(raw) == 0 {
		return ir.EmptySnapshot(), nil
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return ir.SyncSnapshot{}, fmt.Errorf("pull data: %w: %v", ErrInvalidSnapshot, err)
	}
	if err := schema.Validate(inst); err != nil {
		return ir.SyncSnapshot{}, fmt.Errorf("pull data: %w: %v", ErrInvalidSnapshot, err)
	}

	var snap ir.SyncSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return ir.SyncSnapshot{}, fmt.Errorf("pull data: %w: %v", ErrInvalidSnapshot, err)
	}
	snap.Normalize()
	return snap, nil
}

func (a *API) TrackEvent(ctx context.Context, userID string, ev ir.TrackedEvent) error {
	if !a.IsReady() {
		return syncer.ErrNotReady
	}
	if err := a.doJSON(ctx, http.MethodPost, userPath(userID, "events"), ev, nil); err != nil {
		return fmt.Errorf("track event: %w", err)
	}
	return nil
}

func (a *API) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if a.token != "" {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			if attempt < a.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, a.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < a.maxRetries {
			if waitErr := waitWithContext(ctx, a.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = http.StatusText(resp.StatusCode)
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (a *API) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := a.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxDelay)
	}
	delay := a.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func userPath(userID, resource string) string {
	return "/v1/users/" + url.PathEscape(userID) + "/" + resource
}

func compileSnapshotSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(snapshotSchemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(snapshotSchemaURL)
}
