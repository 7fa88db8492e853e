// Package console is a programmatic client for the bulk console backend.
// Controller mirrors the browser-side state machine: Ready → Submitting →
// Listening → Done, with the same re-entrancy guard and update throttling
// the web page applies.
package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/models"
)

// ErrRunInProgress is returned when a run of the same kind is already
// active on this controller
var ErrRunInProgress = errors.New("a run of this kind is already in progress")

// DefaultThrottle coalesces progress updates faster than this interval
const DefaultThrottle = 500 * time.Millisecond

const finalPollInterval = 500 * time.Millisecond

// Controller drives one backend from the client side
type Controller struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	throttle   time.Duration
	onProgress func(models.ProgressEvent)

	mu       sync.Mutex
	inFlight map[models.OperationKind]bool
}

// Option configures a Controller
type Option func(*Controller)

// WithProgress registers a callback for throttled progress updates.
// Terminal events are always delivered regardless of throttling.
func WithProgress(fn func(models.ProgressEvent)) Option {
	return func(c *Controller) { c.onProgress = fn }
}

// WithThrottle overrides the update coalescing interval
func WithThrottle(d time.Duration) Option {
	return func(c *Controller) { c.throttle = d }
}

// WithHTTPClient substitutes the underlying HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) { c.httpClient = client }
}

// New creates a Controller for the backend at baseURL
func New(baseURL string, log zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		log:        log.With().Str("service", "console").Logger(),
		throttle:   DefaultThrottle,
		inFlight:   make(map[models.OperationKind]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run submits a bulk operation and listens on its progress stream until
// the run finishes, then returns the final operation snapshot with results
// and summary. Cancelling ctx signals user cancellation: the backend is
// asked to stop and the partial snapshot is still fetched and returned, so
// the caller always reaches Done with whatever counts accumulated.
func (c *Controller) Run(ctx context.Context, kind models.OperationKind, req *models.OperationRequest) (*models.Operation, error) {
	c.mu.Lock()
	if c.inFlight[kind] {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	c.inFlight[kind] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, kind)
		c.mu.Unlock()
	}()

	operationID, err := c.submit(ctx, kind, req)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("operation_id", operationID).Str("kind", string(kind)).Msg("Run submitted")

	c.listen(ctx, operationID)

	if ctx.Err() != nil {
		c.requestCancel(operationID)
	}

	return c.awaitFinal(operationID)
}

// submit posts the operation request and returns the operation id
func (c *Controller) submit(ctx context.Context, kind models.OperationKind, req *models.OperationRequest) (string, error) {
	encoded, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/operations/%s", c.baseURL, kind)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode == http.StatusConflict {
		return "", ErrRunInProgress
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("submit rejected (status %d): %s", resp.StatusCode, errorMessage(body))
	}

	var payload struct {
		OperationID string `json:"operation_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.OperationID == "" {
		return "", fmt.Errorf("malformed submit response")
	}
	return payload.OperationID, nil
}

// listen consumes the SSE progress stream, delivering throttled updates to
// the progress callback. Returns when a terminal event arrives, the stream
// drops, or ctx is cancelled.
func (c *Controller) listen(ctx context.Context, operationID string) {
	url := fmt.Sprintf("%s/v1/progress/%s", c.baseURL, operationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("operation_id", operationID).Msg("Progress stream unavailable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	var lastDelivered time.Time
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var event models.ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
			continue
		}

		terminal := event.Type == models.ProgressComplete || event.Type == models.ProgressError
		if c.onProgress != nil {
			// Coalesce bursts, but never swallow a terminal event or the
			// final progress tick
			if terminal || event.Current == event.Total || time.Since(lastDelivered) >= c.throttle {
				c.onProgress(event)
				lastDelivered = time.Now()
			}
		}
		if terminal {
			return
		}
	}
}

// awaitFinal fetches the operation until it reaches a terminal state. Used
// after the stream ends so a dropped connection still converges on Done.
func (c *Controller) awaitFinal(operationID string) (*models.Operation, error) {
	// Bounded independently of the caller's ctx: cancellation must still
	// produce a final snapshot
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		op, err := c.fetchOperation(ctx, operationID)
		if err != nil {
			return nil, err
		}
		if op.Terminal() {
			return op, nil
		}
		select {
		case <-ctx.Done():
			return op, nil
		case <-time.After(finalPollInterval):
		}
	}
}

func (c *Controller) fetchOperation(ctx context.Context, operationID string) (*models.Operation, error) {
	url := fmt.Sprintf("%s/v1/operations/%s", c.baseURL, operationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch operation failed (status %d): %s", resp.StatusCode, errorMessage(body))
	}

	var op models.Operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("malformed operation response: %w", err)
	}
	return &op, nil
}

// requestCancel asks the backend to stop the run. Best effort: failures are
// logged, not surfaced, since the caller is already unwinding.
func (c *Controller) requestCancel(operationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/v1/operations/%s/cancel", c.baseURL, operationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("operation_id", operationID).Msg("Cancel request failed")
		return
	}
	resp.Body.Close()
	c.log.Info().Str("operation_id", operationID).Msg("Cancel requested")
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
