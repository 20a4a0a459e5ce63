// Package ingest implements the idempotent partner run ingestion pipeline:
// a paginated source client with bounded retry, a pure payload normalizer,
// and the orchestrator that drives both against the run store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonathan/chm/internal/schemas"
)

const userAgent = "chm-ingestion/0.1"

// maxPageBody caps how much of a partner response is read into memory.
const maxPageBody = 8 << 20

// retryableStatusCodes are partner responses worth retrying with backoff.
var retryableStatusCodes = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RequestError reports a partner request that failed, either immediately
// (non-retryable status) or after the retry budget was exhausted.
type RequestError struct {
	Status  int // 0 for transport-level failures
	Message string
	Cause   error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("partner request failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("partner request failed: %s", e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// ResponseError reports a partner response that was malformed. Never retried.
type ResponseError struct {
	Message string
	Cause   error
}

func (e *ResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("partner response malformed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("partner response malformed: %s", e.Message)
}

func (e *ResponseError) Unwrap() error {
	return e.Cause
}

// RunPage is one page of raw partner run events. NextCursor is an opaque
// continuation token; empty means end of stream.
type RunPage struct {
	Runs       []map[string]any
	NextCursor string
}

// ClientOptions configures a PartnerClient.
type ClientOptions struct {
	BaseURL        string
	APIToken       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxRetries     int
	Backoff        time.Duration
	RateLimitRPS   float64

	// Sleep and Jitter are injectable for tests. Sleep defaults to a
	// context-aware time.Sleep; Jitter defaults to rand.Float64.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64
}

// PartnerClient fetches paginated run pages from the partner API with
// bounded retry, exponential backoff with jitter, and client-side rate
// limiting. It knows nothing about the canonical run schema.
type PartnerClient struct {
	baseURL    string
	apiToken   string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() float64
}

// NewPartnerClient creates a partner client from options, applying defaults
// for anything unset.
func NewPartnerClient(opts ClientOptions) *PartnerClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 3 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 10
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Jitter == nil {
		opts.Jitter = rand.Float64
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
	}

	return &PartnerClient{
		baseURL:    opts.BaseURL,
		apiToken:   opts.APIToken,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1),
		sleep:   opts.Sleep,
		jitter:  opts.Jitter,
	}
}

// FetchRuns retrieves one page of run events for a pipeline's external
// mapping identifier. An empty cursor requests the first page.
func (c *PartnerClient) FetchRuns(ctx context.Context, externalID, cursor string) (*RunPage, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external pipeline ID is required")
	}

	pageURL := c.baseURL + "/pipelines/" + url.PathEscape(externalID) + "/runs"
	if cursor != "" {
		pageURL += "?cursor=" + url.QueryEscape(cursor)
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, retryAfter, err := c.doRequest(ctx, pageURL)
		if err == nil {
			return parsePage(body)
		}

		var reqErr *RequestError
		if !isRetryable(err, &reqErr) {
			return nil, err
		}
		if attempt >= c.maxRetries {
			reqErr.Message = fmt.Sprintf("%s (retry budget exhausted after %d attempts)", reqErr.Message, attempt+1)
			return nil, reqErr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := c.sleep(ctx, c.retryDelay(attempt, retryAfter)); err != nil {
			return nil, err
		}
	}
}

// doRequest performs one HTTP attempt. It returns the body on success, or a
// typed error plus any server-supplied Retry-After hint.
func (c *PartnerClient) doRequest(ctx context.Context, pageURL string) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, &ResponseError{Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &RequestError{Message: "network error", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if retryableStatusCodes[resp.StatusCode] {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBody))
		return nil, parseRetryAfter(resp.Header), &RequestError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("retryable status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, &RequestError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &RequestError{Message: "failed to read response body", Cause: err}
	}
	return body, 0, nil
}

// retryDelay computes the backoff for a given attempt: exponential base
// delay plus jitter, floored by any server-supplied Retry-After.
func (c *PartnerClient) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	delay := c.backoff*(1<<attempt) + time.Duration(c.jitter()*float64(c.backoff))
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

func isRetryable(err error, target **RequestError) bool {
	reqErr, ok := err.(*RequestError)
	if !ok {
		return false
	}
	*target = reqErr
	// Transport failures have no status; any listed status is retryable.
	if reqErr.Status == 0 {
		return true
	}
	return retryableStatusCodes[reqErr.Status]
}

func parseRetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// parsePage validates and decodes one partner page body.
func parsePage(body []byte) (*RunPage, error) {
	if err := schemas.ValidatePartnerPage(body); err != nil {
		return nil, &ResponseError{Message: "page failed schema validation", Cause: err}
	}

	var raw struct {
		Runs       []map[string]any `json:"runs"`
		NextCursor any              `json:"next_cursor"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ResponseError{Message: "failed to decode page", Cause: err}
	}

	page := &RunPage{Runs: raw.Runs}
	switch cursor := raw.NextCursor.(type) {
	case nil:
	case string:
		page.NextCursor = cursor
	case float64:
		page.NextCursor = strconv.FormatFloat(cursor, 'f', -1, 64)
	default:
		return nil, &ResponseError{Message: fmt.Sprintf("unsupported cursor type %T", raw.NextCursor)}
	}
	return page, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
