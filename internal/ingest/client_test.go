package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient points a client at a fake partner server with instant sleeps
// and zero jitter so retry behavior is deterministic.
func newTestClient(t *testing.T, server *httptest.Server, maxRetries int) (*PartnerClient, *[]time.Duration) {
	t.Helper()
	var slept []time.Duration
	client := NewPartnerClient(ClientOptions{
		BaseURL:      server.URL,
		APIToken:     "test-token",
		MaxRetries:   maxRetries,
		Backoff:      100 * time.Millisecond,
		RateLimitRPS: 1000,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		Jitter: func() float64 { return 0 },
	})
	return client, &slept
}

func TestFetchRunsSuccess(t *testing.T) {
	var gotPath, gotAuth, gotCursor string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCursor = r.URL.Query().Get("cursor")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"runs": [{"id": "r1", "status": "success"}], "next_cursor": "page2"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 3)
	page, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.NoError(t, err)

	assert.Equal(t, "/pipelines/pipe-1/runs", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Empty(t, gotCursor)
	require.Len(t, page.Runs, 1)
	assert.Equal(t, "r1", page.Runs[0]["id"])
	assert.Equal(t, "page2", page.NextCursor)
}

func TestFetchRunsCursorPassthrough(t *testing.T) {
	var gotCursor string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCursor = r.URL.Query().Get("cursor")
		_, _ = w.Write([]byte(`{"runs": [], "next_cursor": null}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 0)
	page, err := client.FetchRuns(context.Background(), "pipe-1", "tok/with special")
	require.NoError(t, err)
	assert.Equal(t, "tok/with special", gotCursor)
	assert.Empty(t, page.NextCursor)
}

func TestFetchRunsRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"runs": [{"id": "r1"}]}`))
	}))
	defer server.Close()

	client, slept := newTestClient(t, server, 3)
	page, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.NoError(t, err)
	require.Len(t, page.Runs, 1)

	assert.Equal(t, int64(3), calls.Load())
	// Exponential backoff with zero jitter: base, then 2*base.
	require.Len(t, *slept, 2)
	assert.Equal(t, 100*time.Millisecond, (*slept)[0])
	assert.Equal(t, 200*time.Millisecond, (*slept)[1])
}

func TestFetchRunsHonorsRetryAfterAsFloor(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"runs": []}`))
	}))
	defer server.Close()

	client, slept := newTestClient(t, server, 3)
	_, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.NoError(t, err)

	// Retry-After of 2s dominates the 100ms computed backoff.
	require.Len(t, *slept, 1)
	assert.Equal(t, 2*time.Second, (*slept)[0])
}

func TestFetchRunsExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 2)
	_, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusTooManyRequests, reqErr.Status)
	// Initial attempt plus two retries.
	assert.Equal(t, int64(3), calls.Load())
}

func TestFetchRunsNonRetryableStatusFailsImmediately(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, slept := newTestClient(t, server, 3)
	_, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.Status)
	assert.Equal(t, int64(1), calls.Load())
	assert.Empty(t, *slept)
}

func TestFetchRunsMalformedPageIsNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"runs": "definitely not a list"}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 3)
	_, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.Error(t, err)

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchRunsNumericCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"runs": [], "next_cursor": 42}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server, 0)
	page, err := client.FetchRuns(context.Background(), "pipe-1", "")
	require.NoError(t, err)
	assert.Equal(t, "42", page.NextCursor)
}

func TestFetchRunsContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var slept []time.Duration
	client := NewPartnerClient(ClientOptions{
		BaseURL:      server.URL,
		MaxRetries:   5,
		Backoff:      time.Millisecond,
		RateLimitRPS: 1000,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			cancel()
			return ctx.Err()
		},
		Jitter: func() float64 { return 0 },
	})

	_, err := client.FetchRuns(ctx, "pipe-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, slept, 1)
}

func TestFetchRunsRequiresExternalID(t *testing.T) {
	client := NewPartnerClient(ClientOptions{BaseURL: "http://localhost"})
	_, err := client.FetchRuns(context.Background(), "", "")
	require.Error(t, err)
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	client := NewPartnerClient(ClientOptions{
		BaseURL: "http://localhost",
		Backoff: time.Second,
		Jitter:  func() float64 { return 0.5 },
	})

	assert.Equal(t, 1500*time.Millisecond, client.retryDelay(0, 0))
	assert.Equal(t, 2500*time.Millisecond, client.retryDelay(1, 0))
	assert.Equal(t, 4500*time.Millisecond, client.retryDelay(2, 0))
	// A large Retry-After overrides the computed delay.
	assert.Equal(t, 10*time.Second, client.retryDelay(0, 10*time.Second))
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"absent", "", 0},
		{"integer seconds", "3", 3 * time.Second},
		{"fractional seconds", "1.5", 1500 * time.Millisecond},
		{"negative ignored", "-2", 0},
		{"http date ignored", "Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.value != "" {
				header.Set("Retry-After", tt.value)
			}
			assert.Equal(t, tt.want, parseRetryAfter(header))
		})
	}
}
