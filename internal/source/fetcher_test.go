package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docs-agent/backend/pkg/circuitbreaker"
	"github.com/docs-agent/backend/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("## Product Features\nAgents everywhere."))
	}))
	defer srv.Close()

	doc, err := NewHTTPFetcher(time.Second, 1024, WithRetry(fastRetry())).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, srv.URL, doc.URL)
	assert.Equal(t, "## Product Features\nAgents everywhere.", doc.Content)
	assert.Equal(t, Digest(doc.Content), doc.Digest)
	assert.Len(t, doc.Digest, 64)
	assert.False(t, doc.FetchedAt.IsZero())
}

func TestFetchHTMLStripsChrome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><nav>menu</nav><script>x()</script><p>Core text</p></body></html>`))
	}))
	defer srv.Close()

	doc, err := NewHTTPFetcher(time.Second, 0, WithRetry(fastRetry())).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Core text", doc.Content)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second, 0, WithRetry(fastRetry())).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer srv.Close()

	doc, err := NewHTTPFetcher(time.Second, 0, WithRetry(fastRetry())).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", doc.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second, 5, WithRetry(fastRetry())).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFetchEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("   \n"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(time.Second, 0, WithRetry(fastRetry())).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestBreakerCountsFetchesNotAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 0, WithRetry(fastRetry()))
	f.breaker = circuitbreaker.NewCircuitBreaker("test", circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		IsFailure:        sourceUnhealthy,
	})

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.ErrorIs(t, err, ErrUnexpectedStatus)
	}
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, circuitbreaker.StateOpen, f.breaker.State())

	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(6), calls.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(time.Second, 0, WithRetry(fastRetry()))
	for i := 0; i < 7; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.Code)
	}
	assert.Equal(t, int32(7), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, f.breaker.State())
}
