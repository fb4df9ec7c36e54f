package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32, *[]string) {
	t.Helper()
	var hits atomic.Int32
	var mu sync.Mutex
	bodies := []string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		code := codes[len(codes)-1]
		if n < len(codes) {
			code = codes[n]
		}
		w.WriteHeader(code)
		_, _ = w.Write([]byte(http.StatusText(code)))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, &bodies
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	srv, hits, bodies := statusSequence(t, http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusOK)

	c := New(WithBaseDelay(time.Millisecond))
	req, err := http.NewRequest(http.MethodPost, srv.URL, bytes.NewReader([]byte(`{"x":1}`)))
	require.NoError(t, err)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
	for _, b := range *bodies {
		assert.Equal(t, `{"x":1}`, b, "body must be replayed on every attempt")
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	srv, hits, _ := statusSequence(t, http.StatusBadRequest)

	c := New(WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDo_ConservativeRetryGivesUp(t *testing.T) {
	srv, hits, _ := statusSequence(t, http.StatusInternalServerError)

	c := New(WithBaseDelay(time.Millisecond))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()

	var re *RetryableError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusInternalServerError, re.StatusCode)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestDo_MaxRetries(t *testing.T) {
	srv, hits, _ := statusSequence(t, http.StatusTooManyRequests)

	c := New(WithBaseDelay(time.Millisecond), WithMaxRetries(2))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.Error(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), hits.Load())
}

func TestDo_ContextCancelledWhileWaiting(t *testing.T) {
	srv, _, _ := statusSequence(t, http.StatusTooManyRequests)

	c := New(WithBaseDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)

	_, err := c.Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_CustomStrategy(t *testing.T) {
	srv, hits, _ := statusSequence(t, http.StatusTooManyRequests)

	c := New(WithRetryStrategy(func(int) RetryStrategy { return NoRetry }))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), hits.Load())
}

func TestCalculateDelay(t *testing.T) {
	c := New(WithBaseDelay(100 * time.Millisecond))

	assert.Equal(t, 3*time.Second, c.calculateDelay(SmartRetry, 0, RateLimitInfo{RetryAfter: 3 * time.Second}))

	d := c.calculateDelay(SmartRetry, 2, RateLimitInfo{})
	assert.GreaterOrEqual(t, d, 400*time.Millisecond)
	assert.Less(t, d, 441*time.Millisecond)

	assert.Equal(t, 100*time.Millisecond, c.calculateDelay(ConservativeRetry, 0, RateLimitInfo{}))
	assert.Equal(t, time.Duration(0), c.calculateDelay(ConservativeRetry, 2, RateLimitInfo{}))
	assert.Equal(t, time.Duration(0), c.calculateDelay(NoRetry, 0, RateLimitInfo{}))
}
