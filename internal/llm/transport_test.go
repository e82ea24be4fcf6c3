package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/uf-hy/qmdr/internal/errors"
)

func fastRetryTransport() *transport {
	t := newTransport()
	t.retry.InitialDelay = time.Millisecond
	t.retry.MaxDelay = 5 * time.Millisecond
	t.retry.Jitter = false
	return t
}

func TestRetryableStatus(t *testing.T) {
	for _, status := range []int{408, 425, 429, 500, 502, 503} {
		assert.True(t, retryableStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, retryableStatus(status), "status %d", status)
	}
}

func TestPostJSONRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	tr := fastRetryTransport()
	defer tr.close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := tr.postJSON(context.Background(), "p", OpEmbed, srv.URL, nil, map[string]string{}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int64(3), calls.Load())
}

func TestPostJSONGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`persistent failure body`))
	}))
	t.Cleanup(srv.Close)

	tr := fastRetryTransport()
	defer tr.close()

	err := tr.postJSON(context.Background(), "p", OpRerank, srv.URL, nil, map[string]string{}, nil)
	require.Error(t, err)
	// Initial attempt + 2 retries.
	assert.Equal(t, int64(3), calls.Load())

	qe, ok := err.(*qerrors.QmdError)
	require.True(t, ok)
	assert.Equal(t, qerrors.ErrCodeProviderFailed, qe.Code)
	assert.Equal(t, "500", qe.Details["status"])
	assert.Contains(t, qe.Details["body"], "persistent failure")
}

func TestPostJSONNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`bad shape`))
	}))
	t.Cleanup(srv.Close)

	tr := fastRetryTransport()
	defer tr.close()

	err := tr.postJSON(context.Background(), "p", OpEmbed, srv.URL, nil, map[string]string{}, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "4xx outside the retry set is terminal")
}

func TestPostJSONHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int64
	var firstRetryAt time.Time
	start := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		firstRetryAt = time.Now()
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	tr := fastRetryTransport()
	defer tr.close()

	err := tr.postJSON(context.Background(), "p", OpEmbed, srv.URL, nil, map[string]string{}, nil)
	require.NoError(t, err)
	// Retry-After floors the backoff wait.
	assert.GreaterOrEqual(t, firstRetryAt.Sub(start), time.Second)
}

func TestPostJSONKeepAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEqual(t, "close", r.Header.Get("Connection"))
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	tr := fastRetryTransport()
	defer tr.close()
	require.NoError(t, tr.postJSON(context.Background(), "p", OpEmbed, srv.URL, nil, map[string]string{}, nil))
}

func TestPostJSONCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	tr := fastRetryTransport()
	defer tr.close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tr.postJSON(ctx, "p", OpEmbed, srv.URL, nil, map[string]string{}, nil)
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeCancelled, qerrors.GetCode(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(2 * time.Second).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), time.Duration(0))
}
