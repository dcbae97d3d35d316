package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/commit"
	"docflow/logging"
	"docflow/patterns/retry"
)

// backend 模拟后台：按 ID 返回预设状态，flaky 前 N 次返回 503
type backend struct {
	mu       sync.Mutex
	status   map[string]int
	flaky    map[string]int
	deleted  []string
	attempts map[string]int
	auth     []string
}

func newBackend() *backend {
	return &backend{
		status:   make(map[string]int),
		flaky:    make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (b *backend) router() http.Handler {
	r := chi.NewRouter()
	r.Delete("/api/{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "collection") + "/" + chi.URLParam(r, "id")

		b.mu.Lock()
		defer b.mu.Unlock()
		b.attempts[key]++
		b.auth = append(b.auth, r.Header.Get("Authorization"))

		if n := b.flaky[key]; n > 0 {
			b.flaky[key] = n - 1
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if code, ok := b.status[key]; ok {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"rejected"}`))
			return
		}
		b.deleted = append(b.deleted, key)
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func newTestClient(t *testing.T, b *backend) *Client {
	t.Helper()
	srv := httptest.NewServer(b.router())
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL: srv.URL + "/api/",
		Tokens:  StaticToken("secret"),
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 5 * time.Millisecond},
		Logger:  logging.NewNoopLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestClient_DeleteSuccess(t *testing.T) {
	b := newBackend()
	c := newTestClient(t, b)

	require.NoError(t, c.Delete(context.Background(), CollectionDocuments, "42"))

	assert.Equal(t, []string{"documents/42"}, b.deleted)
	assert.Equal(t, []string{"Bearer secret"}, b.auth)
}

func TestClient_DeleteStatusError(t *testing.T) {
	b := newBackend()
	b.status["users/7"] = http.StatusConflict
	c := newTestClient(t, b)

	err := c.Delete(context.Background(), CollectionUsers, "7")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, `{"error":"rejected"}`, se.Body)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.Equal(t, 1, b.attempts["users/7"], "4xx is not retried")
}

func TestClient_RetriesGatewayErrors(t *testing.T) {
	b := newBackend()
	b.flaky["lines/L1"] = 2
	c := newTestClient(t, b)

	require.NoError(t, c.Delete(context.Background(), CollectionLines, "L1"))
	assert.Equal(t, 3, b.attempts["lines/L1"])
}

func TestClient_RetryExhausted(t *testing.T) {
	b := newBackend()
	b.flaky["lines/L2"] = 10
	c := newTestClient(t, b)

	err := c.Delete(context.Background(), CollectionLines, "L2")
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
	assert.Equal(t, 3, b.attempts["lines/L2"])
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", errors.New("session expired") }

func TestClient_TokenErrorNotRetried(t *testing.T) {
	b := newBackend()
	c := newTestClient(t, b)
	c.tokens = failingTokens{}

	err := c.Delete(context.Background(), CollectionDocuments, "1")
	assert.ErrorIs(t, err, ErrToken)
	assert.Empty(t, b.attempts)
}

func TestClient_CommitPartial(t *testing.T) {
	b := newBackend()
	b.status["circuit-steps/s2"] = http.StatusForbidden
	c := newTestClient(t, b)

	res, err := c.Commit(CollectionCircuitSteps, 2)(context.Background(), []string{"s1", "s2", "s3"})
	require.NoError(t, err)

	sort.Strings(res.Succeeded)
	assert.Equal(t, []string{"s1", "s3"}, res.Succeeded)
	assert.Equal(t, []string{"s2"}, res.Failed)
	assert.Equal(t, http.StatusForbidden, StatusCode(res.Errors["s2"]))
}

func TestClient_CommitThroughExecutor(t *testing.T) {
	b := newBackend()
	b.status["sublines/x"] = http.StatusNotFound
	c := newTestClient(t, b)

	out := commit.NewExecutor(commit.WithLogger(logging.NewNoopLogger())).
		Execute(context.Background(), []string{"x"}, c.Commit(CollectionSublines, 0))

	assert.True(t, out.AllFailed())
	assert.Equal(t, http.StatusNotFound, StatusCode(out.Err))
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		_, err := NewClient(Config{BaseURL: raw})
		assert.ErrorIs(t, err, ErrBaseURL, raw)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(&StatusError{StatusCode: http.StatusBadRequest}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusBadGateway}))
	assert.True(t, IsRetryable(&StatusError{StatusCode: http.StatusGatewayTimeout}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCollections(t *testing.T) {
	assert.Len(t, Collections(), 8)
	assert.Contains(t, Collections(), CollectionApprovalGroups)
}
