package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docflow/clock"
	"docflow/config"
	apperrors "docflow/errors"
	"docflow/listview"
	"docflow/logging"
	"docflow/mutation"
	"docflow/notify"
	"docflow/notify/redisrelay"
	"docflow/remote"
)

type document struct {
	ID    string
	Title string
}

func documentID(d document) string { return d.ID }

type backend struct {
	mu      sync.Mutex
	reject  map[string]int
	deleted []string

	// hold 非 nil 时请求在 entered 上报到后阻塞，直到 hold 关闭
	hold    chan struct{}
	entered chan struct{}
}

func (b *backend) handler() http.Handler {
	r := chi.NewRouter()
	r.Delete("/api/{collection}/{id}", func(w http.ResponseWriter, r *http.Request) {
		if b.hold != nil {
			b.entered <- struct{}{}
			<-b.hold
		}
		key := chi.URLParam(r, "collection") + "/" + chi.URLParam(r, "id")
		b.mu.Lock()
		defer b.mu.Unlock()
		if code, ok := b.reject[key]; ok {
			w.WriteHeader(code)
			return
		}
		b.deleted = append(b.deleted, key)
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (b *backend) deletedKeys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

type fakeRedis struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, message.([]byte))
	return goredis.NewIntResult(1, nil)
}

func (f *fakeRedis) Subscribe(ctx context.Context, channels ...string) *goredis.PubSub {
	panic("not used")
}

func (f *fakeRedis) messages(t *testing.T) []redisrelay.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]redisrelay.Message, 0, len(f.payloads))
	for _, p := range f.payloads {
		var m redisrelay.Message
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

type harness struct {
	console *Console
	backend *backend
	redis   *fakeRedis
	events  *fakePublisher
	clock   *clock.FakeClock
	view    *listview.Projector[document]
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	b := &backend{reject: make(map[string]int)}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL + "/api"
	cfg.API.Token = "token"
	cfg.API.Retry.InitialDelay = time.Millisecond
	cfg.API.Retry.MaxDelay = time.Millisecond
	cfg.Relay.Enabled = true
	cfg.Events.Enabled = true
	require.NoError(t, cfg.Validate())

	h := &harness{
		backend: b,
		redis:   &fakeRedis{},
		events:  &fakePublisher{},
		clock:   clock.Fake(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)),
		view: listview.New(remote.CollectionDocuments, documentID,
			document{ID: "1", Title: "Contract"},
			document{ID: "2", Title: "Invoice"},
			document{ID: "3", Title: "Memo"}),
	}

	c, err := New(context.Background(), cfg,
		WithClock(h.clock),
		WithLogger(logging.NewNoopLogger()),
		WithRedisClient(h.redis),
		WithEventPublisher(h.events))
	require.NoError(t, err)
	h.console = c
	return h
}

func TestConsole_DeleteCommitsAfterWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	recordID, err := h.console.Delete(ctx, h.view, []string{"2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, h.view.IDs())
	assert.Empty(t, h.backend.deletedKeys())

	_, shown := h.console.Notifications().PendingFor(recordID)
	assert.True(t, shown)

	h.clock.Advance(5 * time.Second)

	assert.Equal(t, []string{"documents/2"}, h.backend.deletedKeys())
	assert.Equal(t, []string{"1", "3"}, h.view.IDs())

	msgs := h.redis.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.ResultSuccess, msgs[0].Kind)

	assert.Equal(t, []string{
		"docflow.mutation.begun.documents",
		"docflow.mutation.committing.documents",
		"docflow.mutation.committed.documents",
	}, h.events.subjects)
}

func TestConsole_RemoteRejectionRollsBack(t *testing.T) {
	h := newHarness(t)
	h.backend.reject["documents/1"] = http.StatusConflict
	ctx := context.Background()

	recordID, err := h.console.Delete(ctx, h.view, []string{"1"})
	require.NoError(t, err)

	err = h.console.Confirm(ctx, recordID)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.GetErrorCode(err))
	assert.ErrorIs(t, err, mutation.ErrCommitFailure)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, recordID, appErr.Details()[apperrors.DetailRecordID])
	assert.Equal(t, remote.CollectionDocuments, appErr.Details()[apperrors.DetailCollection])
	assert.Equal(t, []string{"1"}, appErr.Details()[apperrors.DetailFailed])

	assert.Equal(t, []string{"1", "2", "3"}, h.view.IDs())
	msgs := h.redis.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.ResultError, msgs[0].Kind)
}

func TestConsole_PartialBulkDelete(t *testing.T) {
	h := newHarness(t)
	h.backend.reject["documents/3"] = http.StatusForbidden

	_, err := h.console.Delete(context.Background(), h.view, []string{"2", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, h.view.IDs())

	h.clock.Advance(5 * time.Second)

	assert.Equal(t, []string{"documents/2"}, h.backend.deletedKeys())
	assert.Equal(t, []string{"1", "3"}, h.view.IDs())
}

func TestConsole_ImmediateDeleteFailureKeepsRecordID(t *testing.T) {
	h := newHarness(t)
	h.backend.reject["documents/3"] = http.StatusNotFound

	recordID, err := h.console.Delete(context.Background(), h.view, []string{"2", "3"}, mutation.WithTTL(0))
	require.Error(t, err)
	assert.NotEmpty(t, recordID)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetErrorCode(err))

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"2"}, appErr.Details()[apperrors.DetailSucceeded])
	assert.Equal(t, []string{"3"}, appErr.Details()[apperrors.DetailFailed])

	assert.Equal(t, []string{"documents/2"}, h.backend.deletedKeys())
	assert.Equal(t, []string{"1", "3"}, h.view.IDs())
}

func TestConsole_DuplicateDeleteNormalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.console.Delete(ctx, h.view, []string{"2"})
	require.NoError(t, err)

	_, err = h.console.Delete(ctx, h.view, []string{"2"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAlreadyPending, apperrors.GetErrorCode(err))
	assert.True(t, errors.Is(err, mutation.ErrAlreadyPending))
	assert.True(t, mutation.IsBenign(err))
}

func TestConsole_CancelRestores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	recordID, err := h.console.Delete(ctx, h.view, []string{"2"})
	require.NoError(t, err)
	require.NoError(t, h.console.Cancel(ctx, recordID))

	assert.Equal(t, []string{"1", "2", "3"}, h.view.IDs())
	err = h.console.Cancel(ctx, recordID)
	assert.Equal(t, apperrors.ErrCodeStaleOperation, apperrors.GetErrorCode(err))

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.backend.deletedKeys())
}

func TestConsole_InvalidCollection(t *testing.T) {
	h := newHarness(t)
	view := listview.New("Approval Groups", documentID, document{ID: "g1"})

	_, err := h.console.Delete(context.Background(), view, []string{"g1"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 1, view.Len())

	_, err = h.console.Delete(context.Background(), nil, []string{"g1"})
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestConsole_CloseFlushesPending(t *testing.T) {
	h := newHarness(t)
	_, err := h.console.Delete(context.Background(), h.view, []string{"1", "2"})
	require.NoError(t, err)

	require.NoError(t, h.console.Close(context.Background()))
	assert.ElementsMatch(t, []string{"documents/1", "documents/2"}, h.backend.deletedKeys())
	require.NoError(t, h.console.Close(context.Background()))
}

func TestConsole_CloseDeadlineIsTimeout(t *testing.T) {
	h := newHarness(t)
	h.backend.hold = make(chan struct{})
	h.backend.entered = make(chan struct{}, 1)
	ctx := context.Background()

	recordID, err := h.console.Delete(ctx, h.view, []string{"2"})
	require.NoError(t, err)

	confirmed := make(chan error, 1)
	go func() { confirmed <- h.console.Confirm(ctx, recordID) }()
	<-h.backend.entered

	closeCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = h.console.Close(closeCtx)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeTimeout))
	assert.False(t, apperrors.IsErrorCode(err, apperrors.ErrCodeCommitFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(h.backend.hold)
	require.NoError(t, <-confirmed)
	assert.Equal(t, []string{"documents/2"}, h.backend.deletedKeys())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.API.BaseURL = "::not-a-url"
	_, err = New(context.Background(), cfg, WithLogger(logging.NewNoopLogger()))
	assert.ErrorIs(t, err, remote.ErrBaseURL)
}
