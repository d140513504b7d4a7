package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/deltafeed/internal/cache/memory"
	"github.com/alanyoungcy/deltafeed/internal/delta"
	"github.com/alanyoungcy/deltafeed/internal/domain"
	"github.com/alanyoungcy/deltafeed/internal/metrics"
	"github.com/alanyoungcy/deltafeed/internal/pipeline"
	"github.com/alanyoungcy/deltafeed/internal/server"
	"github.com/alanyoungcy/deltafeed/internal/server/handler"
)

const (
	apiKey = "test-key"
	prefix = "symboleventsin/"
)

type memBlobs struct {
	mu   sync.Mutex
	objs map[string]string
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func (m *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[path]
	return ok, nil
}

func (m *memBlobs) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, path)
	return nil
}

type nopSink struct{ n int }

func (s *nopSink) Send(context.Context, string, []byte) error { s.n++; return nil }
func (s *nopSink) Name() string                               { return "nop" }
func (s *nopSink) Close() error                               { return nil }

type fixture struct {
	handler http.Handler
	store   *memory.Store
	blobs   *memBlobs
	sink    *nopSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithKey(t, apiKey)
}

func newFixtureWithKey(t *testing.T, key string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	blobs := &memBlobs{objs: map[string]string{}}
	sink := &nopSink{}
	engine := delta.NewEngine(store, logger)
	deleter := pipeline.NewDirectDeleter(blobs, prefix)
	m := metrics.New()

	d := pipeline.NewDispatcher(engine, sink, deleter, logger, pipeline.WithMetrics(m))
	ing := pipeline.NewIngester(blobs, d, prefix, logger)
	w := pipeline.NewWatcher(blobs, ing, memory.NewLockManager(), pipeline.WatcherConfig{}, logger)

	h := server.NewHandler(server.Config{APIKey: key}, server.Handlers{
		Health:  handler.NewHealthHandler(map[string]handler.Pinger{"cache": store}, logger),
		Events:  handler.NewEventsHandler(w, ing, logger),
		Blobs:   handler.NewBlobsHandler(deleter, logger),
		Symbols: handler.NewSymbolsHandler(store, nil, logger),
		Cache:   handler.NewCacheHandler(engine, logger),
		Metrics: m.Handler(),
	}, logger)

	return &fixture{handler: h, store: store, blobs: blobs, sink: sink}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if _, ok := header["none"]; !ok {
		req.Header.Set("X-API-Key", apiKey)
	}
	for k, v := range header {
		if k != "none" {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

var noKey = map[string]string{"none": ""}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", "", noKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMetricsIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "", noKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/cache/reset", "", noKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/reset", "", map[string]string{"none": "", "Ocp-Apim-Subscription-Key": apiKey})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/reset", "", map[string]string{"none": "", "Authorization": "Bearer " + apiKey})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/cache/reset", "", map[string]string{"none": "", "X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEvents_S3Notification(t *testing.T) {
	f := newFixture(t)
	f.blobs.objs[prefix+"ev 1.json"] = `{"symbol":"AAPL","value":"150"}`
	f.blobs.objs[prefix+"ev2.json"] = `{"symbol":"AAPL","value":"155"}`

	body := `{"Records":[{"s3":{"object":{"key":"symboleventsin/ev+1.json"}}}]}`
	rec := f.do(t, http.MethodPost, "/api/events", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/events", `{"blobname":"ev2.json"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Results []struct {
			Blob   string  `json:"blob"`
			Status string  `json:"status"`
			Delta  *string `json:"delta"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "processed", resp.Results[0].Status)
	require.NotNil(t, resp.Results[0].Delta)
	assert.Equal(t, "5", *resp.Results[0].Delta)

	assert.Equal(t, map[string]string{"AAPL": "155"}, f.store.Snapshot())
	assert.Empty(t, f.blobs.objs)
	assert.Equal(t, 2, f.sink.n)
}

func TestEvents_Rejects(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/events", `{}`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/events", `nope`, nil).Code)

	rec := f.do(t, http.MethodPost, "/api/events", `{"blobname":"missing.json"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)
}

func TestBlobsDelete(t *testing.T) {
	f := newFixture(t)
	f.blobs.objs[prefix+"old.json"] = "{}"

	rec := f.do(t, http.MethodPost, "/api/blobs/delete", `{"blobname":"old.json"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.blobs.objs)

	rec = f.do(t, http.MethodPost, "/api/blobs/delete", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSymbols(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), "MSFT", "300"))

	rec := f.do(t, http.MethodGet, "/api/symbols/MSFT", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"symbol":"MSFT","value":"300"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/symbols/NOPE", "", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/api/symbols/MSFT/history", "", nil).Code)
}

func TestCacheReset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), "A", "1"))
	require.NoError(t, f.store.Set(context.Background(), "B", "2"))

	rec := f.do(t, http.MethodPost, "/api/cache/reset", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.Snapshot())
}

func TestAdminRoutesNeedAPIKey(t *testing.T) {
	f := newFixtureWithKey(t, "")
	require.NoError(t, f.store.Set(context.Background(), "AAPL", "150"))
	f.blobs.objs[prefix+"1.json"] = `{"symbol":"AAPL","value":"150"}`

	rec := f.do(t, http.MethodPost, "/api/cache/reset", "", noKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/blobs/delete", `{"blobname":"1.json"}`, noKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, map[string]string{"AAPL": "150"}, f.store.Snapshot())
	assert.Contains(t, f.blobs.objs, prefix+"1.json")

	// Read routes stay open.
	rec = f.do(t, http.MethodGet, "/api/symbols/AAPL", "", noKey)
	assert.Equal(t, http.StatusOK, rec.Code)
}
