package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cortexmap/cortex/internal/config"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/database"
	"github.com/cortexmap/cortex/internal/dispatcher"
	queueMemory "github.com/cortexmap/cortex/internal/queue/memory"
)

func TestServer_DebugMaps_UsesCatalogWhenConfigured(t *testing.T) {
	t.Parallel()

	catalog := &apiFakeCatalog{maps: []database.MapRecord{
		{CacheKey: "shop.example.com|shop.example.com", Domain: "shop.example.com", NodeCount: 42},
	}}
	server := newTestServerWithDeps(newAPIFakeJobStore(), catalog)

	req := httptest.NewRequest(http.MethodGet, "/debug/maps", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "shop.example.com")
}

func TestServer_DebugMaps_FallsBackToJobStoreWithoutCatalog(t *testing.T) {
	t.Parallel()

	jobStore := newAPIFakeJobStore()
	jobStore.records = []crawler.MapJobRecord{{Domain: "shop.example.com", Status: crawler.MapJobSucceeded}}
	server := newTestServerWithDeps(jobStore, nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/maps", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "shop.example.com")
}

func TestServer_DebugMaps_InvalidLimit(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/debug/maps?limit=-1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TriggerRefresh_EnqueuesJob(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, nil)
	server := NewServer(newAPIFakeJobStore(), nil, dispatch, testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/debug/maps/shop.example.com/refresh", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "shop.example.com", job.Domain)
	require.True(t, job.Refresh)
}

func TestServer_TriggerRefresh_ForwardsQueueErrors(t *testing.T) {
	t.Parallel()

	dispatch := dispatcher.New(&erroringQueue{err: errors.New("boom")}, nil)
	server := NewServer(newAPIFakeJobStore(), nil, dispatch, testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/debug/maps/shop.example.com/refresh", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	dispatch := dispatcher.New(q, nil)
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(newAPIFakeJobStore(), nil, dispatch, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer().Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type apiJobStore struct {
	mu      sync.Mutex
	records []crawler.MapJobRecord
}

func newAPIFakeJobStore() *apiJobStore {
	return &apiJobStore{}
}

func (s *apiJobStore) RecordStart(_ context.Context, job crawler.MapJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, crawler.MapJobRecord{Domain: job.Domain, Status: crawler.MapJobRunning})
	return nil
}

func (s *apiJobStore) RecordDone(_ context.Context, job crawler.MapJob, status crawler.MapJobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Domain == job.Domain {
			s.records[i].Status = status
			s.records[i].ErrorText = errText
			return nil
		}
	}
	return nil
}

func (s *apiJobStore) ListRecent(_ context.Context, limit int) ([]crawler.MapJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	return s.records[:limit], nil
}

type apiFakeCatalog struct {
	maps []database.MapRecord
	err  error
}

func (c *apiFakeCatalog) SaveMap(context.Context, database.MapRecord) error { return nil }
func (c *apiFakeCatalog) SaveChanges(context.Context, []database.ChangeRecord) error {
	return nil
}

func (c *apiFakeCatalog) ListMaps(_ context.Context, limit int) ([]database.MapRecord, error) {
	if c.err != nil {
		return nil, c.err
	}
	if limit > 0 && limit < len(c.maps) {
		return c.maps[:limit], nil
	}
	return c.maps, nil
}

func (c *apiFakeCatalog) Close() error { return nil }

type erroringQueue struct {
	err error
}

func (q *erroringQueue) Enqueue(context.Context, crawler.MapJob) error { return q.err }
func (q *erroringQueue) Dequeue(context.Context) (crawler.MapJob, error) {
	return crawler.MapJob{}, q.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			MaxDepthDefault: 1,
			MaxPagesDefault: 10,
		},
		HTTP: config.HTTPConfig{
			TimeoutSeconds: 30,
		},
		Logging: config.LoggingConfig{Development: true},
	}
}

func newTestServer() *Server {
	return newTestServerWithDeps(newAPIFakeJobStore(), nil)
}

func newTestServerWithDeps(jobStore crawler.MapJobStore, catalog database.Provider) *Server {
	q := queueMemory.NewQueue(10)
	dispatch := dispatcher.New(q, nil)
	return NewServer(jobStore, catalog, dispatch, testConfig(), nil)
}
