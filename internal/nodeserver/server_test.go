package nodeserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua/internal/cache"
	"github.com/dreamware/torua/internal/clusterapi"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	engine := cache.NewEngine(10, cache.WithSweepInterval(0))
	t.Cleanup(engine.Close)
	return New(engine, "127.0.0.1:9001", 9001, 10, nil)
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var r *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleSetAndGet(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/cache", clusterapi.CacheSetRequest{Key: "k1", Value: "v1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodGet, "/cache/k1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp clusterapi.CacheGetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.Value)
	assert.True(t, resp.Hit)
}

func TestHandleGetMiss(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/cache/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSetRejectsEmptyKey(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/cache", clusterapi.CacheSetRequest{Value: "v"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDelete(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/cache", clusterapi.CacheSetRequest{Key: "k1", Value: "v1"})

	rec := doRequest(s, http.MethodDelete, "/cache/k1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp clusterapi.CacheDeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Deleted)

	rec = doRequest(s, http.MethodDelete, "/cache/k1", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Deleted)
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/cache", clusterapi.CacheSetRequest{Key: "k1", Value: "v1"})
	doRequest(s, http.MethodGet, "/cache/k1", nil)
	doRequest(s, http.MethodGet, "/cache/missing", nil)

	rec := doRequest(s, http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats clusterapi.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp clusterapi.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 9001, resp.Port)
}

func TestHandleAdminShutdown_LoopbackOnly(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/shutdown", nil)
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	select {
	case <-s.ShutdownRequested():
		t.Fatal("shutdown should not have been requested by a remote caller")
	default:
	}

	rec = doRequest(s, http.MethodPost, "/admin/shutdown", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-s.ShutdownRequested():
	default:
		t.Fatal("shutdown should have been signaled")
	}
}

func TestHandleClear(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/cache", clusterapi.CacheSetRequest{Key: "k1", Value: "v1"})
	rec := doRequest(s, http.MethodPost, "/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/cache/k1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
