package nodeserver

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dreamware/torua/internal/cache"
	"github.com/dreamware/torua/internal/clusterapi"
	"github.com/dreamware/torua/internal/httpmw"
)

// Server wires a cache.Engine to the HTTP routes a cachenode process
// serves. It owns no storage of its own; all state lives in the engine.
type Server struct {
	engine    *cache.Engine
	log       *zap.SugaredLogger
	router    chi.Router
	startedAt time.Time
	shutdown  chan struct{}
	id        string
	port      int
	capacity  int
	once      sync.Once
}

// New builds a Server for the given engine. id is typically "host:port" and
// is echoed back from /cache/info.
func New(engine *cache.Engine, id string, port, capacity int, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		engine:    engine,
		log:       log,
		id:        id,
		port:      port,
		capacity:  capacity,
		startedAt: time.Now(),
		shutdown:  make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpmw.RequestID)
	r.Use(httpmw.RequestLogger(log))
	r.Get("/health", s.handleHealth)
	r.Get("/cache/stats", s.handleStats)
	r.Get("/cache/keys", s.handleKeys)
	r.Get("/cache/info", s.handleInfo)
	r.Post("/cache/clear", s.handleClear)
	r.Post("/cache", s.handleSet)
	r.Get("/cache/{key}", s.handleGet)
	r.Delete("/cache/{key}", s.handleDelete)
	r.Post("/admin/shutdown", s.handleAdminShutdown)
	s.router = r

	return s
}

// Router returns the underlying chi.Router for embedding in an http.Server.
func (s *Server) Router() chi.Router { return s.router }

// ShutdownRequested is closed once /admin/shutdown has been called by a
// loopback caller. cmd/cachenode's main loop selects on it alongside OS
// signals so a chaos-triggered kill looks, from the outside, like any other
// graceful shutdown.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdown }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, clusterapi.HealthResponse{Status: "ok", Port: s.port})
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req clusterapi.CacheSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key must not be empty", http.StatusBadRequest)
		return
	}

	var ttl time.Duration
	if req.TTL != nil && *req.TTL > 0 {
		ttl = time.Duration(*req.TTL) * time.Second
	}
	if err := s.engine.Put(req.Key, []byte(req.Value), ttl); err != nil {
		s.log.Warnw("put failed", "key", req.Key, "err", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, hit := s.engine.Get(key)
	if !hit {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, clusterapi.CacheGetResponse{Value: string(value), Hit: true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	deleted := s.engine.Delete(key)
	writeJSON(w, http.StatusOK, clusterapi.CacheDeleteResponse{Deleted: deleted})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Stats()
	writeJSON(w, http.StatusOK, clusterapi.CacheStats{
		Hits:        st.Hits,
		Misses:      st.Misses,
		HitRate:     st.HitRate,
		CurrentSize: st.CurrentSize,
		Capacity:    st.Capacity,
	})
}

func (s *Server) handleKeys(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	entries := make([]clusterapi.CacheKeyEntry, 0, len(snap))
	for _, e := range snap {
		ce := clusterapi.CacheKeyEntry{Key: e.Key}
		if e.TTLRemaining != nil {
			secs := int(e.TTLRemaining.Seconds())
			ce.TTLRemainingSec = &secs
		}
		entries = append(entries, ce)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	s.engine.Clear()
	w.WriteHeader(http.StatusOK)
}

// nodeInfo is the body of GET /cache/info, a supplement beyond the required
// route set for direct callers; the proxy's aggregation does not call it.
type nodeInfo struct {
	ID         string `json:"id"`
	UptimeSecs int    `json:"uptime_seconds"`
	Capacity   int    `json:"capacity"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nodeInfo{
		ID:         s.id,
		UptimeSecs: int(time.Since(s.startedAt).Seconds()),
		Capacity:   s.capacity,
	})
}

// handleAdminShutdown is the chaos controller's termination capability. It
// is only honored for callers on the loopback interface; anything else is
// rejected so the admin surface can't be reached off-box.
func (s *Server) handleAdminShutdown(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.once.Do(func() {
		s.log.Warnw("admin shutdown requested", "remote", r.RemoteAddr)
		close(s.shutdown)
	})
	w.WriteHeader(http.StatusAccepted)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
