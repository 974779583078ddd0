package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/torua/internal/chaos"
	"github.com/dreamware/torua/internal/clusterapi"
	"github.com/dreamware/torua/internal/httpmw"
	"github.com/dreamware/torua/internal/partition"
	"github.com/dreamware/torua/internal/proxyerr"
	"github.com/dreamware/torua/internal/ring"
)

// Server exposes a Coordinator and its chaos controller over HTTP.
type Server struct {
	coord      *Coordinator
	chaos      *chaos.Controller
	log        *zap.SugaredLogger
	router     chi.Router
	chaosCtx   context.Context
	cancelLoop context.CancelFunc
}

// NewServer wires the proxy's full HTTP surface: client-facing data
// operations, cluster mutation, partition control, chaos control, and the
// observability endpoints.
func NewServer(coord *Coordinator, chaosCtl *chaos.Controller, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	chaosCtx, cancel := context.WithCancel(context.Background())
	s := &Server{coord: coord, chaos: chaosCtl, log: log, chaosCtx: chaosCtx, cancelLoop: cancel}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httpmw.RequestID)
	r.Use(httpmw.RequestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/data", s.handlePutData)
	r.Get("/data/{key}", s.handleGetData)
	r.Delete("/data/{key}", s.handleDeleteData)

	r.Get("/nodes", s.handleListNodes)
	r.Post("/cluster/add-node", s.handleAddNode)
	r.Delete("/cluster/remove-node/{port}", s.handleRemoveNode)
	r.Get("/cluster/map", s.handleClusterMap)

	r.Post("/partition/create", s.handlePartitionCreate)
	r.Post("/partition/remove", s.handlePartitionRemove)
	r.Get("/partition/list", s.handlePartitionList)

	r.Post("/chaos/start", s.handleChaosStart)
	r.Post("/chaos/stop", s.handleChaosStop)
	r.Get("/chaos/status", s.handleChaosStatus)

	r.Get("/stats/global", s.handleStatsGlobal)
	r.Get("/debug/keys", s.handleDebugKeys)

	s.router = r
	return s
}

// Close stops the chaos controller and cancels its run loop's context. It
// must be called during graceful shutdown so the loop goroutine does not
// leak past the server's lifetime.
func (s *Server) Close() {
	s.chaos.Stop()
	s.cancelLoop()
}

// Router returns the underlying chi.Router for embedding in an
// http.Server.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) handlePutData(w http.ResponseWriter, r *http.Request) {
	var req clusterapi.CacheSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	result, err := s.coord.Put(r.Context(), req.Key, req.Value, req.TTL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Nodes   []string `json:"nodes"`
		Skipped []string `json:"skipped,omitempty"`
	}{Nodes: result.Nodes, Skipped: result.Skipped})
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	bypass := r.URL.Query().Get("bypass_cache") == "true"

	result, err := s.coord.Get(r.Context(), key, bypass)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Value  string `json:"value"`
		Source string `json:"source"`
	}{Value: result.Value, Source: result.Source})
}

func (s *Server) handleDeleteData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	s.coord.Delete(r.Context(), key)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.registeredNodes())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Port == 0 {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Host == "" {
		req.Host = "127.0.0.1"
	}
	snap := s.coord.AddNode(req.Host, req.Port)
	writeJSON(w, http.StatusOK, toClusterMap(snap))
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}
	if err := s.coord.RemoveNode(port); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleClusterMap(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Nodes []ClusterMapEntry `json:"nodes"`
	}{Nodes: s.coord.ClusterMap()})
}

func (s *Server) handlePartitionCreate(w http.ResponseWriter, r *http.Request) {
	source, target, ok := s.partitionArgs(w, r)
	if !ok {
		return
	}
	if err := s.coord.partitions.Create(source, target); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePartitionRemove(w http.ResponseWriter, r *http.Request) {
	source, target, ok := s.partitionArgs(w, r)
	if !ok {
		return
	}
	if err := s.coord.partitions.Remove(source, target); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// partitionArgs resolves source_port/target_port query params to node ids,
// since the partition matrix is keyed by node id but the HTTP surface
// speaks in ports per spec.md.
func (s *Server) partitionArgs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	sourcePort, err1 := strconv.Atoi(r.URL.Query().Get("source_port"))
	targetPort, err2 := strconv.Atoi(r.URL.Query().Get("target_port"))
	if err1 != nil || err2 != nil {
		http.Error(w, "source_port and target_port must be integers", http.StatusBadRequest)
		return "", "", false
	}
	source, ok := s.coord.idForPort(sourcePort)
	if !ok {
		http.Error(w, "unknown source_port", http.StatusBadRequest)
		return "", "", false
	}
	target, ok := s.coord.idForPort(targetPort)
	if !ok {
		http.Error(w, "unknown target_port", http.StatusBadRequest)
		return "", "", false
	}
	return source, target, true
}

func (s *Server) handlePartitionList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Partitions []partitionPairJSON `json:"partitions"`
	}{Partitions: toPartitionJSON(s.coord.partitions.List())})
}

func (s *Server) handleChaosStart(w http.ResponseWriter, _ *http.Request) {
	// The chaos loop must outlive this request; net/http cancels r.Context()
	// the moment the handler returns, which would kill the loop goroutine
	// before its first tick. s.chaosCtx is scoped to the server's own
	// lifetime instead.
	if err := s.chaos.Start(s.chaosCtx); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{Message: "chaos controller started"})
}

func (s *Server) handleChaosStop(w http.ResponseWriter, _ *http.Request) {
	s.chaos.Stop()
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{Message: "chaos controller stopped"})
}

func (s *Server) handleChaosStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.chaos.Status())
}

func (s *Server) handleStatsGlobal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.StatsGlobal(r.Context()))
}

func (s *Server) handleDebugKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.DebugKeys(r.Context()))
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), proxyerr.StatusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func toClusterMap(vnodes []ring.VNodePoint) []ClusterMapEntry {
	out := make([]ClusterMapEntry, len(vnodes))
	for i, v := range vnodes {
		out[i] = ClusterMapEntry{ID: v.NodeID, Angle: v.Angle}
	}
	return out
}

type partitionPairJSON struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func toPartitionJSON(pairs []partition.Pair) []partitionPairJSON {
	out := make([]partitionPairJSON, len(pairs))
	for i, p := range pairs {
		out[i] = partitionPairJSON{Source: p.Source, Target: p.Target}
	}
	return out
}
