package proxy

import (
	"cmp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/torua/internal/clusterapi"
	"github.com/dreamware/torua/internal/partition"
	"github.com/dreamware/torua/internal/ring"
	"github.com/dreamware/torua/internal/store"
)

// nodeEntry tracks one registered node alongside the liveness loop's
// consecutive-failure counter. Once consecutiveFails reaches
// deadAfterFailures, the node is pruned from both the ring and this map.
type nodeEntry struct {
	desc             clusterapi.NodeDescriptor
	consecutiveFails int
}

// Config bundles the coordinator's tunables, mirroring the configuration
// enumerated for C6.
type Config struct {
	ReplicationFactor  int
	HTTPTimeoutPerCall time.Duration
	HealthCheckPeriod  time.Duration
	VirtualNodes       int
}

// deadAfterFailures is the number of consecutive failed health probes
// before a node is pruned from the ring. The spec fixes this at two.
const deadAfterFailures = 2

// healthProbeTimeout bounds each individual liveness probe, per the spec's
// "short timeout (<=1s)".
const healthProbeTimeout = time.Second

// Coordinator is the proxy's routing and membership brain: it owns the
// consistent-hash ring, the partition matrix, the backing store handle,
// and the registered-node table, and drives the periodic health loop that
// prunes dead nodes.
type Coordinator struct {
	mu         sync.RWMutex
	nodes      map[string]*nodeEntry
	portIndex  map[int]string
	ring       *ring.Ring
	partitions *partition.Matrix
	backing    store.Backend
	cfg        Config
	log        *zap.SugaredLogger
	metrics    *metrics

	healthStop chan struct{}
	healthWG   sync.WaitGroup
}

// New builds a Coordinator. reg may be nil to disable Prometheus
// registration (used in tests).
func New(backing store.Backend, cfg Config, reg *prometheus.Registry, log *zap.SugaredLogger) *Coordinator {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 2
	}
	if cfg.HTTPTimeoutPerCall <= 0 {
		cfg.HTTPTimeoutPerCall = 2 * time.Second
	}
	if cfg.HealthCheckPeriod <= 0 {
		cfg.HealthCheckPeriod = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Coordinator{
		nodes:      make(map[string]*nodeEntry),
		portIndex:  make(map[int]string),
		ring:       ring.New(cfg.VirtualNodes),
		partitions: partition.New(),
		backing:    backing,
		cfg:        cfg,
		log:        log,
		metrics:    newMetrics(reg),
	}
	return c
}

// Partitions exposes the partition matrix for the HTTP layer's
// /partition/* endpoints.
func (c *Coordinator) Partitions() *partition.Matrix { return c.partitions }

// nodeAddr returns the base URL for a registered node id.
func (c *Coordinator) nodeAddr(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.nodes[id]
	if !ok {
		return "", false
	}
	return e.desc.Addr(), true
}

// idForPort resolves a registered port to its node id.
func (c *Coordinator) idForPort(port int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.portIndex[port]
	return id, ok
}

// registeredNodes returns a snapshot of currently registered descriptors,
// sorted by id for deterministic fan-out and observability ordering, used
// by the chaos controller's NodeProvider and the observability surface.
func (c *Coordinator) registeredNodes() []clusterapi.NodeDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]clusterapi.NodeDescriptor, 0, len(c.nodes))
	for _, e := range c.nodes {
		out = append(out, e.desc)
	}
	slices.SortFunc(out, func(a, b clusterapi.NodeDescriptor) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// NodeProvider adapts the coordinator's membership table to the
// chaos.NodeProvider function type without introducing a package
// dependency from proxy back onto chaos.
func (c *Coordinator) NodeProvider() []clusterapi.NodeDescriptor {
	return c.registeredNodes()
}
