package proxy

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/torua/internal/clusterapi"
	"github.com/dreamware/torua/internal/proxyerr"
	"github.com/dreamware/torua/internal/ring"
)

// AddNode registers a node descriptor and inserts it into the ring,
// returning the resulting ring snapshot. Re-adding an already-registered
// id is idempotent: its descriptor is refreshed but the call never fails.
func (c *Coordinator) AddNode(host string, port int) []ring.VNodePoint {
	id := clusterapi.NewID(host, port)

	c.mu.Lock()
	c.nodes[id] = &nodeEntry{desc: clusterapi.NodeDescriptor{
		ID:            id,
		Host:          host,
		Port:          port,
		Status:        clusterapi.StatusHealthy,
		LastHealthyAt: time.Now(),
	}}
	c.portIndex[port] = id
	c.mu.Unlock()

	c.ring.Add(id)
	c.metrics.nodeCount.Set(float64(c.ring.NodeCount()))
	c.log.Infow("node added", "node", id)
	return c.ring.Snapshot()
}

// RemoveNode removes the node registered at port from the ring and the
// descriptor table. It does not attempt to stop the node's process.
func (c *Coordinator) RemoveNode(port int) error {
	c.mu.Lock()
	id, ok := c.portIndex[port]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: no node registered on port %d", proxyerr.ErrBadRequest, port)
	}
	delete(c.nodes, id)
	delete(c.portIndex, port)
	c.mu.Unlock()

	c.ring.Remove(id)
	c.metrics.nodeCount.Set(float64(c.ring.NodeCount()))
	c.log.Infow("node removed", "node", id)
	return nil
}

// StartHealthLoop launches the periodic liveness probe. Nodes that fail
// two consecutive probes are pruned from the ring and the descriptor
// table; a node that later answers again is not automatically re-added,
// matching the spec's explicit-re-addition requirement.
func (c *Coordinator) StartHealthLoop(ctx context.Context) {
	c.healthStop = make(chan struct{})
	c.healthWG.Add(1)
	go func() {
		defer c.healthWG.Done()
		ticker := time.NewTicker(c.cfg.HealthCheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.healthTick(ctx)
			case <-c.healthStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopHealthLoop halts the liveness probe and waits for it to exit.
func (c *Coordinator) StopHealthLoop() {
	if c.healthStop == nil {
		return
	}
	close(c.healthStop)
	c.healthWG.Wait()
}

func (c *Coordinator) healthTick(ctx context.Context) {
	nodes := c.registeredNodes()
	if len(nodes) == 0 {
		return
	}

	results := make([]bool, len(nodes))
	var g errgroup.Group
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			results[i] = c.probe(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	var pruned []string
	for i, n := range nodes {
		entry, ok := c.nodes[n.ID]
		if !ok {
			continue // removed concurrently (explicit RemoveNode) between snapshot and here
		}
		if results[i] {
			entry.consecutiveFails = 0
			entry.desc.Status = clusterapi.StatusHealthy
			entry.desc.LastHealthyAt = time.Now()
			continue
		}
		entry.consecutiveFails++
		entry.desc.Status = clusterapi.StatusUnhealthy
		c.metrics.replicaFailures.WithLabelValues(n.ID).Inc()
		if entry.consecutiveFails >= deadAfterFailures {
			pruned = append(pruned, n.ID)
			delete(c.nodes, n.ID)
			delete(c.portIndex, n.Port)
		}
	}

	for _, id := range pruned {
		c.ring.Remove(id)
		c.log.Warnw("node pruned after consecutive health failures", "node", id, "threshold", deadAfterFailures)
	}
	if len(pruned) > 0 {
		c.metrics.nodeCount.Set(float64(c.ring.NodeCount()))
	}
}

func (c *Coordinator) probe(ctx context.Context, n clusterapi.NodeDescriptor) bool {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	var resp clusterapi.HealthResponse
	status, err := clusterapi.GetJSON(ctx, n.Addr()+"/health", &resp)
	return err == nil && status == 200
}

// Terminate calls a node's admin shutdown endpoint. It is wired into the
// chaos controller as its Terminator; the coordinator never owns node OS
// processes, so this HTTP call is the only termination capability in the
// system.
func (c *Coordinator) Terminate(ctx context.Context, n clusterapi.NodeDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
	defer cancel()
	_, err := clusterapi.PostJSON(ctx, n.Addr()+"/admin/shutdown", struct{}{}, nil)
	return err
}
