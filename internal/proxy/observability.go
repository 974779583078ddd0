package proxy

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/torua/internal/clusterapi"
)

// ClusterMap returns every virtual-node position on the ring, for the
// visualization front-end. The angle is cosmetic; routing never consults
// it.
func (c *Coordinator) ClusterMap() []ClusterMapEntry {
	snap := c.ring.Snapshot()
	out := make([]ClusterMapEntry, len(snap))
	for i, v := range snap {
		out[i] = ClusterMapEntry{ID: v.NodeID, Angle: v.Angle}
	}
	return out
}

// StatsGlobal aggregates every registered node's cache stats into
// cluster-wide hit rate, total request count, per-node key load, and a
// hits/misses breakdown.
func (c *Coordinator) StatsGlobal(ctx context.Context) GlobalStats {
	nodes := c.registeredNodes()

	type statResult struct {
		id    string
		stats clusterapi.CacheStats
		ok    bool
	}
	results := make([]statResult, len(nodes))

	var g errgroup.Group
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			addr, ok := c.nodeAddr(n.ID)
			if !ok {
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
			defer cancel()
			var stats clusterapi.CacheStats
			status, err := clusterapi.GetJSON(callCtx, addr+"/cache/stats", &stats)
			results[i] = statResult{id: n.ID, stats: stats, ok: err == nil && status == 200}
			return nil
		})
	}
	_ = g.Wait()

	var totalHits, totalMisses uint64
	load := make([]NodeLoad, 0, len(nodes))
	for _, r := range results {
		if !r.ok {
			continue
		}
		totalHits += r.stats.Hits
		totalMisses += r.stats.Misses
		load = append(load, NodeLoad{Name: r.id, Keys: r.stats.CurrentSize})
	}

	var hitRate float64
	total := totalHits + totalMisses
	if total > 0 {
		hitRate = float64(totalHits) / float64(total)
	}

	return GlobalStats{
		HitRate:       hitRate,
		TotalRequests: total,
		NodeLoad:      load,
		RequestDistribution: []RequestDistribution{
			{Name: "Hits", Value: totalHits},
			{Name: "Misses", Value: totalMisses},
		},
	}
}

// DebugKeys returns the union of every registered node's live-key
// snapshot, one row per (key, node, ttl_remaining).
func (c *Coordinator) DebugKeys(ctx context.Context) []KeyObservation {
	nodes := c.registeredNodes()

	type keysResult struct {
		id      string
		entries []clusterapi.CacheKeyEntry
	}
	results := make([]keysResult, len(nodes))

	var g errgroup.Group
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			addr, ok := c.nodeAddr(n.ID)
			if !ok {
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
			defer cancel()
			var entries []clusterapi.CacheKeyEntry
			if status, err := clusterapi.GetJSON(callCtx, addr+"/cache/keys", &entries); err == nil && status == 200 {
				results[i] = keysResult{id: n.ID, entries: entries}
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []KeyObservation
	for _, r := range results {
		for _, e := range r.entries {
			out = append(out, KeyObservation{Key: e.Key, Node: r.id, TTLRemainingSec: e.TTLRemainingSec})
		}
	}
	return out
}
