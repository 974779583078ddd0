package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/torua/internal/clusterapi"
	"github.com/dreamware/torua/internal/proxyerr"
	"github.com/dreamware/torua/internal/store"
)

// replicaOutcome is the per-replica result of a write fan-out.
type replicaOutcome struct {
	id      string
	success bool
}

// Put resolves the replica set for key, fans a write out to every replica
// not excluded by a declared partition, and writes through to the backing
// store regardless of replica outcome. The call succeeds overall iff the
// backing store write succeeded and at least one replica accepted the
// write — the primary if it's reachable, otherwise the first successful
// non-primary replica, which is then reported as the new primary for
// observability.
func (c *Coordinator) Put(ctx context.Context, key, value string, ttl *int) (PutResult, error) {
	replicas := c.ring.Replicas(key, c.cfg.ReplicationFactor)
	if len(replicas) == 0 {
		return PutResult{}, fmt.Errorf("%w: no nodes registered", proxyerr.ErrUnavailable)
	}
	primary := replicas[0]

	retained := make([]string, 0, len(replicas))
	retained = append(retained, primary)
	var skipped []string
	for _, r := range replicas[1:] {
		if c.partitions.Has(primary, r) {
			skipped = append(skipped, r)
			c.metrics.partitionSkips.Inc()
			continue
		}
		retained = append(retained, r)
	}

	outcomes := c.fanOutSet(ctx, retained, key, value, ttl)

	var successful []string
	for _, o := range outcomes {
		if !o.success {
			c.metrics.replicaFailures.WithLabelValues(o.id).Inc()
			continue
		}
		successful = append(successful, o.id)
	}

	var ttlSeconds *int
	if ttl != nil && *ttl > 0 {
		ttlSeconds = ttl
	}
	storeErr := c.backing.Set(key, value, ttlSeconds)
	backingStatus := "ok"
	if storeErr != nil {
		backingStatus = "err"
		c.log.Warnw("write-through failed", "key", key, "err", storeErr)
	}

	// successful is already in fan-out order (primary first, then retained
	// replicas), so when the primary failed but a non-primary replica
	// landed the write, that replica is already first in successful —
	// reported as the new primary for observability with no reordering.
	result := PutResult{Nodes: successful, Skipped: skipped, BackingStore: backingStatus}

	if len(successful) == 0 {
		c.metrics.puts.WithLabelValues("unavailable").Inc()
		return result, fmt.Errorf("%w: every replica write failed", proxyerr.ErrUnavailable)
	}
	if storeErr != nil {
		c.metrics.puts.WithLabelValues("unavailable").Inc()
		return result, fmt.Errorf("%w: backing store write failed", proxyerr.ErrUnavailable)
	}

	c.metrics.puts.WithLabelValues("ok").Inc()
	return result, nil
}

func (c *Coordinator) fanOutSet(ctx context.Context, ids []string, key, value string, ttl *int) []replicaOutcome {
	outcomes := make([]replicaOutcome, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = replicaOutcome{id: id, success: c.putOne(ctx, id, key, value, ttl)}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Coordinator) putOne(ctx context.Context, id, key, value string, ttl *int) bool {
	addr, ok := c.nodeAddr(id)
	if !ok {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
	defer cancel()

	status, err := clusterapi.PostJSON(callCtx, addr+"/cache", clusterapi.CacheSetRequest{Key: key, Value: value, TTL: ttl}, nil)
	if err != nil || status >= 300 {
		c.log.Debugw("replica write failed", "node", id, "key", key, "status", status, "err", err)
		return false
	}
	return true
}

// Get resolves and returns key. bypassCache skips the cache layer entirely
// and reads directly from the backing store.
func (c *Coordinator) Get(ctx context.Context, key string, bypassCache bool) (GetResult, error) {
	if bypassCache {
		rec, err := c.backing.Get(key)
		if errors.Is(err, store.ErrNotFound) {
			c.metrics.gets.WithLabelValues("miss").Inc()
			return GetResult{}, proxyerr.ErrNotFound
		}
		if err != nil {
			return GetResult{}, fmt.Errorf("%w: %v", proxyerr.ErrInternal, err)
		}
		c.metrics.gets.WithLabelValues("db").Inc()
		return GetResult{Value: rec.Value, Source: "db"}, nil
	}

	replicas := c.ring.Replicas(key, c.cfg.ReplicationFactor)
	if len(replicas) == 0 {
		return GetResult{}, fmt.Errorf("%w: no nodes registered", proxyerr.ErrUnavailable)
	}
	primary := replicas[0]

	if value, ok := c.getFromNode(ctx, primary, key); ok {
		c.metrics.gets.WithLabelValues("cache").Inc()
		return GetResult{Value: value, Source: "cache", Node: primary}, nil
	}

	rec, err := c.backing.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		c.metrics.gets.WithLabelValues("miss").Inc()
		return GetResult{}, proxyerr.ErrNotFound
	}
	if err != nil {
		return GetResult{}, fmt.Errorf("%w: %v", proxyerr.ErrInternal, err)
	}

	c.repopulate(ctx, primary, key, rec)
	c.metrics.gets.WithLabelValues("db").Inc()
	return GetResult{Value: rec.Value, Source: "db"}, nil
}

func (c *Coordinator) getFromNode(ctx context.Context, id, key string) (string, bool) {
	addr, ok := c.nodeAddr(id)
	if !ok {
		return "", false
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
	defer cancel()

	var resp clusterapi.CacheGetResponse
	status, err := clusterapi.GetJSON(callCtx, addr+"/cache/"+url.PathEscape(key), &resp)
	if err != nil || status != 200 {
		return "", false
	}
	return resp.Value, true
}

// repopulate best-effort re-seeds the primary from a backing-store hit.
// Failure is ignored; the read has already succeeded from the caller's
// point of view.
func (c *Coordinator) repopulate(ctx context.Context, primary, key string, rec store.Record) {
	addr, ok := c.nodeAddr(primary)
	if !ok {
		return
	}
	var ttl *int
	if rec.TTLSeconds != nil {
		remaining := *rec.TTLSeconds - int(time.Since(rec.CreatedAt).Seconds())
		if remaining <= 0 {
			return
		}
		ttl = &remaining
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
	defer cancel()
	_, _ = clusterapi.PostJSON(callCtx, addr+"/cache", clusterapi.CacheSetRequest{Key: key, Value: rec.Value, TTL: ttl}, nil)
}

// Delete fans a DELETE out to every current replica, ignoring individual
// failures, and removes the key from the backing store.
func (c *Coordinator) Delete(ctx context.Context, key string) {
	replicas := c.ring.Replicas(key, c.cfg.ReplicationFactor)

	var g errgroup.Group
	for _, id := range replicas {
		id := id
		g.Go(func() error {
			addr, ok := c.nodeAddr(id)
			if !ok {
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.HTTPTimeoutPerCall)
			defer cancel()
			_, _ = clusterapi.Delete(callCtx, addr+"/cache/"+url.PathEscape(key))
			return nil
		})
	}
	_ = g.Wait()

	if err := c.backing.Delete(key); err != nil {
		c.log.Warnw("backing store delete failed", "key", key, "err", err)
	}
	c.metrics.deletes.Inc()
}
