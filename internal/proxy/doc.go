// Package proxy implements the coordinator that fronts the cache node
// cluster: consistent-hash based routing, multi-replica write fan-out,
// read fall-through to the backing store, partition-aware delivery,
// liveness-driven membership pruning, and the cluster observability
// surface. It is the torua coordinator's role, generalized from
// shard-to-node assignment onto ring-based replica resolution.
package proxy
