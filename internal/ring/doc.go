// Package ring implements the consistent-hash ring used to resolve a cache
// key to its ordered replica set of physical nodes. Each physical node
// contributes a fixed number of virtual-node positions, generalizing the
// single-hash/modulo sharding scheme the package is derived from into a
// ring that rebalances only a small fraction of keys when membership
// changes.
package ring
