// Package partition tracks simulated network partitions between pairs of
// cache nodes. Partitions are proxy-enforced bookkeeping, not anything that
// touches the network: they only gate which replicas the coordinator fans
// writes out to.
package partition
