// Package cache implements the recency-ordered, TTL-bounded key/value engine
// that backs a single cache node. See the Engine type for the operational
// contract: get/put/delete/clear/stats/snapshot plus a background sweeper
// that reclaims expired entries outside the hot path.
package cache
