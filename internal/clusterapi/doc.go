// Package clusterapi holds the wire types and HTTP client helpers shared
// between the proxy coordinator and cache nodes: node descriptors, the
// JSON request/response shapes exchanged over HTTP, and small PostJSON/
// GetJSON helpers used for every coordinator-to-node call.
package clusterapi
