// Package chaos implements the proxy's randomized node termination loop.
// Termination always goes through a node's privileged admin shutdown
// endpoint (internal/nodeserver); a controller built without that
// capability wired in fails loudly at Start rather than silently
// degrading into a no-op.
package chaos
