// Package proxyerr defines the sentinel error kinds the proxy coordinator
// surfaces to HTTP clients and the status-code mapping for each.
package proxyerr
