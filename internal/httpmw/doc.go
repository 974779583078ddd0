// Package httpmw holds HTTP middleware shared by the node and proxy
// servers: request-id correlation and structured request logging.
package httpmw
