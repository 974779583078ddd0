// Package nodeserver exposes a cache.Engine over HTTP using chi, the route
// set a cachenode process serves to the proxy coordinator and to direct
// callers (chaos termination, debugging).
package nodeserver
