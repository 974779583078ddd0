package proxyerr

import (
	"errors"
	"net/http"
)

// Sentinel error kinds returned by proxy operations. Handlers map these to
// HTTP status codes with StatusFor; callers elsewhere should compare with
// errors.Is, since concrete errors are usually wrapped with extra context.
var (
	ErrNotFound    = errors.New("proxy: not found")
	ErrBadRequest  = errors.New("proxy: bad request")
	ErrConflict    = errors.New("proxy: conflict")
	ErrUnavailable = errors.New("proxy: unavailable")
	ErrInternal    = errors.New("proxy: internal error")
)

// StatusFor maps an error produced by the proxy package to the HTTP status
// code an API handler should write. Unrecognized errors map to 500.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
