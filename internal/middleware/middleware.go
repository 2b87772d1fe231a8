// Package middleware holds the HTTP middlewares wrapped around the proxy router.
package middleware

import "net/http"

type Middleware interface {
	Name() string
	Handler(next http.Handler) http.Handler
}

// Chain wraps h so that the first middleware is the outermost one.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].Handler(h)
	}

	return h
}
