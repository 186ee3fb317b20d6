package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPObserver records one served request
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// Metrics reports every request under its route pattern, so that entity ids do
// not become label values.
func Metrics(observer HTTPObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			observer.ObserveHTTP(r.Method, route, ww.Status(), time.Since(start))
		})
	}
}
