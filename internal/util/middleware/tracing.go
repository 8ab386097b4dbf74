// Package middleware holds gorilla/mux middleware shared by the proxy's
// HTTP-facing surfaces. Grounded on the teacher's middleware.Trace, adapted
// from per-origin-path span naming down to a single named span per admin
// route.
package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mitmcache/proxy/internal/util/tracing"
)

// Trace wraps next so every request to it starts a child span named after
// the matched mux route, closing the span when the handler returns.
func Trace(tracerName string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			spanName := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					spanName = tmpl
				}
			}

			ctx, span := tracing.NewChildSpan(r.Context(), tracerName, spanName)
			defer span.End()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
