package ratelimit

import (
	"net/http"

	"rategate/internal/common/errors"
	"rategate/internal/common/logging"
)

// MiddlewareOptions configures how the middleware maps evaluation
// outcomes onto the transport.
type MiddlewareOptions struct {
	// SwallowErrors lets a request through when its evaluation fails,
	// logging the failure instead of rejecting. Denied requests are still
	// rejected; only configuration and backend failures are swallowed.
	SwallowErrors bool
}

// Middleware returns an HTTP middleware that runs the admission decision
// for every request and maps the outcome onto the transport: quota headers
// on every evaluated response, 429 with Retry-After on denial. Evaluation
// errors never fail open silently: configuration errors surface as 500 and
// backend failures as 503.
func Middleware(engine *Engine, annotator *HeaderAnnotator) func(http.Handler) http.Handler {
	return MiddlewareWith(engine, annotator, MiddlewareOptions{})
}

// MiddlewareWith is Middleware with explicit options.
func MiddlewareWith(engine *Engine, annotator *HeaderAnnotator, opts MiddlewareOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := engine.Evaluate(r.Context(), r)
			if err != nil {
				logging.Error("rate limit evaluation failed", err,
					logging.Field{Key: "path", Value: r.URL.Path})
				if opts.SwallowErrors {
					next.ServeHTTP(w, r)
					return
				}
				if errors.IsBackend(err) {
					http.Error(w, "Rate limit backend unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			annotator.Annotate(w.Header(), decision)

			if rejection := decision.Err(); rejection != nil {
				http.Error(w, rejection.Error(), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
