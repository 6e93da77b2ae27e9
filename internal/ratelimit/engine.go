package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rategate/internal/common/errors"
	"rategate/internal/common/logging"
	"rategate/internal/metrics"
	"rategate/internal/store"
	"rategate/internal/store/memory"
)

// maxProbeBackoff caps the exponential backoff between primary-store
// recovery probes at 2^maxProbeBackoff seconds.
const maxProbeBackoff = 5

// Config holds engine-level configuration
type Config struct {
	// DefaultLimits is the limit expression applied to routes without an
	// explicit binding. Empty disables defaults.
	DefaultLimits string `json:"default_limits"`
	// ApplicationLimits is the limit expression evaluated ahead of every
	// route's own limits under one application-wide scope, so all routes
	// draw from a single counter family. Empty disables it.
	ApplicationLimits string `json:"application_limits"`
	// KeyPrefix is prepended to every storage key.
	KeyPrefix string `json:"key_prefix"`
	// Enabled is the initial state of the process-wide toggle.
	Enabled bool `json:"enabled"`
	// FallbackEnabled switches evaluation to an in-memory store while the
	// primary backend is unreachable, instead of propagating the failure.
	FallbackEnabled bool `json:"fallback_enabled"`
	// Filters are request predicates evaluated before any limit; a request
	// matching any of them bypasses evaluation entirely.
	Filters []ExemptFunc `json:"-"`
}

// applicationScope is the fixed scope value for application-wide limits.
const applicationScope = "global"

// Engine evaluates route bindings against the counting backend and
// produces admission decisions. It holds no locks of its own; race-safety
// is delegated to the backend's atomic increment.
type Engine struct {
	store    store.Store
	fallback store.Store
	registry *Registry

	defaults  []Limit
	appLimits []Limit
	filters   []ExemptFunc
	keyFunc   KeyFunc
	prefix    string
	enabled   atomic.Bool

	metrics *metrics.Metrics
	logger  logging.Logger

	// primary-store failover state, used only when fallback is enabled
	storageDead atomic.Bool
	probeMu     sync.Mutex
	probeCount  int
	lastProbe   time.Time
}

// New creates an engine bound to a counting backend and a route registry.
// keyFunc may be nil, in which case ClientAddressKey is used.
func New(st store.Store, registry *Registry, keyFunc KeyFunc, config *Config) (*Engine, error) {
	if config == nil {
		config = &Config{Enabled: true}
	}
	if keyFunc == nil {
		keyFunc = ClientAddressKey
	}
	if registry == nil {
		registry = NewRegistry()
	}

	e := &Engine{
		store:    st,
		registry: registry,
		keyFunc:  keyFunc,
		prefix:   config.KeyPrefix,
		filters:  config.Filters,
		logger:   logging.GetGlobalLogger(),
	}
	e.enabled.Store(config.Enabled)

	if config.DefaultLimits != "" {
		defaults, err := ParseLimits(config.DefaultLimits)
		if err != nil {
			return nil, err
		}
		e.defaults = defaults
	}

	if config.ApplicationLimits != "" {
		appLimits, err := ParseLimits(config.ApplicationLimits)
		if err != nil {
			return nil, err
		}
		e.appLimits = appLimits
	}

	if config.FallbackEnabled {
		fallback, err := memory.NewStore(nil)
		if err != nil {
			return nil, err
		}
		e.fallback = fallback
	}

	return e, nil
}

// SetMetrics attaches Prometheus instrumentation. Safe to leave unset.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetEnabled toggles the process-wide enabled flag. When disabled, every
// decision is allow and the backend is never touched.
func (e *Engine) SetEnabled(v bool) {
	e.enabled.Store(v)
}

// Enabled reports the process-wide enabled flag.
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// Registry returns the engine's route registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// boundLimit pairs a limit with its resolved scope value.
type boundLimit struct {
	limit Limit
	scope string
}

// Evaluate runs the admission decision for a request against the binding
// of its mux route.
func (e *Engine) Evaluate(ctx context.Context, r *http.Request) (Decision, error) {
	return e.EvaluateRoute(ctx, r, routeIdentity(r))
}

// EvaluateRoute runs the admission decision for a request against the
// binding registered under the given route identity.
//
// A denied request is a normal outcome: the returned Decision has
// Allowed=false and a nil error. A non-nil error is either a configuration
// error (invalid dynamic limit or cost) or a backend failure, and means no
// decision was reached.
func (e *Engine) EvaluateRoute(ctx context.Context, r *http.Request, route string) (Decision, error) {
	if !e.enabled.Load() {
		e.metrics.RecordBypass("disabled")
		return Decision{Allowed: true}, nil
	}

	for _, filter := range e.filters {
		if filter(r) {
			e.metrics.RecordBypass("filtered")
			return Decision{Allowed: true}, nil
		}
	}

	binding, bound := e.registry.Lookup(route)
	if bound && (binding.Exempt || (binding.ExemptWhen != nil && binding.ExemptWhen(r))) {
		e.metrics.RecordBypass("exempt")
		return Decision{Allowed: true}, nil
	}

	limits, err := e.resolveLimits(binding, bound, r, route)
	if err != nil {
		return Decision{}, err
	}
	if len(limits) == 0 {
		e.metrics.RecordBypass("unbound")
		return Decision{Allowed: true}, nil
	}

	keyFunc := e.keyFunc
	if binding.KeyFunc != nil {
		keyFunc = binding.KeyFunc
	}
	// resolved once, reused for every limit in the sequence
	key := keyFunc(r)
	if key == "" {
		e.logger.Warn("empty rate limit key, skipping evaluation",
			logging.Field{Key: "route", Value: route})
		e.metrics.RecordBypass("empty_key")
		return Decision{Allowed: true}, nil
	}

	cost := int64(1)
	if bound && binding.Cost != nil {
		cost = binding.Cost(r)
		if cost < 1 {
			return Decision{}, errors.ConfigErrorf("request cost must be a positive integer, got %d", cost).
				WithContext("route", route)
		}
	}

	var firstCount int64
	var firstReset time.Time

	for i, bl := range limits {
		count, resetAt, err := e.increment(ctx, storageKey(e.prefix, bl.scope, key, bl.limit), bl.limit.Period, cost)
		if err != nil {
			return Decision{}, err
		}
		if i == 0 {
			firstCount = count
			firstReset = resetAt
		}

		if count > bl.limit.Amount {
			// Stop at the first violated limit. Earlier limits (and this
			// one) keep their increments: over-counting is preferred to
			// under-counting.
			retryAfter := time.Until(resetAt)
			if retryAfter < 0 {
				retryAfter = 0
			}

			e.logger.Warn("rate limit exceeded",
				logging.Field{Key: "route", Value: route},
				logging.Field{Key: "scope", Value: bl.scope},
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "limit", Value: bl.limit.String()})
			e.metrics.RecordDecision(false)

			return Decision{
				Allowed:    false,
				Limit:      bl.limit,
				Remaining:  0,
				ResetAt:    resetAt,
				RetryAfter: retryAfter,
			}, nil
		}
	}

	remaining := limits[0].limit.Amount - firstCount
	if remaining < 0 {
		remaining = 0
	}

	e.metrics.RecordDecision(true)

	return Decision{
		Allowed:   true,
		Limit:     limits[0].limit,
		Remaining: remaining,
		ResetAt:   firstReset,
	}, nil
}

// resolveLimits produces the ordered limit sequence for a request.
// Application-wide limits always come first under their fixed scope, then
// the explicit binding limits, which replace the engine defaults unless
// the binding asks for both; dynamic providers are re-parsed here on
// every call.
func (e *Engine) resolveLimits(b Binding, bound bool, r *http.Request, route string) ([]boundLimit, error) {
	var out []boundLimit

	for _, l := range e.appLimits {
		out = append(out, boundLimit{limit: l, scope: applicationScope})
	}

	if bound {
		explicit := b.Limits
		if b.Provider != nil {
			limits, err := ParseLimits(b.Provider(r))
			if err != nil {
				if appErr, ok := err.(*errors.AppError); ok {
					return nil, appErr.WithContext("route", route)
				}
				return nil, err
			}
			explicit = limits
		}

		scope := e.bindingScope(b, r, route)
		for _, l := range explicit {
			out = append(out, boundLimit{limit: l, scope: scope})
		}

		if len(explicit) > 0 && !b.ApplyDefaults {
			return out, nil
		}
		if b.NoDefaults {
			return out, nil
		}
	}

	// defaults always accumulate under the endpoint identity
	for _, l := range e.defaults {
		out = append(out, boundLimit{limit: l, scope: route})
	}
	return out, nil
}

func (e *Engine) bindingScope(b Binding, r *http.Request, route string) string {
	switch b.Scope {
	case ScopeURL:
		return r.URL.Path
	case ScopeShared:
		return b.SharedName
	default:
		return route
	}
}

// increment runs one backend increment, handling instrumentation and the
// optional in-memory failover.
func (e *Engine) increment(ctx context.Context, key string, window time.Duration, cost int64) (int64, time.Time, error) {
	st := e.store
	if e.fallback != nil && e.storageDead.Load() {
		if e.shouldProbePrimary() && e.store.Health(ctx) == nil {
			e.logger.Info("counting backend recovered")
			e.storageDead.Store(false)
			e.resetProbe()
		} else {
			st = e.fallback
		}
	}

	start := time.Now()
	count, resetAt, err := st.Increment(ctx, key, window, cost)
	e.metrics.ObserveStoreDuration("increment", time.Since(start).Seconds())

	if err != nil && e.fallback != nil && st != e.fallback {
		e.metrics.RecordStoreError()
		e.logger.Warn("counting backend unreachable, falling back to in-memory store",
			logging.Field{Key: "error", Value: err.Error()})
		e.storageDead.Store(true)
		count, resetAt, err = e.fallback.Increment(ctx, key, window, cost)
	}

	if err != nil {
		e.metrics.RecordStoreError()
		if errors.IsBackend(err) {
			return 0, time.Time{}, err
		}
		return 0, time.Time{}, errors.BackendError("counting backend increment failed", err).
			WithContext("key", key)
	}

	return count, resetAt, nil
}

// shouldProbePrimary rate-limits recovery probes of a dead primary store
// with exponential backoff.
func (e *Engine) shouldProbePrimary() bool {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()

	if e.probeCount > maxProbeBackoff {
		e.probeCount = 0
	}
	if time.Since(e.lastProbe) > time.Duration(1<<e.probeCount)*time.Second {
		e.lastProbe = time.Now()
		e.probeCount++
		return true
	}
	return false
}

func (e *Engine) resetProbe() {
	e.probeMu.Lock()
	defer e.probeMu.Unlock()
	e.probeCount = 0
	e.lastProbe = time.Time{}
}

// QuotaStatus describes the current consumption of one bound limit.
type QuotaStatus struct {
	Limit   Limit     `json:"limit"`
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Inspect reads the current counters for a request's bound limits without
// incrementing them. Diagnostics only.
func (e *Engine) Inspect(ctx context.Context, r *http.Request, route string) ([]QuotaStatus, error) {
	binding, bound := e.registry.Lookup(route)
	limits, err := e.resolveLimits(binding, bound, r, route)
	if err != nil {
		return nil, err
	}

	keyFunc := e.keyFunc
	if binding.KeyFunc != nil {
		keyFunc = binding.KeyFunc
	}
	key := keyFunc(r)

	statuses := make([]QuotaStatus, 0, len(limits))
	for _, bl := range limits {
		start := time.Now()
		count, resetAt, err := e.store.Peek(ctx, storageKey(e.prefix, bl.scope, key, bl.limit))
		e.metrics.ObserveStoreDuration("peek", time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, QuotaStatus{Limit: bl.limit, Count: count, ResetAt: resetAt})
	}
	return statuses, nil
}
