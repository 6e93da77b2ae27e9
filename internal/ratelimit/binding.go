package ratelimit

import (
	"net/http"
	"sync"

	"rategate/internal/common/errors"
)

// ScopeKind selects the namespace dimension for a binding's counters.
type ScopeKind int

const (
	// ScopeEndpoint scopes counters by handler identity: URL parameter
	// values bound to the same handler share quota.
	ScopeEndpoint ScopeKind = iota
	// ScopeURL scopes counters by the raw request path: parameterized
	// routes do not share quota.
	ScopeURL
	// ScopeShared scopes counters by a group name, collapsing every
	// enrolled route onto one counter family.
	ScopeShared
)

// CostFunc computes the integer quantity by which one request increments
// its counters. The engine validates the result; anything below 1 is a
// configuration error, never clamped.
type CostFunc func(r *http.Request) int64

// ExemptFunc decides per request whether a binding is bypassed entirely.
type ExemptFunc func(r *http.Request) bool

// LimitProvider produces a limit expression for a request. It is re-parsed
// through the standard grammar on every evaluation and never cached, so it
// may reflect runtime-changing policy.
type LimitProvider func(r *http.Request) string

// Binding is the admission configuration attached to one route. It is
// created at registration time and read-only afterwards; only the provider
// and exemption callables are evaluated per request.
type Binding struct {
	// Limits is the static parsed limit set, in declaration order.
	Limits []Limit
	// Provider, when set, supplies the limit expression dynamically and
	// takes precedence over Limits.
	Provider LimitProvider

	Scope ScopeKind
	// SharedName names the counter family for ScopeShared bindings.
	SharedName string

	// KeyFunc overrides the engine-wide key resolver when non-nil.
	KeyFunc KeyFunc
	// Cost overrides the constant cost of 1 when non-nil.
	Cost CostFunc

	// Exempt bypasses the binding unconditionally.
	Exempt bool
	// ExemptWhen bypasses the binding when it evaluates true for a request.
	ExemptWhen ExemptFunc

	// ApplyDefaults evaluates the engine defaults after the explicit
	// limits instead of replacing them.
	ApplyDefaults bool
	// NoDefaults opts a binding without explicit limits out of the engine
	// defaults.
	NoDefaults bool
}

// NewBinding parses expr and returns a binding holding the resulting limit
// set. Malformed expressions fail here, at registration time.
func NewBinding(expr string) (Binding, error) {
	limits, err := ParseLimits(expr)
	if err != nil {
		return Binding{}, err
	}
	return Binding{Limits: limits}, nil
}

// SharedBinding parses expr into a binding enrolled in the named shared
// group. Every route bound to the same group name consumes one counter
// family.
func SharedBinding(name, expr string) (Binding, error) {
	b, err := NewBinding(expr)
	if err != nil {
		return Binding{}, err
	}
	b.Scope = ScopeShared
	b.SharedName = name
	return b, nil
}

// Registry holds the per-route bindings. Routes are identified by their
// stable handler identity (the mux route name or path template).
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
	}
}

// Bind registers the binding for a route, validating it first. Binding the
// same route twice replaces the earlier registration.
func (reg *Registry) Bind(route string, b Binding) error {
	if route == "" {
		return errors.ConfigError("route identity must not be empty")
	}
	if b.Scope == ScopeShared && b.SharedName == "" {
		return errors.ConfigError("shared binding requires a group name").
			WithContext("route", route)
	}
	for _, l := range b.Limits {
		if l.Amount <= 0 || l.Period <= 0 {
			return errors.ConfigErrorf("invalid limit %s bound to route %s", l, route)
		}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.bindings[route] = b
	return nil
}

// BindExpr parses expr and binds the resulting limit set to the route.
func (reg *Registry) BindExpr(route, expr string) error {
	b, err := NewBinding(expr)
	if err != nil {
		return err
	}
	return reg.Bind(route, b)
}

// Lookup returns the binding for a route, if any.
func (reg *Registry) Lookup(route string) (Binding, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	b, ok := reg.bindings[route]
	return b, ok
}
