package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// KeyFunc derives the per-caller identity string that partitions counters
// within a scope. Implementations must be pure functions of request state:
// the engine resolves the key once per evaluation and reuses it for every
// limit in the sequence.
type KeyFunc func(r *http.Request) string

// ClientAddressKey resolves the client network identity, honoring
// X-Forwarded-For and X-Real-IP before falling back to the socket address.
func ClientAddressKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// first hop is the original client
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return RemoteAddressKey(r)
}

// RemoteAddressKey resolves the bare socket address, ignoring proxy headers.
func RemoteAddressKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TokenSubjectKey returns a KeyFunc that partitions counters by the subject
// claim of an HS256 bearer token, so authenticated callers are limited per
// user rather than per address. Requests without a valid token fall back to
// the client address.
func TokenSubjectKey(secret []byte) KeyFunc {
	return func(r *http.Request) string {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return ClientAddressKey(r)
		}

		token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			return ClientAddressKey(r)
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return ClientAddressKey(r)
		}
		return "user:" + sub
	}
}

// routeIdentity returns the stable handler identity for a request: the
// registered mux route name, falling back to the path template, falling
// back to the raw path. Stable across different URL parameter values bound
// to the same handler.
func routeIdentity(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	if name := route.GetName(); name != "" {
		return name
	}
	if tmpl, err := route.GetPathTemplate(); err == nil && tmpl != "" {
		return tmpl
	}
	return r.URL.Path
}

// storageKey builds the deterministic counter key for one (scope, caller,
// limit) triple. The amount and period are part of the key so counters for
// different limits in one binding never collide; routes enrolled in a
// shared group produce identical keys because their scope is the group name.
func storageKey(prefix, scope, key string, limit Limit) string {
	base := fmt.Sprintf("%s:%s:%d/%d", scope, key, limit.Amount, int64(limit.Period.Seconds()))
	if prefix != "" {
		return prefix + ":" + base
	}
	return base
}
