package ratelimit

import (
	"math"
	"net/http"
	"strconv"

	"rategate/internal/common/logging"
)

// HeaderConfig holds the quota header names. All fields default to the
// conventional X-RateLimit names.
type HeaderConfig struct {
	Limit      string `json:"limit"`
	Remaining  string `json:"remaining"`
	Reset      string `json:"reset"`
	RetryAfter string `json:"retry_after"`
}

// DefaultHeaderConfig returns the conventional header names.
func DefaultHeaderConfig() HeaderConfig {
	return HeaderConfig{
		Limit:      "X-RateLimit-Limit",
		Remaining:  "X-RateLimit-Remaining",
		Reset:      "X-RateLimit-Reset",
		RetryAfter: "Retry-After",
	}
}

// HeaderAnnotator translates a Decision into quota headers on a response.
type HeaderAnnotator struct {
	config  HeaderConfig
	enabled bool
}

// NewHeaderAnnotator creates an annotator. Zero-valued header names in the
// config fall back to the defaults.
func NewHeaderAnnotator(config HeaderConfig, enabled bool) *HeaderAnnotator {
	defaults := DefaultHeaderConfig()
	if config.Limit == "" {
		config.Limit = defaults.Limit
	}
	if config.Remaining == "" {
		config.Remaining = defaults.Remaining
	}
	if config.Reset == "" {
		config.Reset = defaults.Reset
	}
	if config.RetryAfter == "" {
		config.RetryAfter = defaults.RetryAfter
	}

	return &HeaderAnnotator{
		config:  config,
		enabled: enabled,
	}
}

// Annotate writes the decision's quota metadata into h: limit amount,
// remaining, and reset time always; retry-after only on denial. A nil
// header sink is reported, never fatal, so the decision still reaches the
// caller.
func (a *HeaderAnnotator) Annotate(h http.Header, d Decision) {
	if !a.enabled || d.Bypassed() {
		return
	}
	if h == nil {
		logging.Warn("no response header sink available, skipping quota headers")
		return
	}

	h.Set(a.config.Limit, strconv.FormatInt(d.Limit.Amount, 10))
	h.Set(a.config.Remaining, strconv.FormatInt(d.Remaining, 10))
	h.Set(a.config.Reset, strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		// round up so the caller never retries inside the window
		seconds := int64(math.Ceil(d.RetryAfter.Seconds()))
		if seconds < 0 {
			seconds = 0
		}
		h.Set(a.config.RetryAfter, strconv.FormatInt(seconds, 10))
	}
}
