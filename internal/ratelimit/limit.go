// Package ratelimit implements the request-admission control engine: limit
// expression parsing, key and scope resolution, route bindings, multi-limit
// evaluation against a counting backend, and quota header annotation.
package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"rategate/internal/common/errors"
)

// Limit is a single parsed rate limit: Amount hits per Period.
// Immutable once parsed.
type Limit struct {
	Amount int64
	Period time.Duration
}

// String renders the limit in its canonical expression form.
func (l Limit) String() string {
	return fmt.Sprintf("%d per %s", l.Amount, l.Period)
}

// IsZero reports whether the limit carries no value.
func (l Limit) IsZero() bool {
	return l.Amount == 0 && l.Period == 0
}

var periodUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// Accepts "10/minute", "10 per minute" and the multiplied form "10/2 seconds".
var limitPattern = regexp.MustCompile(
	`(?i)^\s*(\d+)\s*(?:/|per)\s*(\d+\s+)?(second|minute|hour|day|month|year)s?\s*$`)

// ParseLimit parses a single limit clause.
func ParseLimit(expr string) (Limit, error) {
	m := limitPattern.FindStringSubmatch(expr)
	if m == nil {
		return Limit{}, errors.ConfigErrorf("malformed limit expression: %q", expr)
	}

	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || amount <= 0 {
		return Limit{}, errors.ConfigErrorf("limit amount must be a positive integer: %q", expr)
	}

	multiplier := int64(1)
	if m[2] != "" {
		multiplier, err = strconv.ParseInt(strings.TrimSpace(m[2]), 10, 64)
		if err != nil || multiplier <= 0 {
			return Limit{}, errors.ConfigErrorf("period multiplier must be a positive integer: %q", expr)
		}
	}

	period := periodUnits[strings.ToLower(m[3])]

	return Limit{
		Amount: amount,
		Period: time.Duration(multiplier) * period,
	}, nil
}

// ParseLimits parses a limit expression containing one or more clauses
// separated by ";" or ",". Declaration order is preserved: the returned
// slice is evaluated left to right.
func ParseLimits(expr string) ([]Limit, error) {
	clauses := strings.FieldsFunc(expr, func(r rune) bool {
		return r == ';' || r == ','
	})
	if len(clauses) == 0 {
		return nil, errors.ConfigErrorf("empty limit expression")
	}

	limits := make([]Limit, 0, len(clauses))
	for _, clause := range clauses {
		limit, err := ParseLimit(clause)
		if err != nil {
			return nil, err
		}
		limits = append(limits, limit)
	}

	return limits, nil
}

// MustParseLimits is ParseLimits for statically known expressions; it
// panics on error. Intended for route registration in main.
func MustParseLimits(expr string) []Limit {
	limits, err := ParseLimits(expr)
	if err != nil {
		panic(err)
	}
	return limits
}
