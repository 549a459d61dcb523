// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

// Package sanitize cleans untrusted input and produces a 0-100 risk score.
//
// Strings are stripped of null bytes, dangerous patterns (script tags,
// script URLs, inline event handlers, code evaluation calls, SQL keyword
// combinations, path traversal, control characters), HTML markup, and are
// length-limited. Objects and arrays recurse into every key, value and
// element and aggregate child results. Sanitization is idempotent: a second
// pass over sanitized output records no new changes.
package sanitize

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// RiskLevel buckets a risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk score weights and thresholds. Load-bearing: tests and the blocking
// contract depend on these exact values.
const (
	scoreNullByte       = 20
	scoreTruncated      = 10
	scoreHTML           = 25
	scoreNumericClamp   = 10
	scoreNonFinite      = 15
	scoreDepthLimit     = 30
	multiPatternBonus   = 20
	multiPatternMinimum = 3

	thresholdMedium   = 15
	thresholdHigh     = 40
	thresholdCritical = 80
	thresholdBlocked  = 90
)

// maxSafeInteger is the largest integer exactly representable as a float64.
const maxSafeInteger = 1<<53 - 1

// maxDepth bounds recursion into nested objects and arrays.
const maxDepth = 32

// ChangeType categorizes a recorded sanitization change.
type ChangeType string

const (
	ChangeNullByte       ChangeType = "null_byte_removed"
	ChangeBlockedPattern ChangeType = "blocked_pattern"
	ChangeHTMLStripped   ChangeType = "html_stripped"
	ChangeHTMLEscaped    ChangeType = "html_escaped"
	ChangeTruncated      ChangeType = "truncated"
	ChangeNumericCoerced ChangeType = "numeric_coerced"
	ChangeDepthLimited   ChangeType = "depth_limited"
)

// Change records one modification made during sanitization.
type Change struct {
	Type      ChangeType `json:"type"`
	Field     string     `json:"field"`
	Original  string     `json:"original,omitempty"`
	Sanitized string     `json:"sanitized,omitempty"`
	Reason    string     `json:"reason"`
}

// Result is the outcome of sanitizing a single input value.
type Result struct {
	Sanitized any       `json:"sanitized"`
	Original  any       `json:"-"`
	Changes   []Change  `json:"changes,omitempty"`
	RiskLevel RiskLevel `json:"risk_level"`
	RiskScore int       `json:"risk_score"`
	Warnings  []string  `json:"warnings,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	Blocked   bool      `json:"blocked"`
}

// Options controls sanitization behavior.
type Options struct {
	// MaxLength truncates strings longer than this many runes. 0 disables.
	MaxLength int

	// AllowHTML leaves HTML markup in place. Dangerous patterns are still
	// removed.
	AllowHTML bool

	// EscapeHTML escapes markup instead of stripping it. Only consulted
	// when AllowHTML is false.
	EscapeHTML bool

	// CollapseWhitespace folds runs of whitespace into single spaces.
	CollapseWhitespace bool

	// TrimWhitespace trims leading and trailing whitespace.
	TrimWhitespace bool

	// Patterns is the dangerous-pattern blocklist. Nil means DefaultPatterns.
	Patterns []PatternClass
}

var (
	defaultsMu        sync.RWMutex
	defaultMaxLength  = 10000
	defaultEscapeHTML = false
)

// SetDefaults adjusts the baseline MaxLength and EscapeHTML applied by
// Sanitize and the presets. Intended to be called once at startup, before
// serving traffic.
func SetDefaults(maxLength int, escapeHTML bool) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if maxLength > 0 {
		defaultMaxLength = maxLength
	}
	defaultEscapeHTML = escapeHTML
}

// DefaultOptions returns the options used by Sanitize.
func DefaultOptions() Options {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	return Options{
		MaxLength:          defaultMaxLength,
		AllowHTML:          false,
		EscapeHTML:         defaultEscapeHTML,
		CollapseWhitespace: true,
		TrimWhitespace:     true,
		Patterns:           DefaultPatterns(),
	}
}

// strictHTMLPolicy strips all markup. Safe for concurrent use.
var strictHTMLPolicy = bluemonday.StrictPolicy()

var whitespaceRun = regexp.MustCompile(`[ \t\r\n\f]+`)

// Sanitize cleans value with default options. field names the input in
// recorded changes; nested keys and indices are appended to it.
func Sanitize(value any, field string) *Result {
	return SanitizeWithOptions(value, field, DefaultOptions())
}

// SanitizeWithOptions cleans value with explicit options.
func SanitizeWithOptions(value any, field string, opts Options) *Result {
	if opts.Patterns == nil {
		opts.Patterns = DefaultPatterns()
	}

	r := &Result{Original: value}
	r.Sanitized = sanitizeValue(value, field, opts, 0, r)
	finalize(r)
	return r
}

// finalize clamps the score, applies the repeated-pattern rule and derives
// the risk level and blocked flag.
func finalize(r *Result) {
	blockedPatterns := 0
	for _, c := range r.Changes {
		if c.Type == ChangeBlockedPattern {
			blockedPatterns++
		}
	}

	forceCritical := blockedPatterns >= multiPatternMinimum
	if forceCritical {
		r.RiskScore += multiPatternBonus
	}
	if r.RiskScore > 100 {
		r.RiskScore = 100
	}
	if r.RiskScore < 0 {
		r.RiskScore = 0
	}

	switch {
	case forceCritical || r.RiskScore >= thresholdCritical:
		r.RiskLevel = RiskCritical
	case r.RiskScore >= thresholdHigh:
		r.RiskLevel = RiskHigh
	case r.RiskScore >= thresholdMedium:
		r.RiskLevel = RiskMedium
	default:
		r.RiskLevel = RiskLow
	}

	if r.RiskScore >= thresholdBlocked {
		r.Blocked = true
	}
}

// sanitizeValue dispatches on the dynamic type of value, accumulating
// changes, warnings and score into r, and returns the sanitized value.
func sanitizeValue(value any, field string, opts Options, depth int, r *Result) any {
	if depth > maxDepth {
		r.Changes = append(r.Changes, Change{
			Type:   ChangeDepthLimited,
			Field:  field,
			Reason: "maximum nesting depth exceeded",
		})
		r.RiskScore += scoreDepthLimit
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s: nesting deeper than %d levels discarded", field, maxDepth))
		return nil
	}

	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return v
	case string:
		return sanitizeString(v, field, opts, r)
	case float64:
		return sanitizeFloat(v, field, r)
	case float32:
		return sanitizeFloat(float64(v), field, r)
	case int:
		return v
	case int32:
		return v
	case int64:
		return sanitizeInt64(v, field, r)
	case uint64:
		if v > uint64(maxSafeInteger) {
			return sanitizeInt64(math.MaxInt64, field, r)
		}
		return v
	case map[string]any:
		return sanitizeMap(v, field, opts, depth, r)
	case []any:
		return sanitizeSlice(v, field, opts, depth, r)
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = sanitizeValue(s, fmt.Sprintf("%s[%d]", field, i), opts, depth+1, r)
		}
		return out
	default:
		// Unknown scalar kinds pass through unscored.
		return v
	}
}

func sanitizeMap(m map[string]any, field string, opts Options, depth int, r *Result) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		cleanKey, _ := sanitizeValue(k, field+".(key)", opts, depth+1, r).(string)
		if cleanKey == "" {
			// A key sanitized to nothing would silently drop the value.
			cleanKey = k
		}
		childField := field + "." + cleanKey
		if field == "" {
			childField = cleanKey
		}
		out[cleanKey] = sanitizeValue(v, childField, opts, depth+1, r)
	}
	return out
}

func sanitizeSlice(s []any, field string, opts Options, depth int, r *Result) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = sanitizeValue(v, fmt.Sprintf("%s[%d]", field, i), opts, depth+1, r)
	}
	return out
}

func sanitizeFloat(v float64, field string, r *Result) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		r.Changes = append(r.Changes, Change{
			Type:      ChangeNumericCoerced,
			Field:     field,
			Original:  fmt.Sprint(v),
			Sanitized: "0",
			Reason:    "non-finite number coerced to 0",
		})
		r.RiskScore += scoreNonFinite
		r.Warnings = append(r.Warnings, field+": non-finite number coerced to 0")
		return 0
	}
	if v > maxSafeInteger || v < -maxSafeInteger {
		clamped := math.Copysign(maxSafeInteger, v)
		r.Changes = append(r.Changes, Change{
			Type:      ChangeNumericCoerced,
			Field:     field,
			Original:  fmt.Sprint(v),
			Sanitized: fmt.Sprint(clamped),
			Reason:    "value outside safe integer range clamped",
		})
		r.RiskScore += scoreNumericClamp
		return clamped
	}
	return v
}

func sanitizeInt64(v int64, field string, r *Result) int64 {
	if v > maxSafeInteger || v < -maxSafeInteger {
		clamped := int64(maxSafeInteger)
		if v < 0 {
			clamped = -clamped
		}
		r.Changes = append(r.Changes, Change{
			Type:      ChangeNumericCoerced,
			Field:     field,
			Original:  fmt.Sprint(v),
			Sanitized: fmt.Sprint(clamped),
			Reason:    "value outside safe integer range clamped",
		})
		r.RiskScore += scoreNumericClamp
		return clamped
	}
	return v
}

func sanitizeString(s, field string, opts Options, r *Result) string {
	// Null bytes first; they defeat downstream string handling.
	if strings.ContainsRune(s, 0) {
		cleaned := strings.ReplaceAll(s, "\x00", "")
		r.Changes = append(r.Changes, Change{
			Type:      ChangeNullByte,
			Field:     field,
			Original:  s,
			Sanitized: cleaned,
			Reason:    "null bytes removed",
		})
		r.RiskScore += scoreNullByte
		s = cleaned
	}

	s = removeBlockedPatterns(s, field, opts.Patterns, r)

	if !opts.AllowHTML && htmlTagPattern.MatchString(s) {
		var cleaned string
		var change Change
		if opts.EscapeHTML {
			cleaned = html.EscapeString(s)
			change = Change{Type: ChangeHTMLEscaped, Field: field, Original: s, Sanitized: cleaned, Reason: "HTML markup escaped"}
		} else {
			cleaned = strictHTMLPolicy.Sanitize(s)
			change = Change{Type: ChangeHTMLStripped, Field: field, Original: s, Sanitized: cleaned, Reason: "HTML markup stripped"}
		}
		if cleaned != s {
			r.Changes = append(r.Changes, change)
			r.RiskScore += scoreHTML
			s = cleaned
		}
	}

	// Whitespace normalization is not recorded as a change; idempotent
	// cosmetic cleanup must not affect the risk score.
	if opts.CollapseWhitespace {
		s = whitespaceRun.ReplaceAllString(s, " ")
	}
	if opts.TrimWhitespace {
		s = strings.TrimSpace(s)
	}

	if opts.MaxLength > 0 {
		runes := []rune(s)
		if len(runes) > opts.MaxLength {
			truncated := string(runes[:opts.MaxLength])
			r.Changes = append(r.Changes, Change{
				Type:      ChangeTruncated,
				Field:     field,
				Sanitized: truncated,
				Reason:    fmt.Sprintf("truncated to %d characters", opts.MaxLength),
			})
			r.RiskScore += scoreTruncated
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: input truncated to %d characters", field, opts.MaxLength))
			s = truncated
		}
	}

	return s
}

// removeBlockedPatterns strips every blocklist match, scoring each removal.
// Passes repeat until a full sweep makes no replacement, so split-token
// evasion ("<scr<script>ipt>") cannot reassemble a dangerous pattern.
func removeBlockedPatterns(s, field string, patterns []PatternClass, r *Result) string {
	const maxPasses = 10
	for pass := 0; pass < maxPasses; pass++ {
		modified := false
		for i := range patterns {
			pc := &patterns[i]
			matches := pc.Pattern.FindAllString(s, -1)
			if len(matches) == 0 {
				continue
			}
			for _, m := range matches {
				r.Changes = append(r.Changes, Change{
					Type:     ChangeBlockedPattern,
					Field:    field,
					Original: m,
					Reason:   pc.Reason,
				})
				r.RiskScore += pc.Score
			}
			s = pc.Pattern.ReplaceAllString(s, "")
			modified = true
		}
		if !modified {
			break
		}
	}
	return s
}
