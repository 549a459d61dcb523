// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package sanitize

import "regexp"

// PatternClass is one entry in the dangerous-pattern blocklist. Every match
// is removed from the input and contributes Score points to the risk score.
type PatternClass struct {
	Name    string
	Pattern *regexp.Regexp
	Score   int
	Reason  string
}

// Risk weights per pattern class sit in the 30-45 band. The exact values are
// load-bearing: the level thresholds (15/40/80/90) are calibrated against
// them, so changing a weight requires re-deriving the threshold table.
var defaultPatterns = []PatternClass{
	{
		Name:    "script_tag",
		Pattern: regexp.MustCompile(`(?i)<\s*script\b[^>]*>(?:[\s\S]*?<\s*/\s*script\s*>)?`),
		Score:   45,
		Reason:  "script tag removed",
	},
	{
		Name:    "script_url",
		Pattern: regexp.MustCompile(`(?i)\b(?:javascript|vbscript)\s*:`),
		Score:   40,
		Reason:  "script URL scheme removed",
	},
	{
		Name:    "data_url",
		Pattern: regexp.MustCompile(`(?i)\bdata\s*:[^\s,;]*;base64,`),
		Score:   35,
		Reason:  "base64 data URL removed",
	},
	{
		Name:    "event_handler",
		Pattern: regexp.MustCompile(`(?i)\bon(?:click|dblclick|load|unload|error|abort|mouse\w+|key\w+|focus|blur|submit|reset|change|input|select|drag\w*|drop|touch\w+|wheel|scroll|resize|animation\w+|transition\w+)\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`),
		Score:   40,
		Reason:  "inline event handler removed",
	},
	{
		Name:    "code_eval",
		Pattern: regexp.MustCompile(`(?i)\b(?:eval|exec|execfile|Function|setTimeout|setInterval)\s*\(`),
		Score:   35,
		Reason:  "code evaluation call removed",
	},
	{
		Name:    "sql_keywords",
		Pattern: regexp.MustCompile(`(?i)\b(?:union\s+(?:all\s+)?select|select\s+[\w*,\s]+?\s+from|insert\s+into|delete\s+from|drop\s+(?:table|database)|update\s+\w+\s+set|truncate\s+table)\b`),
		Score:   40,
		Reason:  "SQL keyword combination removed",
	},
	{
		Name:    "sql_tautology",
		Pattern: regexp.MustCompile(`(?i)'\s*or\s+'?\d+'?\s*=\s*'?\d+`),
		Score:   40,
		Reason:  "SQL tautology removed",
	},
	{
		Name:    "sql_comment",
		Pattern: regexp.MustCompile(`(?:/\*|\*/|;\s*--|--\s)`),
		Score:   30,
		Reason:  "SQL comment sequence removed",
	},
	{
		Name:    "path_traversal",
		Pattern: regexp.MustCompile(`(?i)(?:\.\./|\.\.\\|%2e%2e%2f|%2e%2e%5c|\.\.%2f|\.\.%5c)`),
		Score:   35,
		Reason:  "path traversal sequence removed",
	},
	{
		Name:    "control_chars",
		Pattern: regexp.MustCompile("[\x01-\x08\x0b\x0c\x0e-\x1f\x7f]"),
		Score:   30,
		Reason:  "control characters removed",
	},
}

// DefaultPatterns returns a copy of the built-in blocklist. Callers may
// append to or filter the returned slice without affecting the defaults.
func DefaultPatterns() []PatternClass {
	out := make([]PatternClass, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

// htmlTagPattern detects complete HTML tags. Lone angle brackets ("a < b")
// are left untouched so harmless text survives sanitization byte-for-byte.
var htmlTagPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
