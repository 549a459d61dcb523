// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package sanitize

import (
	"math"
	"strings"
	"testing"
)

func TestCleanStringPassesUnchanged(t *testing.T) {
	inputs := []string{
		"Hello World",
		"user@example.com",
		"a perfectly ordinary sentence with numbers 123",
		"unicode: héllo wörld",
	}
	for _, in := range inputs {
		r := Sanitize(in, "input")
		if r.RiskScore != 0 {
			t.Errorf("Sanitize(%q) score = %d, want 0", in, r.RiskScore)
		}
		if r.RiskLevel != RiskLow {
			t.Errorf("Sanitize(%q) level = %s, want low", in, r.RiskLevel)
		}
		if r.Sanitized != in {
			t.Errorf("Sanitize(%q) changed value to %q", in, r.Sanitized)
		}
		if len(r.Changes) != 0 {
			t.Errorf("Sanitize(%q) recorded %d changes", in, len(r.Changes))
		}
		if r.Blocked {
			t.Errorf("Sanitize(%q) blocked clean input", in)
		}
	}
}

func TestScriptTagRemoval(t *testing.T) {
	r := Sanitize("Hello <script>alert(1)</script> World", "comment")

	out, _ := r.Sanitized.(string)
	if strings.Contains(out, "<script>") {
		t.Errorf("output still contains <script>: %q", out)
	}
	if !strings.Contains(out, "Hello") || !strings.Contains(out, "World") {
		t.Errorf("benign content lost: %q", out)
	}
	if r.RiskScore <= 40 {
		t.Errorf("score = %d, want > 40", r.RiskScore)
	}
	if r.RiskLevel != RiskMedium && r.RiskLevel != RiskHigh {
		t.Errorf("level = %s, want medium or high", r.RiskLevel)
	}
}

func TestScriptTagAlwaysRemoved(t *testing.T) {
	inputs := []string{
		"<script>x</script>",
		"<SCRIPT src='evil.js'></SCRIPT>",
		"a<script>b</script>c<script>d</script>e",
		"<scr<script>x</script>ipt>alert(1)</scr</script>ipt>",
	}
	for _, in := range inputs {
		r := Sanitize(in, "input")
		out, _ := r.Sanitized.(string)
		if strings.Contains(strings.ToLower(out), "<script") {
			t.Errorf("Sanitize(%q) output still contains script tag: %q", in, out)
		}
		if r.RiskScore <= 40 {
			t.Errorf("Sanitize(%q) score = %d, want > 40", in, r.RiskScore)
		}
	}
}

func TestIdempotence(t *testing.T) {
	inputs := []string{
		"Hello <script>alert(1)</script> World",
		"SELECT name FROM users WHERE id=1",
		"<b>bold</b> and <i>italic</i>",
		"path ../../etc/passwd traversal",
		"clean text",
		"vertical\x00null",
	}
	for _, in := range inputs {
		first := Sanitize(in, "input")
		firstOut, _ := first.Sanitized.(string)

		second := Sanitize(firstOut, "input")
		secondOut, _ := second.Sanitized.(string)

		if secondOut != firstOut {
			t.Errorf("second pass changed %q -> %q", firstOut, secondOut)
		}
		if len(second.Changes) != 0 {
			t.Errorf("second pass over %q recorded %d changes: %+v", firstOut, len(second.Changes), second.Changes)
		}
		if second.RiskScore != 0 {
			t.Errorf("second pass over %q scored %d", firstOut, second.RiskScore)
		}
	}
}

func TestNullByteRemoval(t *testing.T) {
	r := Sanitize("abc\x00def", "input")
	out, _ := r.Sanitized.(string)
	if strings.ContainsRune(out, 0) {
		t.Error("null byte survived sanitization")
	}
	if r.RiskScore != scoreNullByte {
		t.Errorf("score = %d, want %d", r.RiskScore, scoreNullByte)
	}
	if len(r.Changes) != 1 || r.Changes[0].Type != ChangeNullByte {
		t.Errorf("unexpected changes: %+v", r.Changes)
	}
}

func TestTruncation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLength = 10
	r := SanitizeWithOptions(strings.Repeat("a", 50), "input", opts)

	out, _ := r.Sanitized.(string)
	if len(out) != 10 {
		t.Errorf("len = %d, want 10", len(out))
	}
	if r.RiskScore != scoreTruncated {
		t.Errorf("score = %d, want %d", r.RiskScore, scoreTruncated)
	}
	if len(r.Warnings) == 0 {
		t.Error("expected a truncation warning")
	}
}

func TestHTMLStrippedAndScored(t *testing.T) {
	r := Sanitize("hello <b>world</b>", "input")
	out, _ := r.Sanitized.(string)
	if strings.Contains(out, "<b>") {
		t.Errorf("tag survived: %q", out)
	}
	if r.RiskScore != scoreHTML {
		t.Errorf("score = %d, want %d", r.RiskScore, scoreHTML)
	}
}

func TestHTMLEscapeOption(t *testing.T) {
	opts := DefaultOptions()
	opts.EscapeHTML = true
	r := SanitizeWithOptions("<em>x</em>", "input", opts)
	out, _ := r.Sanitized.(string)
	if strings.Contains(out, "<em>") {
		t.Errorf("tag survived escaping: %q", out)
	}
	if !strings.Contains(out, "&lt;") {
		t.Errorf("expected escaped markup, got %q", out)
	}
	if r.RiskScore != scoreHTML {
		t.Errorf("score = %d, want %d", r.RiskScore, scoreHTML)
	}
}

func TestLoneAngleBracketPreserved(t *testing.T) {
	r := Sanitize("a < b and c > d", "input")
	if r.RiskScore != 0 {
		t.Errorf("score = %d, want 0", r.RiskScore)
	}
	if out, _ := r.Sanitized.(string); out != "a < b and c > d" {
		t.Errorf("value changed to %q", out)
	}
}

func TestThreeBlockedPatternsForceCritical(t *testing.T) {
	in := "javascript:void(0) ../../x eval(payload)"
	r := Sanitize(in, "input")

	blocked := 0
	for _, c := range r.Changes {
		if c.Type == ChangeBlockedPattern {
			blocked++
		}
	}
	if blocked < 3 {
		t.Fatalf("expected >= 3 blocked pattern changes, got %d: %+v", blocked, r.Changes)
	}
	if r.RiskLevel != RiskCritical {
		t.Errorf("level = %s, want critical", r.RiskLevel)
	}
}

func TestHighScoreBlocks(t *testing.T) {
	r := Sanitize("<script>a</script><script>b</script><script>c</script>", "input")
	if !r.Blocked {
		t.Errorf("score = %d, expected blocked", r.RiskScore)
	}
	if r.RiskLevel != RiskCritical {
		t.Errorf("level = %s, want critical", r.RiskLevel)
	}
	if r.RiskScore < thresholdBlocked {
		t.Errorf("score = %d, want >= %d", r.RiskScore, thresholdBlocked)
	}
}

func TestScoreClampedTo100(t *testing.T) {
	in := strings.Repeat("<script>x</script> javascript:y ../z ", 5)
	r := Sanitize(in, "input")
	if r.RiskScore > 100 {
		t.Errorf("score = %d, want <= 100", r.RiskScore)
	}
	if !r.Blocked {
		t.Error("heavy attack input should be blocked")
	}
}

func TestSQLInjectionScored(t *testing.T) {
	tests := []string{
		"1 UNION SELECT password FROM users",
		"x'; DROP TABLE accounts; --",
		"' OR '1'='1",
	}
	for _, in := range tests {
		r := Sanitize(in, "query")
		if r.RiskScore < 30 {
			t.Errorf("Sanitize(%q) score = %d, want >= 30", in, r.RiskScore)
		}
	}
}

func TestNumericCoercion(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		score int
		want  float64
	}{
		{"nan", math.NaN(), scoreNonFinite, 0},
		{"positive inf", math.Inf(1), scoreNonFinite, 0},
		{"negative inf", math.Inf(-1), scoreNonFinite, 0},
		{"beyond safe range", float64(1 << 60), scoreNumericClamp, maxSafeInteger},
		{"below safe range", float64(-(1 << 60)), scoreNumericClamp, -maxSafeInteger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Sanitize(tt.in, "n")
			got, ok := r.Sanitized.(float64)
			if !ok {
				t.Fatalf("sanitized value is %T", r.Sanitized)
			}
			if got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
			if r.RiskScore != tt.score {
				t.Errorf("score = %d, want %d", r.RiskScore, tt.score)
			}
		})
	}

	r := Sanitize(42.5, "n")
	if r.RiskScore != 0 || r.Sanitized != 42.5 {
		t.Errorf("ordinary float penalized: score=%d value=%v", r.RiskScore, r.Sanitized)
	}
}

func TestBooleanAndNilPassThrough(t *testing.T) {
	for _, in := range []any{true, false, nil} {
		r := Sanitize(in, "flag")
		if r.RiskScore != 0 || len(r.Changes) != 0 {
			t.Errorf("Sanitize(%v) score=%d changes=%d", in, r.RiskScore, len(r.Changes))
		}
	}
}

func TestNestedStructuresAggregate(t *testing.T) {
	in := map[string]any{
		"name": "alice",
		"bio":  "<script>steal()</script>",
		"tags": []any{"ok", "javascript:alert(1)"},
		"nested": map[string]any{
			"count": math.NaN(),
		},
	}
	r := Sanitize(in, "profile")

	if r.RiskScore < 45+40+scoreNonFinite {
		t.Errorf("aggregate score = %d, want >= %d", r.RiskScore, 45+40+scoreNonFinite)
	}

	out, ok := r.Sanitized.(map[string]any)
	if !ok {
		t.Fatalf("sanitized is %T", r.Sanitized)
	}
	if out["name"] != "alice" {
		t.Errorf("clean sibling modified: %v", out["name"])
	}
	bio, _ := out["bio"].(string)
	if strings.Contains(bio, "script") {
		t.Errorf("bio still dangerous: %q", bio)
	}
	nested, _ := out["nested"].(map[string]any)
	if nested["count"] != float64(0) {
		t.Errorf("NaN not coerced: %v", nested["count"])
	}

	// Field paths identify the nested origin of each change.
	foundNested := false
	for _, c := range r.Changes {
		if c.Field == "profile.nested.count" {
			foundNested = true
		}
	}
	if !foundNested {
		t.Errorf("expected a change at profile.nested.count, got %+v", r.Changes)
	}
}

func TestDepthLimit(t *testing.T) {
	// Build a structure deeper than maxDepth.
	inner := any("leaf")
	for i := 0; i < maxDepth+5; i++ {
		inner = map[string]any{"d": inner}
	}
	r := Sanitize(inner, "deep")

	limited := false
	for _, c := range r.Changes {
		if c.Type == ChangeDepthLimited {
			limited = true
		}
	}
	if !limited {
		t.Error("expected depth limiting change")
	}
	if r.RiskScore == 0 {
		t.Error("depth limiting should be scored")
	}
}

func TestWhitespaceNormalizationUnscored(t *testing.T) {
	r := Sanitize("  hello \t world\n", "input")
	if out, _ := r.Sanitized.(string); out != "hello world" {
		t.Errorf("normalized to %q", out)
	}
	if r.RiskScore != 0 || len(r.Changes) != 0 {
		t.Errorf("whitespace normalization scored: score=%d changes=%d", r.RiskScore, len(r.Changes))
	}
}

func TestSetDefaults(t *testing.T) {
	t.Cleanup(func() { SetDefaults(10000, false) })

	SetDefaults(5, false)
	r := Sanitize("abcdefghij", "input")
	if out, _ := r.Sanitized.(string); out != "abcde" {
		t.Errorf("truncated to %q", out)
	}

	SetDefaults(10000, true)
	r = Sanitize("a <b>bold</b> claim", "input")
	escaped := false
	for _, c := range r.Changes {
		if c.Type == ChangeHTMLEscaped {
			escaped = true
		}
	}
	if !escaped {
		t.Error("expected HTML escape change")
	}
	if out, _ := r.Sanitized.(string); strings.Contains(out, "<b>") {
		t.Errorf("markup not escaped: %q", out)
	}
}
