// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package sanitize

import (
	"net/url"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bastionsec/bastion/internal/validation"
)

// Preset names a field-specific sanitization profile: the general sanitizer
// composed with narrower options and a post-check.
type Preset string

const (
	PresetDisplay  Preset = "display"
	PresetSearch   Preset = "search"
	PresetEmail    Preset = "email"
	PresetURL      Preset = "url"
	PresetFilename Preset = "filename"
	PresetJSON     Preset = "json"
)

// RFC 5321 length limits.
const (
	emailMaxTotal  = 254
	emailMaxLocal  = 64
	emailMaxDomain = 255
)

// Windows device names are rejected as filenames regardless of extension.
var reservedFilenames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {},
	".pif": {}, ".msi": {}, ".ps1": {}, ".vbs": {}, ".vbe": {}, ".js": {},
	".jse": {}, ".wsf": {}, ".wsh": {}, ".jar": {}, ".sh": {}, ".php": {},
	".cgi": {}, ".hta": {},
}

// presetOptions returns the sanitizer options for a preset.
func presetOptions(p Preset) Options {
	opts := DefaultOptions()
	switch p {
	case PresetSearch:
		opts.MaxLength = 256
	case PresetEmail:
		opts.MaxLength = 320
	case PresetURL:
		opts.MaxLength = 2048
		opts.CollapseWhitespace = false
	case PresetFilename:
		opts.MaxLength = 255
		opts.CollapseWhitespace = false
	case PresetJSON:
		opts.MaxLength = 0 // nested values are length-limited individually
	}
	return opts
}

// SanitizeField sanitizes value under the named preset. Unknown presets
// fall back to the display profile.
func SanitizeField(value any, field string, preset Preset) *Result {
	if preset == PresetJSON {
		return sanitizeJSONField(value, field)
	}

	r := SanitizeWithOptions(value, field, presetOptions(preset))
	switch preset {
	case PresetEmail:
		postCheckEmail(r)
	case PresetURL:
		postCheckURL(r)
	case PresetFilename:
		postCheckFilename(r)
	}
	return r
}

func postCheckEmail(r *Result) {
	s, ok := r.Sanitized.(string)
	if !ok {
		r.Errors = append(r.Errors, "email must be a string")
		return
	}
	s = strings.ToLower(strings.TrimSpace(s))
	r.Sanitized = s

	if err := validation.Var(s, "required,email"); err != nil {
		r.Errors = append(r.Errors, "invalid email address")
		return
	}
	if len(s) > emailMaxTotal {
		r.Errors = append(r.Errors, "email exceeds maximum length")
		return
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		r.Errors = append(r.Errors, "invalid email address")
		return
	}
	if len(s[:at]) > emailMaxLocal || len(s[at+1:]) > emailMaxDomain {
		r.Errors = append(r.Errors, "email local part or domain exceeds maximum length")
	}
}

func postCheckURL(r *Result) {
	s, ok := r.Sanitized.(string)
	if !ok {
		r.Errors = append(r.Errors, "url must be a string")
		return
	}
	s = strings.TrimSpace(s)
	r.Sanitized = s

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		r.Errors = append(r.Errors, "invalid URL")
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		r.Errors = append(r.Errors, "URL scheme must be http or https")
	}
}

func postCheckFilename(r *Result) {
	s, ok := r.Sanitized.(string)
	if !ok {
		r.Errors = append(r.Errors, "filename must be a string")
		return
	}
	s = strings.TrimSpace(s)
	r.Sanitized = s

	if s == "" || s == "." || s == ".." {
		r.Errors = append(r.Errors, "invalid filename")
		return
	}
	if strings.ContainsAny(s, `/\`) {
		r.Errors = append(r.Errors, "filename must not contain path separators")
		return
	}

	base := strings.ToUpper(strings.TrimSuffix(s, path.Ext(s)))
	if _, reserved := reservedFilenames[base]; reserved {
		r.Errors = append(r.Errors, "filename is a reserved device name")
	}
	if _, dangerous := dangerousExtensions[strings.ToLower(path.Ext(s))]; dangerous {
		r.Errors = append(r.Errors, "filename has a dangerous extension")
	}
}

// sanitizeJSONField parses a JSON document, sanitizes the decoded structure
// recursively and returns the sanitized structure as the result value.
func sanitizeJSONField(value any, field string) *Result {
	s, ok := value.(string)
	if !ok {
		// Already-decoded structures are sanitized directly.
		return SanitizeWithOptions(value, field, DefaultOptions())
	}

	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		r := &Result{Original: value, Sanitized: nil, RiskLevel: RiskLow}
		r.Errors = append(r.Errors, "invalid JSON document")
		return r
	}
	return SanitizeWithOptions(decoded, field, DefaultOptions())
}
