// Bastion - Security Monitoring and Automated Response
// Copyright 2026 Bastion Security Project
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bastionsec/bastion

package rules

import (
	"strings"

	"github.com/bastionsec/bastion/internal/event"
)

// resolvePath looks up a dotted field path in a security event. Top-level
// fields are addressed by their JSON names; "metadata.a.b" walks nested
// metadata maps. The second return is false when the path does not exist.
func resolvePath(evt *event.SecurityEvent, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")

	switch head {
	case "id":
		return evt.ID, !nested
	case "type":
		return string(evt.Type), !nested
	case "level":
		return string(evt.Level), !nested
	case "source":
		return evt.Source, !nested
	case "user_id":
		return evt.UserID, !nested
	case "description":
		return evt.Description, !nested
	case "resolved":
		return evt.Resolved, !nested
	case "metadata":
		if !nested {
			return evt.Metadata, true
		}
		return walkMap(evt.Metadata, rest)
	default:
		return nil, false
	}
}

func walkMap(m map[string]any, path string) (any, bool) {
	for {
		if m == nil {
			return nil, false
		}
		head, rest, nested := strings.Cut(path, ".")
		v, ok := m[head]
		if !ok {
			return nil, false
		}
		if !nested {
			return v, true
		}
		child, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		m = child
		path = rest
	}
}
