// Package richtext extracts plain text from rich-text node trees.
//
// A node is a JSON object that may hold a "text" string and a "content"
// array of child nodes. Extraction is a depth-first concatenation of every
// text leaf in document order; no separators are inserted.
package richtext

import (
	"encoding/json"
	"strings"
)

// Extract returns the plain text of a decoded node tree.
// Nil or malformed input yields the empty string; a raw string is returned as-is.
func Extract(node any) string {
	var sb strings.Builder
	walk(&sb, node)
	return sb.String()
}

func walk(sb *strings.Builder, node any) {
	switch n := node.(type) {
	case nil:
	case string:
		sb.WriteString(n)
	case map[string]any:
		if text, ok := n["text"].(string); ok {
			sb.WriteString(text)
		}
		if children, ok := n["content"].([]any); ok {
			for _, child := range children {
				walkNode(sb, child)
			}
		}
	case []any:
		for _, child := range n {
			walkNode(sb, child)
		}
	}
}

// walkNode descends into child nodes only. Bare strings inside a content
// array are not text leaves.
func walkNode(sb *strings.Builder, node any) {
	if _, ok := node.(string); ok {
		return
	}
	walk(sb, node)
}

// Parse decodes a JSON-encoded node tree and extracts its text.
// It reports false when raw is not valid JSON.
func Parse(raw string) (string, bool) {
	var node any
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return "", false
	}
	// Rich text is sometimes stored double-encoded as a JSON string.
	if s, ok := node.(string); ok {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			if text, ok := Parse(trimmed); ok {
				return text, true
			}
		}
		return s, true
	}
	return Extract(node), true
}

// FromJSON extracts text from a stored rich-text column.
// Empty, null and undecodable values yield the empty string.
func FromJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	text, ok := Parse(string(raw))
	if !ok {
		return ""
	}
	return text
}

// Join concatenates non-blank parts with single spaces.
func Join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
