// Package editor is the admin-side editing surface: dotted-path access into
// a content mapping, per-admin draft buffers and section saves.
package editor

import (
	"strconv"
	"strings"
)

// GetPath walks a dotted path ("hero.title") and returns the value found
// there as text. Missing segments and non-scalar leaves give "".
func GetPath(m map[string]any, path string) string {
	if path == "" {
		return ""
	}
	var node any = m
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(node, segment)
		if !ok {
			return ""
		}
		node = next
	}
	return scalarText(node)
}

// SetPath returns a copy of m with value written at path. Every map or slice
// on the path is copied, missing or non-container intermediates are replaced
// by new maps, and m itself is never modified. Containers off the path are
// shared with m.
func SetPath(m map[string]any, path, value string) map[string]any {
	if path == "" {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return setNode(m, strings.Split(path, "."), value).(map[string]any)
}

func child(node any, segment string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[segment]
		return v, ok
	case []any:
		i, err := strconv.Atoi(segment)
		if err != nil || i < 0 || i >= len(n) {
			return nil, false
		}
		return n[i], true
	default:
		return nil, false
	}
}

func setNode(node any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}
	head, rest := segments[0], segments[1:]

	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n)+1)
		for k, v := range n {
			out[k] = v
		}
		out[head] = setNode(n[head], rest, value)
		return out
	case []any:
		if i, err := strconv.Atoi(head); err == nil && i >= 0 && i < len(n) {
			out := make([]any, len(n))
			copy(out, n)
			out[i] = setNode(n[i], rest, value)
			return out
		}
	}
	return map[string]any{head: setNode(nil, rest, value)}
}

func scalarText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// Section is the top-level key a path belongs to.
func Section(path string) string {
	section, _, _ := strings.Cut(path, ".")
	return section
}
