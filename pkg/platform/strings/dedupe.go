// Package strings holds small slice and string helpers shared by request
// normalization and approver resolution.
package strings

import "strings"

// Dedupe drops repeated values, keeping the first occurrence of each.
// A nil input stays nil.
func Dedupe[T comparable](values []T) []T {
	if values == nil {
		return nil
	}
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// DedupeAndTrim trims each value, drops blanks and removes duplicates while
// preserving order.
//
//	DedupeAndTrim([]string{"  a ", "b", "a", " "}) // []string{"a", "b"}
func DedupeAndTrim(values []string) []string {
	if values == nil {
		return nil
	}
	trimmed := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			trimmed = append(trimmed, v)
		}
	}
	return Dedupe(trimmed)
}

// TrimSpacePtr trims an optional string, keeping nil as nil.
func TrimSpacePtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
