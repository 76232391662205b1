package core

import (
	"strings"
	"unicode"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CollapseSpaces trims `s` and replaces every inner run of whitespace with a single space.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DigitsOnly drops every non-digit rune of `s` and truncates the result to `max` digits (max <= 0: no limit).
// It mirrors numeric form inputs which silently refuse extra characters.
func DigitsOnly(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			continue
		}
		if max > 0 && b.Len() >= max {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
