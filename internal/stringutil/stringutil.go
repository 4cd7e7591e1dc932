// Package stringutil converts between the naming styles used for Go fields,
// database columns, config keys and page labels.
package stringutil

import (
	"strings"
	"unicode"
)

// PascalToSnake turns a Go field name into a column or config key name, so
// VideoURLBase becomes video_url_base.
func PascalToSnake(s string) string {
	rs := []rune(s)

	var b strings.Builder
	b.Grow(len(s) + 4)

	for i, r := range rs {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}

		if i > 0 && (unicode.IsLower(rs[i-1]) || unicode.IsLower(runeAt(rs, i+1))) {
			b.WriteByte('_')
		}

		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}

// PascalToTitle turns a Go field name into a label, so DisplayName becomes
// Display Name.
func PascalToTitle(s string) string {
	rs := []rune(s)

	var b strings.Builder
	b.Grow(len(s) + 4)

	var last rune
	for i, r := range rs {
		next := runeAt(rs, i+1)

		switch {
		case i == 0 || last == ' ' || last == '_' || unicode.IsDigit(last):
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r) && (next == 0 || unicode.IsLower(next)):
			b.WriteRune(r)
		case next != 0 && (unicode.IsLower(r) || unicode.IsDigit(r)) && (unicode.IsUpper(next) || next == '_'):
			b.WriteRune(r)
			b.WriteRune(' ')
		default:
			b.WriteRune(unicode.ToLower(r))
		}

		last = r
	}

	return b.String()
}

func runeAt(rs []rune, i int) rune {
	if i < 0 || i >= len(rs) {
		return 0
	}

	return rs[i]
}

// LooksTrue is how boolean settings are read from the environment.
func LooksTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on", "enabled", "enable":
		return true
	default:
		return false
	}
}
