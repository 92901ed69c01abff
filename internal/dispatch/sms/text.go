package sms

import (
	"strings"
	"unicode/utf8"
)

// Clip returns s cut to at most max bytes without splitting a UTF-8 sequence. Invalid
// bytes and NULs are dropped first so the result can be stored in a Postgres text column.
func Clip(s string, max int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
