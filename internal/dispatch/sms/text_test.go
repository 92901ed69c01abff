package sms

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClip(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "deer", 10, "deer"},
		{"exact", "deer", 4, "deer"},
		{"ascii cut", "deer spotted", 4, "deer"},
		{"cut inside two-byte rune", "xé", 2, "x"},
		{"cut inside three-byte rune", "ab鹿", 4, "ab"},
		{"cut after rune", "ab鹿c", 5, "ab鹿"},
		{"invalid bytes dropped", "ok\xff\xfe!", 10, "ok!"},
		{"nul dropped", "a\x00b", 10, "ab"},
		{"zero max", "deer", 0, ""},
		{"negative max", "deer", -1, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Clip(tc.in, tc.max)
			if got != tc.want {
				t.Errorf("Clip(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}

func TestClip_LongMultibyteBody(t *testing.T) {
	body := "x" + strings.Repeat("é", 300)
	got := Clip(body, 256)
	if len(got) > 256 || !utf8.ValidString(got) {
		t.Errorf("len = %d, valid = %v", len(got), utf8.ValidString(got))
	}
	if len(got) != 255 {
		t.Errorf("len = %d, want 255 (x plus 127 whole runes)", len(got))
	}
}
