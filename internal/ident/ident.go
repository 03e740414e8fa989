// Package ident turns free-form column headers into identifiers that every
// storage backend accepts unquoted.
package ident

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold removes diacritics ("Zürich" → "Zurich", "Ústí" → "Usti").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Snake converts s to a lower snake_case identifier made of [a-z0-9_]:
//
//	"RecordID"      → "record_id"
//	"Start Date"    → "start_date"
//	"Školení (h)"   → "skoleni_h"
//	"2024 total"    → "_2024_total"
//
// Empty input (or input with no letters or digits) yields "col".
func Snake(s string) string {
	rs := []rune(Fold(strings.TrimSpace(s)))

	var b strings.Builder
	b.Grow(len(rs) + 4)
	pendingSep := false
	for i, r := range rs {
		switch {
		case unicode.IsUpper(r):
			// Break before an upper that starts a word: aB → a_b, ABc → a_bc.
			if i > 0 && b.Len() > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					pendingSep = true
				}
			}
			fallthrough
		case unicode.IsLower(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			r = unicode.ToLower(r)
			if r < 128 {
				b.WriteRune(r)
			} else {
				pendingSep = b.Len() > 0
			}
		default:
			pendingSep = b.Len() > 0
		}
	}

	out := b.String()
	if out == "" {
		return "col"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// Unique maps names through Snake and disambiguates collisions with a
// numeric suffix ("a", "a_2", "a_3"). The result is aligned with names.
func Unique(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		base := Snake(n)
		id := base
		for k := 2; used[id]; k++ {
			id = base + "_" + strconv.Itoa(k)
		}
		used[id] = true
		out[i] = id
	}
	return out
}
