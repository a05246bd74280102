package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate uppercases raw and strips everything outside the
// allowed character set. Characters listed in separators are kept but
// consecutive runs collapse to a single occurrence, and leading or
// trailing separators are trimmed.
func NormalizePlate(raw string, separators string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastSep := true // swallow leading separators
	for _, r := range strings.ToUpper(raw) {
		switch {
		case unicode.IsUpper(r) && r <= unicode.MaxASCII, unicode.IsDigit(r) && r <= unicode.MaxASCII:
			b.WriteRune(r)
			lastSep = false
		case strings.ContainsRune(separators, r):
			if !lastSep {
				b.WriteRune(r)
				lastSep = true
			}
		}
	}
	return strings.TrimRight(b.String(), separators)
}

// Similarity returns a normalized edit-distance score in [0,1], where
// 1 means identical. Two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(LevenshteinDistance(a, b))/float64(longest)
}

// LevenshteinDistance computes the edit distance between two strings
// using a two-row dynamic programming table.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
