package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"uppercase", "abc-1234", "ABC-1234"},
		{"strip specials", "AB*C@1234!", "ABC1234"},
		{"collapse separators", "AB--12  34", "AB-12 34"},
		{"trim separators", "-ABC123-", "ABC123"},
		{"whitespace only", "   ", ""},
		{"empty", "", ""},
		{"unicode stripped", "ÄBC①234", "BC234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePlate(tt.raw, "- "))
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, LevenshteinDistance("ABC1234", "ABC1234"))
	assert.Equal(t, 1, LevenshteinDistance("ABC1234", "ABC1235"))
	assert.Equal(t, 1, LevenshteinDistance("ABC123", "ABC1234"))
	assert.Equal(t, 7, LevenshteinDistance("", "ABC1234"))
	assert.Equal(t, 3, LevenshteinDistance("KITTEN", "SITTING"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("ABC-1234", "ABC-1234"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.InDelta(t, 0.875, Similarity("ABC-1234", "ABC-1235"), 1e-9)
	assert.Less(t, Similarity("ABC-1234", "XYZ-9876"), 0.5)
}
