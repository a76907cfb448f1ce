package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"upload", "upload", 0},
		{"kitten", "sitting", 3},
		{"auth-sigin", "auth-signin", 1},
		{"admn", "admin", 1},
		{"café", "cafe", 1},
	}

	for _, tt := range tests {
		t.Run(tt.s1+"_"+tt.s2, func(t *testing.T) {
			assert.Equal(t, tt.want, LevenshteinDistance(tt.s1, tt.s2))
		})
	}
}

func TestFindSimilar(t *testing.T) {
	categories := []string{"auth-signin", "auth-signup", "password-reset", "api-general", "admin", "upload"}

	tests := []struct {
		name   string
		target string
		opts   *FuzzyMatchOptions
		want   []string
	}{
		{"exact", "upload", nil, []string{"upload"}},
		{"typo", "admn", nil, []string{"admin"}},
		{"closest first", "auth-signupp", nil, []string{"auth-signup", "auth-signin"}},
		{"case insensitive", "ADMIN", nil, []string{"admin"}},
		{"case sensitive", "ADMIN", &FuzzyMatchOptions{CaseSensitive: true}, []string{}},
		{"nothing close", "zzzzzzzz", nil, []string{}},
		{"limited", "auth-sign", &FuzzyMatchOptions{MaxSuggestions: 1}, []string{"auth-signin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindSimilar(tt.target, categories, tt.opts))
		})
	}
}

func TestFindSimilar_EmptyCandidates(t *testing.T) {
	assert.Empty(t, FindSimilar("admin", nil, nil))
}
