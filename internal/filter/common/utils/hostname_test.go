package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalHost(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Example.COM", "example.com"},
		{"trims whitespace", "  example.com  ", "example.com"},
		{"strips trailing dot", "example.com.", "example.com"},
		{"strips multiple trailing dots", "example.com..", "example.com"},
		{"empty stays empty", "", ""},
		{"already canonical", "sub.example.com", "sub.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalHost(tt.input))
		})
	}
}

func TestWalkSuffixes(t *testing.T) {
	var visited []string
	WalkSuffixes("a.b.c", func(s string) bool {
		visited = append(visited, s)
		return true
	})
	assert.Equal(t, []string{"a.b.c", "b.c", "c"}, visited)
}

func TestWalkSuffixes_StopsEarly(t *testing.T) {
	var visited []string
	WalkSuffixes("a.b.c", func(s string) bool {
		visited = append(visited, s)
		return false
	})
	assert.Equal(t, []string{"a.b.c"}, visited)
}

func TestWalkSuffixes_EmptyHost(t *testing.T) {
	called := false
	WalkSuffixes("", func(string) bool {
		called = true
		return true
	})
	assert.False(t, called)
}

func TestIsSubdomainOf(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		domain   string
		expected bool
	}{
		{"exact match", "example.com", "example.com", true},
		{"subdomain", "a.example.com", "example.com", true},
		{"deep subdomain", "a.b.example.com", "example.com", true},
		{"not a label boundary", "ample.com", "example.com", false},
		{"unrelated", "other.com", "example.com", false},
		{"parent of domain", "com", "example.com", false},
		{"empty domain", "example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSubdomainOf(tt.host, tt.domain))
		})
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{"plain domain", "example.com", "example.com"},
		{"subdomain collapses", "a.b.example.com", "example.com"},
		{"multi-label public suffix", "shop.example.co.uk", "example.co.uk"},
		{"bare label falls back", "localhost", "localhost"},
		{"canonicalizes first", "WWW.Example.COM.", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RegistrableDomain(tt.host))
		})
	}
}
