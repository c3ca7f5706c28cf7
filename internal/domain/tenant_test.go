package domain

import "testing"

func TestValidSubdomain(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"acme", true},
		{"acme-corp", true},
		{"a1b", true},
		{"123", true},
		{"ab", false},                  // too short
		{"", false},
		{"-acme", false},               // leading hyphen
		{"acme-", false},               // trailing hyphen
		{"Acme", false},                // uppercase
		{"acme_corp", false},           // underscore
		{"acme.corp", false},           // dot
		{"acme corp", false},           // space
		{"../etc", false},
		{string(make([]byte, 64)), false}, // too long
	}
	for _, c := range cases {
		if got := ValidSubdomain(c.in); got != c.valid {
			t.Errorf("ValidSubdomain(%q) = %t, want %t", c.in, got, c.valid)
		}
	}
}

func TestValidSubdomainLegacy(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"acme", true},
		{"-acme", true}, // edge hyphens were accepted historically
		{"acme-", true},
		{"ab", true},
		{"a", true},
		{"", false},
		{"Acme", false},
		{"acme.corp", false},
		{"../etc", false},
		{"a b", false},
		{string(make([]byte, 64)), false},
	}
	for _, c := range cases {
		if got := ValidSubdomainLegacy(c.in); got != c.valid {
			t.Errorf("ValidSubdomainLegacy(%q) = %t, want %t", c.in, got, c.valid)
		}
	}
}
