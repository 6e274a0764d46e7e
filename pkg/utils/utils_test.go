package utils

import "testing"

func TestIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":   true,
		"127.255.0.1": true,
		"::1":         true,
		"10.0.0.1":    false,
		"192.168.1.1": false,
		"not-an-ip":   false,
		"":            false,
	}
	for in, want := range cases {
		if got := IsLoopback(in); got != want {
			t.Errorf("IsLoopback(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsValidDomain(t *testing.T) {
	valid := []string{"example.com", "sub.example.co.uk", "a.io"}
	for _, d := range valid {
		if !IsValidDomain(d) {
			t.Errorf("IsValidDomain(%q) = false, want true", d)
		}
	}
	invalid := []string{"-bad.com", "bad-.com"}
	for _, d := range invalid {
		if IsValidDomain(d) {
			t.Errorf("IsValidDomain(%q) = true, want false", d)
		}
	}
}
