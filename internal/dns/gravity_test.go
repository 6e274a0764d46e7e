package dns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Example.COM", ".example.com", true},
		{"  ads.test  ", ".ads.test", true},
		{".leading.dot.test", ".leading.dot.test", true},
		{"trailing.dot.test.", ".trailing.dot.test", true},
		{"", "", false},
		{"not_a_domain", "", false},
		{"localhost", "", false},
	}
	for _, c := range cases {
		got, ok := normalizeDomain(c.in)
		require.Equal(t, c.ok, ok, c.in)
		if ok {
			require.Equal(t, c.want, got, c.in)
		}
	}
}

func TestParseHostsList(t *testing.T) {
	input := `# comment
0.0.0.0 ads.example.com
127.0.0.1 tracker.example.net

0.0.0.0
invalid-line-without-ip`
	out := parseHostsList(input)
	require.Len(t, out, 2)
	require.Contains(t, out, ".ads.example.com")
	require.Contains(t, out, ".tracker.example.net")
}

func TestParseDomainsList(t *testing.T) {
	input := `# comment
ads.example.com
tracker.example.net
`
	out := parseDomainsList(input)
	require.Len(t, out, 2)
	require.Contains(t, out, ".ads.example.com")
}

func TestParseAdblockList(t *testing.T) {
	input := `! adblock comment
||ads.example.com^
@@||allowed.example.com^
|tracker.example.net^
`
	out := parseAdblockList(input)
	require.Len(t, out, 2)
	require.Contains(t, out, ".ads.example.com")
	require.Contains(t, out, ".tracker.example.net")
	require.NotContains(t, out, ".allowed.example.com")
}

func TestMatchSetCoversSubdomains(t *testing.T) {
	set := map[string]struct{}{".example.com": {}}
	require.True(t, matchSet(set, ".example.com"))
	require.True(t, matchSet(set, ".sub.example.com"))
	require.True(t, matchSet(set, ".a.b.example.com"))
	require.False(t, matchSet(set, ".example.org"))
	require.False(t, matchSet(set, ".notexample.com"))
}

func TestGravityMatchOrder(t *testing.T) {
	cfg := &Config{}
	cfg.Gravity.Blacklist = []string{"manual.test"}
	cfg.Gravity.Regex = []string{`^tracker[0-9]+\.`}
	g := NewGravityManager(cfg)

	g.mu.Lock()
	g.gravitySet[".listed.test"] = struct{}{}
	g.mu.Unlock()

	status, blocked := g.Match("manual.test")
	require.True(t, blocked)
	require.Equal(t, StatusBlacklist, status)

	status, blocked = g.Match("sub.listed.test")
	require.True(t, blocked)
	require.Equal(t, StatusGravity, status)

	status, blocked = g.Match("tracker42.evil.test")
	require.True(t, blocked)
	require.Equal(t, StatusWildcard, status)

	_, blocked = g.Match("clean.test")
	require.False(t, blocked)
}
