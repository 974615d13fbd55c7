package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	n := New(Options{})

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://News.Example.COM/Story", "https://news.example.com/Story"},
		{"strips trailing slash", "https://example.com/a/b/", "https://example.com/a/b"},
		{"root path collapses", "https://example.com/", "https://example.com"},
		{"drops fragment", "https://example.com/a#comments", "https://example.com/a"},
		{"drops default port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps custom port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"drops tracking params", "https://example.com/a?utm_source=rss&utm_medium=feed&fbclid=x", "https://example.com/a"},
		{"keeps and sorts meaningful params", "https://example.com/a?page=2&id=7&utm_campaign=z", "https://example.com/a?id=7&page=2"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := n.Normalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeRejectsInvalid(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	for _, in := range []string{"", "ftp://example.com/file", "not a url", "https:///path-only"} {
		_, err := n.Normalize(in)
		assert.Error(t, err, in)
	}
}

func TestAllowListOverridesDenyList(t *testing.T) {
	t.Parallel()

	n := New(Options{AllowParams: []string{"id"}})
	got, err := n.Normalize("https://example.com/a?id=1&page=2&utm_source=x")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?id=1", got)
}

func TestStripWWW(t *testing.T) {
	t.Parallel()

	n := New(Options{StripWWW: true})
	a, err := n.Fingerprint("https://www.example.com/story")
	require.NoError(t, err)
	b, err := n.Fingerprint("https://example.com/story/")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprintStableAcrossEquivalentURLs(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	a, err := n.Fingerprint("https://example.com/news/acme-acquires-beta/?utm_source=twitter")
	require.NoError(t, err)
	b, err := n.Fingerprint("https://EXAMPLE.com/news/acme-acquires-beta#top")
	require.NoError(t, err)
	c, err := n.Fingerprint("https://example.com/news/another-story")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a.String(), 64)
}
