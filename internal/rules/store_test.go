package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/navguard/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Import(DefaultSeed))
	return s
}

func TestChangedURLStripsTrackingParams(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		in      string
		want    string
		changes []string
	}{
		{"https://example.com/?utm_source=x&id=1", "https://example.com/?id=1", []string{"utm_source"}},
		{"https://example.com/p?id=1&fbclid=abc&utm_medium=m&utm_source=s", "https://example.com/p?id=1", []string{"fbclid", "utm_medium", "utm_source"}},
		{"https://example.com/?gclid=1", "https://example.com/", []string{"gclid"}},
		{"https://example.com/?b=2&a=1", "https://example.com/?b=2&a=1", nil},
		{"https://example.com/", "https://example.com/", nil},
		{"https://example.com/?q=a%20b&utm_term=x#frag", "https://example.com/?q=a%20b#frag", []string{"utm_term"}},
		{"https://www.amazon.com/dp/1?pd_rd_w=x&th=1", "https://www.amazon.com/dp/1?th=1", []string{"pd_rd_w"}},
		{"https://example.com/dp/1?pd_rd_w=x", "https://example.com/dp/1?pd_rd_w=x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, changes, err := s.ChangedURL(model.MustParse(tt.in), StripTable)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.changes, changes)
		})
	}
}

func TestChangedURLDoesNotMutateInput(t *testing.T) {
	s := newTestStore(t)
	in := model.MustParse("https://example.com/?utm_source=x")
	_, _, err := s.Strip(in)
	require.NoError(t, err)
	assert.Equal(t, "utm_source=x", in.RawQuery)
}

func TestChangedURLRejectsUnknownTable(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.ChangedURL(model.MustParse("https://example.com/?a=1"), "redirects; DROP TABLE redirects")
	assert.True(t, errors.Is(err, ErrUnknownTable))
}

func TestRedirectParamExtraction(t *testing.T) {
	s := newTestStore(t)

	dest, ok, err := s.Redirect(model.MustParse("https://www.google.com/url?q=https%3A%2F%2Fexample.com%2Fa&sa=D"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", dest.String())

	dest, ok, err = s.Redirect(model.MustParse("https://l.facebook.com/l.php?u=http%3A%2F%2Fexample.org%2F"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http://example.org/", dest.String())
}

func TestRedirectIgnoresUnsafeDestinations(t *testing.T) {
	s := newTestStore(t)
	for _, raw := range []string{
		"https://www.google.com/url?q=javascript%3Aalert(1)",
		"https://www.google.com/url?q=%2Frelative",
		"https://www.google.com/url",
		"https://www.google.com/search?q=https%3A%2F%2Fexample.com",
	} {
		_, ok, err := s.Redirect(model.MustParse(raw))
		require.NoError(t, err)
		assert.False(t, ok, raw)
	}
}

func TestRedirectExactTable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddRedirect(Redirect{Source: "https://short.test/abc", Target: "https://long.test/article"}))

	dest, ok, err := s.Redirect(model.MustParse("https://short.test/abc"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://long.test/article", dest.String())

	_, ok, err = s.Redirect(model.MustParse("https://short.test/other"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddStripRuleScopedToDomain(t *testing.T) {
	s, err := Open("", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddStripRule(StripRule{Domain: "Example.com", Parameter: "ref"}))
	require.NoError(t, s.AddStripRule(StripRule{Domain: "example.com", Parameter: "ref"}))

	got, changes, err := s.Strip(model.MustParse("https://news.example.com/?ref=x"))
	require.NoError(t, err)
	assert.Equal(t, "https://news.example.com/", got.String())
	assert.Equal(t, []string{"ref"}, changes)

	_, changes, err = s.Strip(model.MustParse("https://other.test/?ref=x"))
	require.NoError(t, err)
	assert.Empty(t, changes)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.StripRules)
}

func TestReplaceSwapsRules(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Replace(Seed{Strip: map[string][]string{"*": {"only_this"}}}))

	_, changes, err := s.Strip(model.MustParse("https://example.com/?utm_source=x&only_this=1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"only_this"}, changes)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{StripRules: 1}, st)
}

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed.RedirectParams, seed.RedirectParams)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strip:
  example.com: [ref]
redirects:
  - source: https://a.test/
    target: https://b.test/
redirect_params:
  - domain: out.test
    path: /go
    parameter: to
`), 0644))
	seed, err = LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ref"}, seed.Strip["example.com"])
	require.Len(t, seed.Redirects, 1)
	assert.Equal(t, "to", seed.RedirectParams[0].Parameter)

	require.NoError(t, os.WriteFile(path, []byte("strip: [nope"), 0644))
	_, err = LoadSeed(path)
	assert.Error(t, err)
}

func TestDefaultSeedYAMLRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultSeedYAML()), 0644))
	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed.Strip, seed.Strip)
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddStripRule(StripRule{Parameter: "x"}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()
	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.StripRules)
}

func TestHostChain(t *testing.T) {
	assert.Equal(t, []string{"a.b.example.com", "b.example.com", "example.com", "com"}, hostChain("A.b.example.com."))
	assert.Equal(t, []string{"localhost"}, hostChain("localhost"))
}
