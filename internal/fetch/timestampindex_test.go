package fetch

import "testing"

func TestResolveFallsBackWhenURLUnknown(t *testing.T) {
	idx := NewTimestampIndex()
	if got := idx.Resolve("https://example.com/style.css", "20200101000000"); got != "20200101000000" {
		t.Errorf("got %q, want fallback", got)
	}
}

func TestResolveExactPathAndQueryMatchWins(t *testing.T) {
	idx := NewTimestampIndex()
	idx.Register("https://example.com/style.css?v=1", "20200101000000")
	idx.Register("https://example.com/style.css?v=2", "20200601000000")

	if got := idx.Resolve("https://example.com/style.css?v=1", "fallback"); got != "20200101000000" {
		t.Errorf("got %q, want 20200101000000", got)
	}
	if got := idx.Resolve("https://example.com/style.css?v=2", "fallback"); got != "20200601000000" {
		t.Errorf("got %q, want 20200601000000", got)
	}
}

func TestResolveFallsBackToPathOnlyMatch(t *testing.T) {
	idx := NewTimestampIndex()
	idx.Register("https://example.com/logo.png?v=1", "20200315000000")

	if got := idx.Resolve("https://example.com/logo.png", "fallback"); got != "20200315000000" {
		t.Errorf("got %q, want 20200315000000 (path-only fallback)", got)
	}
}

func TestRegisterKeepsNewestTimestamp(t *testing.T) {
	idx := NewTimestampIndex()
	idx.Register("https://example.com/logo.png", "20200101000000")
	idx.Register("https://example.com/logo.png", "20200601000000")
	idx.Register("https://example.com/logo.png", "20200315000000")

	if got := idx.Resolve("https://example.com/logo.png", "fallback"); got != "20200601000000" {
		t.Errorf("got %q, want newest 20200601000000", got)
	}
}

func TestResolveMalformedURLFallsBack(t *testing.T) {
	idx := NewTimestampIndex()
	if got := idx.Resolve("://not-a-url", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}
