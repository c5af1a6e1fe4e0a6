package page

import (
	"path/filepath"
	"testing"

	"github.com/sigman78/archivist/internal/extract"
	"github.com/sigman78/archivist/internal/rewrite"
	"github.com/sigman78/archivist/internal/urlkit"
)

func TestAssetTypeClassifiesByExtension(t *testing.T) {
	cases := map[string]string{
		"assets/style.css":    "css",
		"assets/app.js":       "js",
		"assets/logo.png":     "image",
		"assets/font.woff2":   "font",
		"assets/clip.mp4":     "video",
		"assets/track.mp3":    "audio",
		"assets/unknown.bin":  "other",
		"assets/noextension":  "other",
	}
	for path, want := range cases {
		if got := assetType(path); got != want {
			t.Errorf("assetType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDropExternalKeepsOnlyInternalRefs(t *testing.T) {
	refs := []extract.Ref{
		{URL: "https://ex.com/a.png", IsExternal: false},
		{URL: "https://cdn.other.com/b.png", IsExternal: true},
		{URL: "https://ex.com/c.png", IsExternal: false},
	}
	got := dropExternal(refs)
	if len(got) != 2 {
		t.Fatalf("dropExternal returned %d refs, want 2: %+v", len(got), got)
	}
	for _, r := range got {
		if r.IsExternal {
			t.Errorf("external ref survived dropExternal: %+v", r)
		}
	}
}

func TestDocDirForAssetIsTreeRelative(t *testing.T) {
	got := docDirForAsset("assets/img/logo.png")
	want := "assets/img"
	if got != want {
		t.Errorf("docDirForAsset = %q, want %q", got, want)
	}
}

// TestRootPageDocDirProducesSingleUpPrefix locks in the wiring Process
// actually uses: both the page's own DocDir and a fetched asset's
// DocDir are tree-relative (no domain/timestamp prefix), matching what
// urlkit.PagePath/AssetPath return, so RelativeLink prepends zero "../"
// for a root page's assets and exactly one for assets/ CSS.
func TestRootPageDocDirProducesSingleUpPrefix(t *testing.T) {
	localPath := urlkit.PagePath("https://ex.com/")
	docDir := filepath.ToSlash(filepath.Dir(localPath))

	doc := []byte(`<html><body><img src="/logo.png"></body></html>`)
	out, err := rewrite.HTML(doc, "https://ex.com/", rewrite.Options{Domain: "ex.com", DocDir: docDir})
	if err != nil {
		t.Fatalf("rewrite.HTML: %v", err)
	}
	if !containsStr(string(out), `src="assets/logo.png"`) {
		t.Errorf("expected root page asset link with no ../ prefix, got: %s", out)
	}

	cssDocDir := docDirForAsset("assets/sub/style.css")
	rewrittenCSS := rewrite.CSS([]byte(`.bg{background:url(/logo.png)}`), "https://ex.com/sub/style.css", rewrite.Options{Domain: "ex.com", DocDir: cssDocDir})
	if !containsStr(string(rewrittenCSS), "../logo.png") {
		t.Errorf("expected single ../ prefix from a nested assets/ CSS file, got: %s", rewrittenCSS)
	}
}

func containsStr(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOfStr(haystack, needle) >= 0
}

func indexOfStr(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
