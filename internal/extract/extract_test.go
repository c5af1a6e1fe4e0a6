package extract

import "testing"

func TestFromHTMLDedupesSourceAcrossSrcsetAndSrc(t *testing.T) {
	doc := []byte(`<html><body>
		<picture>
			<source srcset="/img/a.png 1x, /img/b.png 2x">
			<img src="/img/a.png">
		</picture>
	</body></html>`)

	refs, err := FromHTML(doc, "https://ex.com/page", "ex.com")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}

	count := 0
	for _, r := range refs {
		if r.URL == "https://ex.com/img/a.png" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("https://ex.com/img/a.png counted %d times, want 1 (dedup by absolute URL)", count)
	}
}

func TestFromHTMLClassifiesInternalVsExternal(t *testing.T) {
	doc := []byte(`<html><body>
		<img src="/logo.png">
		<img src="https://cdn.other.com/x.png">
		<a href="/about">about</a>
	</body></html>`)

	refs, err := FromHTML(doc, "https://ex.com/", "ex.com")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}

	var gotInternalAsset, gotExternalAsset, gotLink bool
	for _, r := range refs {
		switch r.URL {
		case "https://ex.com/logo.png":
			gotInternalAsset = !r.IsExternal && r.Kind == KindAsset
		case "https://cdn.other.com/x.png":
			gotExternalAsset = r.IsExternal && r.Kind == KindAsset
		case "https://ex.com/about":
			gotLink = r.Kind == KindLink
		}
	}
	if !gotInternalAsset {
		t.Errorf("expected internal asset logo.png, got %+v", refs)
	}
	if !gotExternalAsset {
		t.Errorf("expected external asset cdn.other.com/x.png, got %+v", refs)
	}
	if !gotLink {
		t.Errorf("expected link /about, got %+v", refs)
	}
}

func TestFromHTMLSkipsNonHTTPSchemes(t *testing.T) {
	doc := []byte(`<html><body>
		<a href="#section">jump</a>
		<a href="javascript:void(0)">js</a>
		<a href="mailto:a@b.com">mail</a>
		<img src="data:image/png;base64,AAAA">
	</body></html>`)

	refs, err := FromHTML(doc, "https://ex.com/", "ex.com")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("expected no refs, got %+v", refs)
	}
}

func TestFromCSSExtractsURLAndImport(t *testing.T) {
	css := []byte(`
		@import "fonts.css";
		.bg { background: url('/images/bg.png'); }
		.logo { background-image: url(/images/logo.png); }
	`)

	refs, err := FromCSS(css, "https://ex.com/assets/style.css", "ex.com")
	if err != nil {
		t.Fatalf("FromCSS: %v", err)
	}

	want := map[string]bool{
		"https://ex.com/assets/fonts.css": false,
		"https://ex.com/images/bg.png":    false,
		"https://ex.com/images/logo.png":  false,
	}
	for _, r := range refs {
		if _, ok := want[r.URL]; ok {
			want[r.URL] = true
		}
	}
	for u, found := range want {
		if !found {
			t.Errorf("missing expected ref %s in %+v", u, refs)
		}
	}
}
