package urlkit

import "testing"

func TestDomain(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.example.com/page", "example.com"},
		{"https://example.com/page", "example.com"},
		{"https://WWW.Example.COM/", "Example.COM"},
	}
	for _, tc := range cases {
		got, err := Domain(tc.url)
		if err != nil {
			t.Fatalf("Domain(%q) error: %v", tc.url, err)
		}
		if got != tc.want {
			t.Errorf("Domain(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestIsExternal(t *testing.T) {
	cases := []struct {
		host   string
		domain string
		want   bool
	}{
		{"example.com", "example.com", false},
		{"www.example.com", "example.com", false},
		{"cdn.example.com", "example.com", true}, // subdomain is external
		{"example.com.evil.com", "example.com", true},
		{"EXAMPLE.COM", "example.com", false},
	}
	for _, tc := range cases {
		got := IsExternal(tc.host, tc.domain)
		if got != tc.want {
			t.Errorf("IsExternal(%q, %q) = %v, want %v", tc.host, tc.domain, got, tc.want)
		}
	}
}

func TestPagePath(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/", "index.html"},
		{"https://example.com", "index.html"},
		{"https://example.com/about", "about/index.html"},
		{"https://example.com/about/", "about/index.html"},
		{"https://example.com/blog/post.html", "blog/post.html"},
	}
	for _, tc := range cases {
		got := PagePath(tc.url)
		if got != tc.want {
			t.Errorf("PagePath(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestAssetPath(t *testing.T) {
	cases := []struct {
		assetURL string
		domain   string
		want     string
		external bool
	}{
		{"https://example.com/img/x.png", "example.com", "assets/img/x.png", false},
		{"https://www.example.com/css/s.css", "example.com", "assets/css/s.css", false},
		{"https://cdn.y.com/s.css", "example.com", "assets/external/cdn.y.com/s.css", true},
	}
	for _, tc := range cases {
		got, ext, err := AssetPath(tc.assetURL, tc.domain)
		if err != nil {
			t.Fatalf("AssetPath(%q) error: %v", tc.assetURL, err)
		}
		if got != tc.want || ext != tc.external {
			t.Errorf("AssetPath(%q, %q) = (%q, %v), want (%q, %v)", tc.assetURL, tc.domain, got, ext, tc.want, tc.external)
		}
	}
}

func TestRelativeLink(t *testing.T) {
	cases := []struct {
		fromDir string
		toFile  string
		want    string
	}{
		{"", "assets/x.png", "assets/x.png"},
		{".", "assets/x.png", "assets/x.png"}, // filepath.Dir("index.html") == "."
		{"about", "assets/x.png", "../assets/x.png"},
		{"assets", "assets/img/logo.png", "img/logo.png"},
		{"assets/external/cdn.com", "assets/external/cdn.com/images/a.png", "images/a.png"},
	}
	for _, tc := range cases {
		got := RelativeLink(tc.fromDir, tc.toFile)
		if got != tc.want {
			t.Errorf("RelativeLink(%q, %q) = %q, want %q", tc.fromDir, tc.toFile, got, tc.want)
		}
	}
}
