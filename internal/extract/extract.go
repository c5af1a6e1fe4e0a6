// Package extract parses captured HTML and CSS documents into the
// asset and link references they contain. It performs no I/O: callers
// hand it bytes already fetched by the capture client and a base URL
// to resolve references against.
package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/sigman78/archivist/internal/urlkit"
)

// Kind classifies a reference by how it should be treated downstream.
type Kind string

const (
	KindAsset Kind = "asset" // embedded resource: image, script, stylesheet, media
	KindLink  Kind = "link"  // navigable page the crawler may enqueue
)

// Ref is a single reference discovered in a document.
type Ref struct {
	URL        string // absolute, resolved against the page's URL
	Kind       Kind
	SourceTag  string // e.g. "img", "a", "link", "css:url()"
	IsExternal bool
}

// htmlTarget pairs an element tag with the attribute that carries its
// URL and whether that reference is an embedded asset (vs. a page
// link a human could navigate to).
type htmlTarget struct {
	tag       string
	attr      string
	kind      Kind
	isAnchor  bool // true for <a>/<form>/<area>; not read: resolve skips fragment-only references for every tag
}

var htmlTargets = []htmlTarget{
	{"a", "href", KindLink, true},
	{"area", "href", KindLink, true},
	{"form", "action", KindLink, true},
	{"link", "href", KindAsset, false},
	{"script", "src", KindAsset, false},
	{"img", "src", KindAsset, false},
	{"source", "src", KindAsset, false},
	{"iframe", "src", KindAsset, false},
	{"video", "src", KindAsset, false},
	{"audio", "src", KindAsset, false},
	{"embed", "src", KindAsset, false},
	{"object", "data", KindAsset, false},
}

// FromHTML walks the document tree rooted at doc and returns every
// distinct reference it finds, resolved against pageURL and classified
// internal/external against domain. References are deduplicated by
// absolute URL: a <source> (or any other tag) repeated across multiple
// srcset-like contexts is reported once, fixing the double-count the
// naive per-attribute walk would otherwise produce.
func FromHTML(doc []byte, pageURL, domain string) ([]Ref, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	node, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var refs []Ref

	add := func(raw string, kind Kind, tag string) {
		resolved, ok := resolve(base, raw)
		if !ok {
			return
		}
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		refs = append(refs, Ref{
			URL:        resolved,
			Kind:       kind,
			SourceTag:  tag,
			IsExternal: urlkit.IsExternal(hostOf(resolved), domain),
		})
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, t := range htmlTargets {
				if n.Data != t.tag {
					continue
				}
				if v, ok := attr(n, t.attr); ok {
					add(v, t.kind, t.tag)
				}
				if t.tag == "img" || t.tag == "source" {
					if v, ok := attr(n, "srcset"); ok {
						for _, u := range parseSrcset(v) {
							add(u, KindAsset, t.tag+"[srcset]")
						}
					}
				}
			}
			if n.Data == "style" {
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						for _, u := range cssURLs(c.Data) {
							add(u, KindAsset, "style")
						}
					}
				}
			}
			if v, ok := attr(n, "style"); ok {
				for _, u := range cssURLs(v) {
					add(u, KindAsset, "style-attr")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	return refs, nil
}

// FromCSS extracts url(...) and @import references from a stylesheet,
// resolved against baseURL (the CSS file's own archived URL).
func FromCSS(css []byte, baseURL, domain string) ([]Ref, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var refs []Ref
	for _, raw := range cssURLs(string(css)) {
		resolved, ok := resolve(base, raw)
		if !ok || seen[resolved] {
			continue
		}
		seen[resolved] = true
		refs = append(refs, Ref{
			URL:        resolved,
			Kind:       KindAsset,
			SourceTag:  "css:url()",
			IsExternal: urlkit.IsExternal(hostOf(resolved), domain),
		})
	}
	return refs, nil
}

func resolve(base *url.URL, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") ||
		strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "data:") ||
		strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") {
		return "", false
	}
	u, err := base.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// parseSrcset splits a srcset attribute ("a.png 1x, b.png 2x") into
// its candidate URLs, discarding the descriptor.
func parseSrcset(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}

var (
	reCSSURLDouble = regexp.MustCompile(`(?i)url\(\s*"([^"]+)"\s*\)`)
	reCSSURLSingle = regexp.MustCompile(`(?i)url\(\s*'([^']+)'\s*\)`)
	reCSSURLBare   = regexp.MustCompile(`(?i)url\(\s*([^)'"]+?)\s*\)`)
	reCSSImport    = regexp.MustCompile(`(?i)@import\s+(?:url\()?['"]?([^'")\s;]+)['")]?`)
)

// cssURLs returns every url()/@import reference in css, grouped by
// pattern (double-quoted url(), single-quoted url(), bare url(), then
// @import) and in document order within each group, without
// deduplication (callers dedupe against their own seen sets since
// FromHTML folds style blocks into a wider scope).
func cssURLs(css string) []string {
	var out []string
	for _, re := range []*regexp.Regexp{reCSSURLDouble, reCSSURLSingle, reCSSURLBare, reCSSImport} {
		for _, m := range re.FindAllStringSubmatch(css, -1) {
			if len(m) > 1 {
				out = append(out, m[1])
			}
		}
	}
	return out
}
