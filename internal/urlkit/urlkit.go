// Package urlkit resolves, classifies, and maps archive URLs onto the
// filesystem layout of a snapshot tree.
package urlkit

import (
	"net/url"
	"path"
	"strings"

	sanitize "github.com/mrz1836/go-sanitize"
	"golang.org/x/net/idna"
)

// Domain derives the snapshot domain for a selection's URL: the
// hostname with a single leading "www." stripped.
func Domain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", &url.Error{Op: "domain", URL: rawURL, Err: errNoHost}
	}
	return stripWWW(host), nil
}

var errNoHost = errMsg("missing host")

type errMsg string

func (e errMsg) Error() string { return string(e) }

func stripWWW(host string) string {
	if strings.HasPrefix(strings.ToLower(host), "www.") {
		return host[4:]
	}
	return host
}

// UnicodeHost IDN-decodes a bare host for display/logging purposes.
// It returns the input unchanged if it cannot be decoded.
func UnicodeHost(bareHost string) string {
	if decoded, err := idna.ToUnicode(bareHost); err == nil {
		return decoded
	}
	return bareHost
}

// IsExternal reports whether host belongs to a third party, per
// exact-equality comparison against {domain, www.domain}. Subdomains
// are external; the comparison is case-insensitive.
func IsExternal(host, domain string) bool {
	h := strings.ToLower(host)
	d := strings.ToLower(domain)
	return h != d && h != "www."+d
}

// IsHTML reports whether content-type, or failing that the file
// extension, indicates an HTML document.
func IsHTML(logicalPath, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	ext := strings.ToLower(path.Ext(logicalPath))
	return ext == ".html" || ext == ".htm"
}

// IsCSS reports whether content-type, or failing that the file
// extension, indicates a stylesheet.
func IsCSS(logicalPath, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/css") {
		return true
	}
	return strings.ToLower(path.Ext(logicalPath)) == ".css"
}

// PagePath computes the per-page local path inside a snapshot tree per
// spec: strip the leading "/" of the URL path; empty becomes
// "index.html"; a path not ending in .html/.htm gets "/index.html"
// appended.
func PagePath(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "index.html"
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "index.html"
	}

	var segments []string
	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" {
			continue
		}
		if s := SanitizeSegment(seg); s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "index.html"
	}

	last := segments[len(segments)-1]
	ext := strings.ToLower(path.Ext(last))
	if (ext == ".html" || ext == ".htm") && !strings.HasSuffix(u.Path, "/") {
		return strings.Join(segments, "/")
	}
	return strings.Join(segments, "/") + "/index.html"
}

// AssetPath maps an absolute asset URL onto its location inside a
// snapshot tree's assets/ subtree: same-domain assets mirror their URL
// path under assets/, third-party assets live under
// assets/external/{host}/{path}.
func AssetPath(assetURL, domain string) (logical string, external bool, err error) {
	u, pErr := url.Parse(assetURL)
	if pErr != nil {
		return "", false, pErr
	}
	host := u.Hostname()
	p := sanitizePath(u.EscapedPath())
	if p == "" {
		p = "index"
	}
	if IsExternal(host, domain) {
		return "assets/external/" + strings.ToLower(host) + "/" + p, true, nil
	}
	return "assets/" + p, false, nil
}

// sanitizePath strips the leading slash and percent-encodes bytes that
// are unsafe in filesystem paths, leaving the rest of the URL-escaped
// path (including existing %xx sequences) untouched.
func sanitizePath(escapedPath string) string {
	trimmed := strings.TrimPrefix(escapedPath, "/")
	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		segments[i] = encodeForFS(seg)
	}
	return strings.Join(segments, "/")
}

const hexChars = "0123456789ABCDEF"

// encodeForFS percent-encodes characters forbidden in Windows (and
// disruptive elsewhere) file names: \ : * ? " < > | and ASCII control
// characters. The forward slash is never passed in here (callers split
// on it first).
func encodeForFS(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == '\\' || c == ':' || c == '*' || c == '?' ||
			c == '"' || c == '<' || c == '>' || c == '|' {
			b.WriteByte('%')
			b.WriteByte(hexChars[c>>4])
			b.WriteByte(hexChars[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// SanitizeSegment sanitizes a single path segment for "pretty path"
// mode, keeping the extension (sanitized separately so PathName's
// dot-stripping never eats it).
func SanitizeSegment(seg string) string {
	ext := path.Ext(seg)
	if ext == "" {
		return sanitize.PathName(seg)
	}
	base := sanitize.PathName(seg[:len(seg)-len(ext)])
	extPart := sanitize.PathName(ext[1:])
	if base == "" {
		base = "file"
	}
	if extPart == "" {
		return base
	}
	return base + "." + extPart
}

// RelativeLink returns the POSIX-style relative path from the
// directory fromDir to the file toFile, both given as forward-slash
// logical paths rooted at the same snapshot tree.
func RelativeLink(fromDir, toFile string) string {
	fromParts := splitNonEmpty(fromDir)
	toParts := splitNonEmpty(toFile)

	max := len(fromParts)
	if len(toParts) < max {
		max = len(toParts)
	}
	common := 0
	for common < max && fromParts[common] == toParts[common] {
		common++
	}

	ups := len(fromParts) - common
	if ups < 0 {
		ups = 0
	}
	var b strings.Builder
	for i := 0; i < ups; i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(toParts[common:], "/"))
	if b.Len() == 0 {
		return "."
	}
	return b.String()
}

func splitNonEmpty(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		// "." shows up as filepath.Dir's result for a root-level file;
		// treat it the same as "" (no directory component).
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}

// CSSRelativePrefix is a single "../" step out of assets/, per spec.md
// §4.4 ("one ../ prefix applied"). The rewriter does not use it: CSS
// references are made relative with RelativeLink from the stylesheet's
// own directory, which may lie more than one level inside assets/.
const CSSRelativePrefix = "../"
