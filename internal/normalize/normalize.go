// Package normalize provides URL canonicalization, text cleaning and
// fingerprinting used to deduplicate incoming items.
package normalize

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// trackingParams is the set of URL query parameters commonly used for tracking
// that should be stripped during canonicalization. Any parameter with a
// "utm_" prefix is stripped regardless of membership here.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"utm_id":       true,
	"fbclid":       true,
	"gclid":        true,
	"gclsrc":       true,
	"dclid":        true,
	"msclkid":      true,
	"twclid":       true,
	"mc_cid":       true,
	"mc_eid":       true,
	"ref":          true,
	"_ga":          true,
	"_gl":          true,
}

// reHTMLTag matches HTML tags.
var reHTMLTag = regexp.MustCompile(`<[^>]*>`)

// reWhitespace matches sequences of whitespace (spaces, tabs, newlines).
var reWhitespace = regexp.MustCompile(`\s+`)

// reBlankLines matches multiple consecutive newlines (after initial cleanup).
var reBlankLines = regexp.MustCompile(`\n{3,}`)

// reBlockTag matches closing block-level elements and line breaks, which act
// as paragraph boundaries.
var reBlockTag = regexp.MustCompile(`(?i)</(?:p|div|li|h[1-6]|tr|blockquote)>|<br\s*/?>`)

// CleanText strips HTML tags from the input and normalizes whitespace. It
// preserves paragraph boundaries as single newlines.
func CleanText(html string) string {
	if html == "" {
		return ""
	}

	// Replace block-level elements with newlines to preserve paragraph structure.
	text := reBlockTag.ReplaceAllString(html, "\n")

	// Strip all remaining HTML tags.
	text = reHTMLTag.ReplaceAllString(text, "")

	// Decode common HTML entities.
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&apos;", "'")
	text = strings.ReplaceAll(text, "&nbsp;", " ")

	// Normalize whitespace within lines.
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(reWhitespace.ReplaceAllString(line, " "))
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	result := strings.Join(cleaned, "\n")

	// Collapse excessive blank lines.
	result = reBlankLines.ReplaceAllString(result, "\n\n")

	return strings.TrimSpace(result)
}

// CanonicalizeURL normalizes a URL by lowercasing the scheme and host, removing
// tracking parameters (utm_*, fbclid, etc.), removing fragments, upgrading
// protocol-relative references to https, and sorting query parameters. Two
// syndicated copies of the same link canonicalize to the same string.
func CanonicalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL // Return as-is if unparseable.
	}

	// Lowercase scheme and host.
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	// Remove fragment.
	parsed.Fragment = ""
	parsed.RawFragment = ""

	// Remove trailing slash from path (unless path is just "/").
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
	}

	// Filter out tracking query parameters.
	query := parsed.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
			query.Del(key)
		}
	}

	parsed.RawQuery = query.Encode()

	return parsed.String()
}

// NormalizeImageURL resolves an image reference to an absolute https-or-http
// URL. Protocol-relative references get https; relative paths resolve against
// the item URL. Query strings are kept intact since image CDNs encode sizing
// in them. Returns "" when the reference cannot yield an absolute URL.
func NormalizeImageURL(raw, itemURL string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	if ref.IsAbs() {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return ""
		}
		return ref.String()
	}

	base, err := url.Parse(itemURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// NormalizeTitle lowercases a title and collapses runs of whitespace, the
// form used for fingerprinting and similarity comparison.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(strings.ToLower(title), " "))
}

// HashContent returns the hex-encoded SHA-256 hash of the given content string.
func HashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h)
}

// Fingerprint returns a stable hash over the normalized title and source
// name. It catches the same story reposted by one publisher under a new URL.
func Fingerprint(title, source string) string {
	return HashContent(NormalizeTitle(title) + "|" + NormalizeTitle(source))
}
