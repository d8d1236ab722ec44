package sitememory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// skippedTags never contribute to a fingerprint; their content changes per
// visit without changing the page's shape.
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"meta": true, "link": true, "svg": true, "iframe": true,
}

// Fingerprint hashes the structural signature of a page: element tags,
// stable class names and input types, in document order with depth.
// Text, ids and attribute values are ignored, so two visits to the same
// form step collapse to one key.
func Fingerprint(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse page for fingerprint: %w", err)
	}

	var b strings.Builder
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root.Children().Each(func(_ int, s *goquery.Selection) {
		writeSignature(&b, s, 0)
	})

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16]), nil
}

func writeSignature(b *strings.Builder, s *goquery.Selection, depth int) {
	tag := goquery.NodeName(s)
	if skippedTags[tag] {
		return
	}

	fmt.Fprintf(b, "%d:%s", depth, tag)
	if classes := stableClasses(s.AttrOr("class", "")); len(classes) > 0 {
		b.WriteString("." + strings.Join(classes, "."))
	}
	if tag == "input" || tag == "button" {
		b.WriteString("[" + strings.ToLower(s.AttrOr("type", "")) + "]")
	}
	b.WriteByte('\n')

	s.Children().Each(func(_ int, child *goquery.Selection) {
		writeSignature(b, child, depth+1)
	})
}

// stableClasses drops generated class names (css-1x9ab, sc-AxjAm_42) that
// differ between builds or visits.
func stableClasses(attr string) []string {
	fields := strings.Fields(attr)
	out := fields[:0]
	for _, c := range fields {
		if strings.IndexFunc(c, unicode.IsDigit) >= 0 {
			continue
		}
		out = append(out, strings.ToLower(c))
	}
	sort.Strings(out)
	return out
}

// Origin reduces a URL to scheme://host, the key site memory is held under.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
