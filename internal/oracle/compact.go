// File: internal/oracle/compact.go
package oracle

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autoapply/internal/llmutil"
)

const truncatedMarker = "<!-- truncated -->"

// noise is removed before anything else; none of it helps choose an action.
const noise = "script, style, noscript, template, svg, canvas, iframe, link, meta, head, picture, video, audio"

// keptAttributes survive compaction. Everything else (inline styles, data
// blobs, tracking attributes) is dropped.
var keptAttributes = map[string]bool{
	"id": true, "name": true, "type": true, "class": true, "href": true, "for": true,
	"placeholder": true, "aria-label": true, "aria-describedby": true, "role": true,
	"action": true, "method": true, "required": true, "multiple": true, "accept": true,
	"title": true, "alt": true, "value": true, "selected": true, "checked": true,
	"disabled": true, "data-testid": true, "data-test": true, "data-automation-id": true,
	"data-qa": true, "autocomplete": true,
}

const maxAttrLen = 120

// tiers lists what to keep, most useful first, when the page is over budget.
// Elements already kept as part of an earlier tier are not repeated.
var tiers = []string{
	"form",
	"h1, h2, h3, [role=progressbar], [class*=step], [class*=progress]",
	"input, select, textarea, button, label, [role=button], [role=checkbox], [role=radio], [role=combobox]",
	"[class*=job], [class*=apply], [id*=apply]",
	"a[href]",
}

// Compact reduces a page to at most maxBytes of markup. Pages that fit after
// stripping noise are returned whole; larger pages keep whole elements from
// each tier in turn so that every fragment is still valid markup.
func Compact(page string, maxBytes int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return llmutil.Truncate(page, maxBytes)
	}

	doc.Find(noise).Remove()
	for _, n := range doc.Find("*").Nodes {
		stripAttributes(n)
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	full, err := goquery.OuterHtml(body)
	if err == nil && len(full) <= maxBytes {
		return full
	}

	budget := maxBytes - len(truncatedMarker) - 1
	if budget <= 0 {
		// No room for any element; the marker alone, cut to the cap.
		return truncatedMarker[:max(0, min(maxBytes, len(truncatedMarker)))]
	}
	var b strings.Builder
	var kept []*html.Node

	for _, tier := range tiers {
		body.Find(tier).Each(func(_ int, s *goquery.Selection) {
			n := s.Nodes[0]
			if overlaps(n, kept) {
				return
			}
			frag, err := goquery.OuterHtml(s)
			if err != nil || frag == "" {
				return
			}
			if b.Len()+len(frag)+1 > budget {
				// Too big whole; its descendants may still fit in a later tier.
				return
			}
			b.WriteString(frag)
			b.WriteByte('\n')
			kept = append(kept, n)
		})
	}

	b.WriteString(truncatedMarker)
	return b.String()
}

func stripAttributes(n *html.Node) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if !keptAttributes[strings.ToLower(a.Key)] {
			continue
		}
		if len(a.Val) > maxAttrLen {
			a.Val = llmutil.Truncate(a.Val, maxAttrLen)
		}
		attrs = append(attrs, a)
	}
	n.Attr = attrs
}

// overlaps reports whether n is one of kept, nested inside one, or wraps one.
func overlaps(n *html.Node, kept []*html.Node) bool {
	for _, k := range kept {
		if isAncestor(k, n) || isAncestor(n, k) {
			return true
		}
	}
	return false
}

func isAncestor(a, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}
