package parser

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	nethtml "golang.org/x/net/html"
)

// Document is a parsed page plus the plain text derived from it. Text-like
// content types are wrapped so every caller can use the same selectors.
type Document struct {
	Doc  *goquery.Document
	URL  *url.URL
	HTML bool

	title string
	text  string
}

// IsHTML reports whether contentType names an HTML-ish payload. An empty
// content type is sniffed by the caller and treated as HTML.
func IsHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml")
}

// NewDocument parses content fetched from rawURL.
func NewDocument(content []byte, contentType, rawURL string) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	isHTML := IsHTML(contentType)
	var reader *bytes.Reader
	if isHTML {
		reader = bytes.NewReader(content)
	} else {
		wrapped := "<html><body><pre>" + html.EscapeString(string(content)) + "</pre></body></html>"
		reader = bytes.NewReader([]byte(wrapped))
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc.Url = u

	d := &Document{Doc: doc, URL: u, HTML: isHTML}
	d.title = NormalizeSpace(doc.Find("title").First().Text())
	if d.title == "" {
		d.title = NormalizeSpace(doc.Find("h1").First().Text())
	}
	d.text = NormalizeSpace(bodyText(doc))
	return d, nil
}

func bodyText(doc *goquery.Document) string {
	var b strings.Builder
	for _, n := range doc.Find("body").Nodes {
		collectText(n, &b)
	}
	return b.String()
}

// collectText keeps element boundaries as spaces so adjacent cells and
// list items do not run together.
func collectText(n *nethtml.Node, b *strings.Builder) {
	switch n.Type {
	case nethtml.TextNode:
		b.WriteString(n.Data)
		return
	case nethtml.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
	if n.Type == nethtml.ElementNode {
		b.WriteByte(' ')
	}
}

// Title is the page title, falling back to the first h1.
func (d *Document) Title() string { return d.title }

// Text is the whitespace-normalised visible body text.
func (d *Document) Text() string { return d.text }

// LowerText is Text in lower case.
func (d *Document) LowerText() string { return strings.ToLower(d.text) }

// Path is the lower-cased URL path.
func (d *Document) Path() string { return strings.ToLower(d.URL.Path) }

// Count returns the number of nodes matching selector.
func (d *Document) Count(selector string) int {
	return d.Doc.Find(selector).Length()
}

// MetaContent returns the content attribute of the first meta tag whose
// name or property equals key.
func (d *Document) MetaContent(key string) string {
	sel := d.Doc.Find(fmt.Sprintf(`meta[name=%q], meta[property=%q]`, key, key)).First()
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

// Resolve turns href into an absolute URL relative to the document, or ""
// when href is not navigable.
func (d *Document) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := d.URL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
