package extract

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

// DocumentTypes are the file extensions reported as downloadable documents.
var DocumentTypes = map[string]bool{
	"pdf":  true,
	"doc":  true,
	"docx": true,
	"xls":  true,
	"xlsx": true,
	"csv":  true,
	"odt":  true,
	"ods":  true,
	"ppt":  true,
	"pptx": true,
	"rtf":  true,
}

// DocumentType returns the document extension of rawURL, or "".
func DocumentType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if DocumentTypes[ext] {
		return ext
	}
	return ""
}

func extractDocuments(doc *parser.Document, limit int) []models.DocumentLink {
	var docs []models.DocumentLink
	seen := make(map[string]bool)
	doc.Doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if limit > 0 && len(docs) >= limit {
			return false
		}
		href, _ := a.Attr("href")
		abs := doc.Resolve(href)
		typ := DocumentType(abs)
		if typ == "" || seen[abs] {
			return true
		}
		seen[abs] = true
		title := parser.NormalizeSpace(a.Text())
		if title == "" {
			title = a.AttrOr("title", "")
		}
		if title == "" {
			u, _ := url.Parse(abs)
			title = path.Base(u.Path)
		}
		docs = append(docs, models.DocumentLink{URL: abs, Title: title, Type: typ})
		return true
	})
	return docs
}

// extractLinks returns the absolute http(s) links of the page, first
// occurrence order, without duplicates.
func extractLinks(doc *parser.Document) []string {
	links := newOrderedSet()
	doc.Doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if rel := strings.ToLower(a.AttrOr("rel", "")); strings.Contains(rel, "nofollow") {
			return
		}
		href, _ := a.Attr("href")
		links.add(doc.Resolve(href))
	})
	return links.items
}
