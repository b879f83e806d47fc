// Package classifier turns fetched pages into a content analysis and a
// quality score. Every rule is a pure function of Signals so it can be
// tested without a network or an HTML fixture.
package classifier

import (
	"strings"
	"time"

	"github.com/aluiziolira/civic-crawler/parser"
)

// Signals are the structural facts read from a page once per fetch.
type Signals struct {
	URL       string
	Host      string
	Path      string
	HTTPS     bool
	HTML      bool
	Title     string
	Text      string // lower case
	Words     []string
	WordCount int

	Headings        int
	Paragraphs      int
	Tables          int
	Forms           int
	Lists           int
	Links           int
	JSONLD          int
	MetaDescription bool
	LinkTextRatio   float64

	Emails    int
	Phones    int
	Postcodes int
	Dates     int
	Amounts   int

	LatestDate   time.Time
	LastModified time.Time
}

// Contacts is the number of distinct contact markers.
func (s Signals) Contacts() int {
	return s.Emails + s.Phones + s.Postcodes
}

// ReadSignals collects Signals from a parsed document.
func ReadSignals(doc *parser.Document, lastModified, now time.Time) Signals {
	text := doc.Text()
	lower := strings.ToLower(text)
	words := parser.Words(text)

	s := Signals{
		URL:          doc.URL.String(),
		Host:         strings.ToLower(doc.URL.Hostname()),
		Path:         doc.Path(),
		HTTPS:        doc.URL.Scheme == "https",
		HTML:         doc.HTML,
		Title:        strings.ToLower(doc.Title()),
		Text:         lower,
		Words:        words,
		WordCount:    len(words),
		LastModified: lastModified,
	}

	if doc.HTML {
		s.Headings = doc.Count("h1, h2, h3, h4")
		s.Paragraphs = doc.Count("p")
		s.Tables = doc.Count("table")
		s.Forms = doc.Count("form")
		s.Lists = doc.Count("ul, ol, dl")
		s.Links = doc.Count("a[href]")
		s.JSONLD = doc.Count(`script[type="application/ld+json"]`)
		s.MetaDescription = doc.MetaContent("description") != ""
		if len(text) > 0 {
			linkText := len(parser.NormalizeSpace(doc.Doc.Find("a").Text()))
			s.LinkTextRatio = float64(linkText) / float64(len(text))
			if s.LinkTextRatio > 1 {
				s.LinkTextRatio = 1
			}
		}
	}

	s.Emails = countDistinct(parser.EmailPattern.FindAllString(text, -1))
	s.Phones = countDistinct(parser.PhonePattern.FindAllString(text, -1))
	s.Postcodes = countDistinct(parser.PostcodePattern.FindAllString(text, -1))
	s.Dates = len(parser.DatePattern.FindAllStringIndex(text, -1))
	s.Amounts = len(parser.MoneyPattern.FindAllStringIndex(text, -1))
	if t, ok := parser.LatestDate(text, now); ok {
		s.LatestDate = t
	}
	return s
}

func countDistinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[strings.ToLower(strings.Join(strings.Fields(v), ""))] = struct{}{}
	}
	return len(seen)
}

// NewestDate is the most recent of the in-page date and Last-Modified.
func (s Signals) NewestDate() (time.Time, bool) {
	newest := s.LatestDate
	if s.LastModified.After(newest) {
		newest = s.LastModified
	}
	return newest, !newest.IsZero()
}
