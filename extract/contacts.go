package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

const (
	maxContactMatches = 100
	addressWindow     = 100
)

func extractContacts(doc *parser.Document) models.Contacts {
	text := doc.Text()

	emails := newOrderedSet()
	doc.Doc.Find(`a[href^="mailto:"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if addr, err := url.PathUnescape(addr); err == nil {
			emails.add(strings.ToLower(strings.TrimSpace(addr)))
		}
	})
	for _, m := range parser.EmailPattern.FindAllString(text, maxContactMatches) {
		emails.add(strings.ToLower(m))
	}

	phones := newOrderedSet()
	doc.Doc.Find(`a[href^="tel:"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		phones.add(normalizePhone(strings.TrimPrefix(href, "tel:")))
	})
	for _, m := range parser.PhonePattern.FindAllString(text, maxContactMatches) {
		phones.add(normalizePhone(m))
	}

	postcodes := newOrderedSet()
	for _, m := range parser.PostcodePattern.FindAllString(text, maxContactMatches) {
		postcodes.add(strings.Join(strings.Fields(m), " "))
	}

	addresses := newOrderedSet()
	doc.Doc.Find(`address, [itemprop="address"]`).Each(func(_ int, s *goquery.Selection) {
		addresses.add(parser.Truncate(parser.NormalizeSpace(s.Text()), 200))
	})
	for _, loc := range parser.PostcodePattern.FindAllStringIndex(text, maxContactMatches) {
		addresses.add(addressFragment(text, loc[0], loc[1]))
	}

	return models.Contacts{
		Emails:    emails.items,
		Phones:    phones.items,
		Postcodes: postcodes.items,
		Addresses: addresses.items,
	}
}

func normalizePhone(s string) string {
	s, _ = url.PathUnescape(s)
	return strings.Join(strings.Fields(s), " ")
}

// addressFragment is the text leading up to a postcode, cut at the previous
// sentence boundary.
func addressFragment(text string, start, end int) string {
	from := start - addressWindow
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from++
	}
	lead := text[from:start]
	if i := strings.LastIndexAny(lead, ".!?:;|"); i >= 0 {
		lead = lead[i+1:]
	} else if from > 0 {
		if i := strings.IndexByte(lead, ' '); i >= 0 {
			lead = lead[i+1:]
		}
	}
	return strings.TrimSpace(strings.Trim(lead, " ,") + " " + text[start:end])
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(v string) bool {
	if v == "" || s.seen[v] {
		return false
	}
	s.seen[v] = true
	s.items = append(s.items, v)
	return true
}
