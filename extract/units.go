package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/civic-crawler/parser"
)

var bandPattern = regexp.MustCompile(`(?i)\bband\s+([A-I])\b[^£\d]{0,40}(£\s?\d{1,3}(?:,\d{3})*(?:\.\d{2})?)`)

// CouncilTaxBands maps council tax bands to the charge quoted next to them.
var CouncilTaxBands = UnitFunc(func(doc *parser.Document) (any, error) {
	if !strings.Contains(doc.LowerText(), "council tax") {
		return nil, nil
	}
	bands := map[string]string{}
	for _, m := range bandPattern.FindAllStringSubmatch(doc.Text(), -1) {
		band := strings.ToUpper(m[1])
		if _, ok := bands[band]; !ok {
			bands[band] = strings.ReplaceAll(m[2], " ", "")
		}
	}
	if len(bands) == 0 {
		return nil, nil
	}
	return bands, nil
})

// MeetingAgenda lists the items under an "Agenda" heading.
var MeetingAgenda = UnitFunc(func(doc *parser.Document) (any, error) {
	var items []string
	doc.Doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "agenda") {
			return true
		}
		list := h.NextAllFiltered("ol, ul").First()
		list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			if item := parser.NormalizeSpace(li.Text()); item != "" {
				items = append(items, item)
			}
		})
		return len(items) == 0
	})
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
})

// RegisterDefaults registers the built-in council units.
func RegisterDefaults(e *Extractor) error {
	if err := e.Register("council_tax_bands", CouncilTaxBands); err != nil {
		return err
	}
	return e.Register("meeting_agenda", MeetingAgenda)
}
