package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/civic-crawler/parser"
)

// extractStructuredData collects JSON-LD objects and the page's OpenGraph
// properties. Malformed JSON-LD blocks are reported after the valid ones
// have been kept.
func extractStructuredData(doc *parser.Document) ([]map[string]any, error) {
	var out []map[string]any
	bad := 0

	doc.Doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			bad++
			return
		}
		out = append(out, flattenJSONLD(v)...)
	})

	og := map[string]any{}
	doc.Doc.Find(`meta[property^="og:"]`).Each(func(_ int, m *goquery.Selection) {
		prop, _ := m.Attr("property")
		content := strings.TrimSpace(m.AttrOr("content", ""))
		if content == "" {
			return
		}
		og[strings.TrimPrefix(prop, "og:")] = content
	})
	if len(og) > 0 {
		og["@type"] = "OpenGraph"
		out = append(out, og)
	}

	if bad > 0 {
		return out, fmt.Errorf("%d malformed json-ld block(s)", bad)
	}
	return out, nil
}

func flattenJSONLD(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if graph, ok := t["@graph"].([]any); ok {
			return flattenJSONLD(graph)
		}
		return []map[string]any{t}
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, flattenJSONLD(item)...)
		}
		return out
	}
	return nil
}
