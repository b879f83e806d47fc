package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

const contextRadius = 40

type entityPattern struct {
	typ        models.EntityType
	re         *regexp.Regexp
	confidence float64
}

// More specific patterns first, so they win when MaxEntities is reached.
var entityPatterns = []entityPattern{
	{models.EntityEmail, parser.EmailPattern, 0.95},
	{models.EntityPostcode, parser.PostcodePattern, 0.9},
	{models.EntityMoney, parser.MoneyPattern, 0.9},
	{models.EntityPhone, parser.PhonePattern, 0.85},
	{models.EntityDate, parser.DatePattern, 0.8},
	{models.EntityPerson, regexp.MustCompile(`\b(?:Councillor|Cllr\.?|Mayor|Dr\.?|Mrs\.?|Mr\.?|Ms\.?|Miss)\s+[A-Z][a-z]+(?:[ \-][A-Z][a-z]+)?\b`), 0.75},
	{models.EntityOrganization, regexp.MustCompile(`\b(?:[A-Z][a-z]+\s+){1,4}(?:Council|Authority|Committee|Board|Trust|Department|Agency|Partnership|Commission|Cabinet)\b`), 0.7},
	{models.EntityLocation, regexp.MustCompile(`\b(?:[A-Z][a-z]+\s+){1,3}(?:Street|Road|Lane|Avenue|Square|Place|Hall|Centre|Park|Way|Close|Crescent)\b`), 0.6},
}

// extractEntities finds typed entities in text, one per type and value.
func extractEntities(text string, limit int) []models.ExtractedEntity {
	var out []models.ExtractedEntity
	seen := make(map[string]bool)
	for _, p := range entityPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if limit > 0 && len(out) >= limit {
				return out
			}
			value := strings.TrimSpace(text[loc[0]:loc[1]])
			key := string(p.typ) + "\x00" + strings.ToLower(value)
			if value == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, models.ExtractedEntity{
				Type:       p.typ,
				Value:      value,
				Context:    snippet(text, loc[0], loc[1], contextRadius),
				Confidence: p.confidence,
			})
		}
	}
	return out
}

// snippet returns text[start:end] widened by radius bytes on both sides,
// aligned to rune boundaries.
func snippet(text string, start, end, radius int) string {
	from := max(0, start-radius)
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := min(len(text), end+radius)
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(text[from:to])
}
