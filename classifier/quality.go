package classifier

import (
	"strings"

	"github.com/aluiziolira/civic-crawler/models"
)

// ScoreSignals computes the five quality components for a page.
func ScoreSignals(s Signals, category models.Category, a models.ContentAnalysis) models.QualityScore {
	return models.QualityScore{
		ContentQuality: ContentQuality(s),
		StructuredData: StructuredData(s),
		Recency:        Recency(a),
		Completeness:   Completeness(s, category),
		Reliability:    Reliability(s),
	}
}

// ContentQuality rewards substantial, well organised prose.
func ContentQuality(s Signals) int {
	v := 0
	if s.WordCount >= 100 {
		v += 20
	}
	if s.WordCount >= 300 {
		v += 15
	}
	if s.WordCount >= 800 {
		v += 10
	}
	if s.Headings > 0 {
		v += 15
	}
	if s.Paragraphs >= 3 {
		v += 15
	}
	if n := len(s.Title); n >= 10 && n <= 120 {
		v += 10
	}
	if s.MetaDescription {
		v += 10
	}
	if s.LinkTextRatio < 0.5 {
		v += 5
	}
	return clampInt(v, 0, 100)
}

// StructuredData rewards machine-readable content.
func StructuredData(s Signals) int {
	v := min(50, 25*s.Tables) + min(20, 5*s.Lists)
	if s.Forms > 0 {
		v += 10
	}
	if s.JSONLD > 0 {
		v += 20
	}
	if s.Dates > 0 {
		v += 5
	}
	if s.Amounts > 0 {
		v += 5
	}
	return clampInt(v, 0, 100)
}

// Recency scales freshness onto 0-100.
func Recency(a models.ContentAnalysis) int {
	return clampInt(a.Freshness*10, 0, 100)
}

// Completeness is the share of expected page features that are present.
// The last check depends on what a page of the category should carry.
func Completeness(s Signals, category models.Category) int {
	checks := []bool{
		s.Title != "",
		s.WordCount >= 100,
		s.Contacts() > 0,
		s.Dates > 0 || !s.LastModified.IsZero(),
		s.MetaDescription,
		categoryExpectation(s, category),
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return passed * 100 / len(checks)
}

func categoryExpectation(s Signals, category models.Category) bool {
	switch category {
	case models.CategoryFinance:
		return s.Amounts > 0
	case models.CategoryMeeting, models.CategoryPlanning, models.CategoryConsultation:
		return s.Dates > 0
	case models.CategoryTransparency:
		return s.Tables > 0 || s.Links > 0
	case models.CategoryService:
		return s.Forms > 0 || s.Contacts() > 0
	default:
		return s.Headings > 0
	}
}

var publicSuffixes = []string{".gov.uk", ".gov", ".nhs.uk", ".police.uk", ".ac.uk"}

// Reliability rates the source rather than the page.
func Reliability(s Signals) int {
	v := 40
	host := strings.TrimSuffix(s.Host, ".")
	for _, suffix := range publicSuffixes {
		if strings.HasSuffix(host, suffix) {
			v += 30
			break
		}
	}
	if strings.HasSuffix(host, ".org.uk") {
		v += 10
	}
	if s.HTTPS {
		v += 10
	}
	if s.Contacts() > 0 {
		v += 10
	}
	if s.Postcodes > 0 {
		v += 5
	}
	if s.LinkTextRatio < 0.6 {
		v += 5
	}
	return clampInt(v, 0, 100)
}
