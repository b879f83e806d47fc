package models

import (
	"fmt"
	"math"
	"strings"
)

// Category is the closed set of content classifications.
type Category string

const (
	CategoryMeeting      Category = "meeting"
	CategoryPlanning     Category = "planning"
	CategoryFinance      Category = "finance"
	CategoryTransparency Category = "transparency"
	CategoryService      Category = "service"
	CategoryConsultation Category = "consultation"
	CategoryDocument     Category = "document"
	CategoryOther        Category = "other"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryMeeting,
	CategoryPlanning,
	CategoryFinance,
	CategoryTransparency,
	CategoryService,
	CategoryConsultation,
	CategoryDocument,
	CategoryOther,
}

// ParseCategory maps free text onto a Category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryOther, nil
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return CategoryOther, fmt.Errorf("unknown category %q", s)
}

// Structure describes how much markup structure a page carries.
type Structure string

const (
	StructureStructured     Structure = "structured"
	StructureSemiStructured Structure = "semi-structured"
	StructureUnstructured   Structure = "unstructured"
)

// ExtractableCounts counts the extraction candidates found during analysis.
type ExtractableCounts struct {
	Tables   int `json:"tables"`
	Forms    int `json:"forms"`
	Lists    int `json:"lists"`
	Contacts int `json:"contacts"`
	Dates    int `json:"dates"`
	Amounts  int `json:"amounts"`
	Links    int `json:"links"`
}

// ContentAnalysis is derived from a single fetch and not modified after.
type ContentAnalysis struct {
	Category    Category          `json:"category"`
	Subcategory string            `json:"subcategory,omitempty"`
	Title       string            `json:"title"`
	Importance  int               `json:"importance"`
	Freshness   int               `json:"freshness"`
	Structure   Structure         `json:"structure"`
	Extractable ExtractableCounts `json:"extractable"`
	Keywords    []string          `json:"keywords"`
	Complexity  string            `json:"complexity"`
	Confidence  float64           `json:"confidence"`
	WordCount   int               `json:"word_count"`
}

// Quality component weights. They sum to 1.
const (
	WeightContentQuality = 0.25
	WeightStructuredData = 0.30
	WeightRecency        = 0.15
	WeightCompleteness   = 0.15
	WeightReliability    = 0.15
)

// QualityScore holds the five 0-100 components of page quality.
type QualityScore struct {
	ContentQuality int `json:"content_quality"`
	StructuredData int `json:"structured_data"`
	Recency        int `json:"recency"`
	Completeness   int `json:"completeness"`
	Reliability    int `json:"reliability"`
}

// Overall is the weighted sum of the components.
func (q QualityScore) Overall() int {
	sum := WeightContentQuality*float64(q.ContentQuality) +
		WeightStructuredData*float64(q.StructuredData) +
		WeightRecency*float64(q.Recency) +
		WeightCompleteness*float64(q.Completeness) +
		WeightReliability*float64(q.Reliability)
	return int(math.Round(sum))
}

// EntityType is the kind of a named entity.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityDate         EntityType = "date"
	EntityMoney        EntityType = "money"
	EntityPhone        EntityType = "phone"
	EntityEmail        EntityType = "email"
	EntityPostcode     EntityType = "postcode"
)

// ExtractedEntity is a named entity found in page text.
type ExtractedEntity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Context    string     `json:"context"`
	Confidence float64    `json:"confidence"`
}
