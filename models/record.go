package models

import "time"

// Table is one extracted HTML table.
type Table struct {
	Caption string              `json:"caption,omitempty"`
	Headers []string            `json:"headers"`
	Rows    []map[string]string `json:"rows"`
}

// Contacts groups contact details found on a page.
type Contacts struct {
	Emails    []string `json:"emails,omitempty"`
	Phones    []string `json:"phones,omitempty"`
	Postcodes []string `json:"postcodes,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// Empty reports whether no contact detail was found.
func (c Contacts) Empty() bool {
	return len(c.Emails) == 0 && len(c.Phones) == 0 && len(c.Postcodes) == 0 && len(c.Addresses) == 0
}

// DocumentLink is an outbound link to a downloadable file.
type DocumentLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// ExtractedRecord is the union of what the sub-extractors produced.
type ExtractedRecord struct {
	Tables         []Table           `json:"tables,omitempty"`
	Contacts       Contacts          `json:"contacts"`
	Documents      []DocumentLink    `json:"documents,omitempty"`
	Entities       []ExtractedEntity `json:"entities,omitempty"`
	StructuredData []map[string]any  `json:"structured_data,omitempty"`
	Links          []string          `json:"-"`
	LinkCount      int               `json:"link_count"`
	Custom         map[string]any    `json:"custom,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`
}

// Record is what the crawler hands to the persistence layer.
type Record struct {
	ID           string          `json:"id,omitempty"`
	SessionID    string          `json:"session_id"`
	URL          string          `json:"url"`
	ParentURL    string          `json:"parent_url,omitempty"`
	Depth        int             `json:"depth"`
	Domain       string          `json:"domain"`
	Category     Category        `json:"category"`
	Subcategory  string          `json:"subcategory,omitempty"`
	Analysis     ContentAnalysis `json:"analysis"`
	Quality      QualityScore    `json:"quality"`
	OverallScore int             `json:"overall_score"`
	Extracted    ExtractedRecord `json:"extracted"`
	ContentHash  string          `json:"content_hash"`
	Revisit      bool            `json:"revisit"`
	ContentType  string          `json:"content_type"`
	Bytes        int             `json:"bytes"`
	Latency      time.Duration   `json:"latency"`
	Priority     float64         `json:"priority"`
	FetchedAt    time.Time       `json:"fetched_at"`
}
