// Package models defines data structures for the crawler.
package models

import (
	"fmt"
	"time"
)

// Status is a CrawlTarget lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAnalyzing  Status = "analyzing"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusDeferred   Status = "deferred"
)

// Terminal reports whether no further work will be done for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusAnalyzing},
	StatusAnalyzing:  {StatusProcessing, StatusPending, StatusFailed, StatusSkipped},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusDeferred},
	StatusSkipped:    {StatusDeferred},
	StatusDeferred:   {StatusPending},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Scheduling holds the time-based eligibility of a target.
type Scheduling struct {
	NextEligible    time.Time     `json:"next_eligible"`
	RecrawlInterval time.Duration `json:"recrawl_interval"`
	Adaptive        bool          `json:"adaptive"`
	Revisits        int           `json:"revisits"`
}

// TargetMetadata carries what was learned about a target from its fetches.
type TargetMetadata struct {
	EstimatedValue  float64       `json:"estimated_value"`
	ChangeFrequency time.Duration `json:"change_frequency"`
	LastContentHash string        `json:"last_content_hash"`
	FileSize        int64         `json:"file_size"`
}

// CrawlTarget is a discovered URL and its scheduling state. The frontier
// owns every target; everything else works on value copies.
type CrawlTarget struct {
	URL             string         `json:"url"`
	ParentURL       string         `json:"parent_url,omitempty"`
	Domain          string         `json:"domain"`
	BasePriority    float64        `json:"base_priority"`
	DynamicPriority float64        `json:"dynamic_priority"`
	Depth           int            `json:"depth"`
	Category        Category       `json:"category"`
	Subcategory     string         `json:"subcategory,omitempty"`
	Status          Status         `json:"status"`
	Attempts        int            `json:"attempts"`
	LastError       string         `json:"last_error,omitempty"`
	Scheduling      Scheduling     `json:"scheduling"`
	Metadata        TargetMetadata `json:"metadata"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
}

func (t CrawlTarget) String() string {
	return fmt.Sprintf("%s [%s p=%.1f d=%d]", t.URL, t.Status, t.DynamicPriority, t.Depth)
}

// Overdue is how long the target has been eligible at now.
func (t CrawlTarget) Overdue(now time.Time) time.Duration {
	return now.Sub(t.Scheduling.NextEligible)
}

// FetchResult is a single successful retrieval. It is consumed immediately
// downstream and never persisted.
type FetchResult struct {
	URL          string
	FinalURL     string
	Content      []byte
	ContentType  string
	StatusCode   int
	LastModified time.Time
	Latency      time.Duration
	Identity     string
	FetchedAt    time.Time
}
