package models

import "time"

// SessionStatus is the lifecycle state of a CrawlSession.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// QualityBuckets is the number of histogram buckets of width 10 over 0-100.
const QualityBuckets = 10

// Breakdown counts outcomes for one category or domain.
type Breakdown struct {
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	QualitySum int `json:"quality_sum"`
}

// AverageQuality is the mean overall score of processed targets.
func (b Breakdown) AverageQuality() float64 {
	if b.Processed == 0 {
		return 0
	}
	return float64(b.QualitySum) / float64(b.Processed)
}

// CrawlSession is a snapshot of the aggregate counters of one crawl.
type CrawlSession struct {
	ID               string                 `json:"id"`
	Status           SessionStatus          `json:"status"`
	StartedAt        time.Time              `json:"started_at"`
	EndedAt          time.Time              `json:"ended_at,omitempty"`
	Error            string                 `json:"error,omitempty"`
	TotalURLs        int                    `json:"total_urls"`
	ProcessedURLs    int                    `json:"processed_urls"`
	FailedURLs       int                    `json:"failed_urls"`
	DuplicateURLs    int                    `json:"duplicate_urls"`
	SkippedURLs      int                    `json:"skipped_urls"`
	Revisits         int                    `json:"revisits"`
	Retries          int                    `json:"retries"`
	PersistFailures  int                    `json:"persist_failures"`
	BytesDownloaded  int64                  `json:"bytes_downloaded"`
	QualityHistogram [QualityBuckets]int    `json:"quality_histogram"`
	Categories       map[Category]Breakdown `json:"categories"`
	Domains          map[string]Breakdown   `json:"domains"`
	ErrorsByType     map[string]int         `json:"errors_by_type"`
	SkipReasons      map[string]int         `json:"skip_reasons"`
	Checkpoints      int                    `json:"checkpoints"`
}

// Duration is the elapsed time of the session, up to now if still running.
func (s CrawlSession) Duration(now time.Time) time.Duration {
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// PersistFailure records a record the storage layer rejected.
type PersistFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Report is the artifact produced at the end of a crawl.
type Report struct {
	Session         CrawlSession     `json:"session"`
	Duration        time.Duration    `json:"duration"`
	PagesPerMinute  float64          `json:"pages_per_minute"`
	SuccessRate     float64          `json:"success_rate"`
	AverageQuality  float64          `json:"average_quality"`
	FailedTargets   []string         `json:"failed_targets,omitempty"`
	PersistFailures []PersistFailure `json:"persist_failures,omitempty"`
	Recommendations []string         `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}
