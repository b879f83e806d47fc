// Package session owns the aggregate statistics of one crawl: counters,
// breakdowns, periodic checkpoints and the final report.
package session

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/civic-crawler/models"
)

// Options configures an Aggregator.
type Options struct {
	// ID defaults to a random UUID.
	ID string
	// CheckpointEvery saves a checkpoint after that many finished targets;
	// zero disables periodic checkpoints.
	CheckpointEvery int
	Checkpointer    Checkpointer
	// FrontierStatus, when set, is included in every checkpoint.
	FrontierStatus func() map[string]int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Aggregator tracks the running statistics of a crawl. All methods are safe
// for concurrent use.
type Aggregator struct {
	every          int
	checkpointer   Checkpointer
	frontierStatus func() map[string]int
	now            func() time.Time
	logger         *slog.Logger

	mu              sync.Mutex
	s               models.CrawlSession
	failedTargets   []string
	persistFailures []models.PersistFailure
	sinceCheckpoint int

	saveMu sync.Mutex
}

// New starts a session in the running state.
func New(opts Options) *Aggregator {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Aggregator{
		every:          opts.CheckpointEvery,
		checkpointer:   opts.Checkpointer,
		frontierStatus: opts.FrontierStatus,
		now:            opts.Now,
		logger:         opts.Logger,
		s: models.CrawlSession{
			ID:           opts.ID,
			Status:       models.SessionRunning,
			StartedAt:    opts.Now(),
			Categories:   make(map[models.Category]models.Breakdown),
			Domains:      make(map[string]models.Breakdown),
			ErrorsByType: make(map[string]int),
			SkipReasons:  make(map[string]int),
		},
	}
}

// ID is the session identifier.
func (a *Aggregator) ID() string {
	return a.s.ID
}

// RecordDiscovered counts URLs accepted into the frontier.
func (a *Aggregator) RecordDiscovered(n int) {
	a.mu.Lock()
	a.s.TotalURLs += n
	a.mu.Unlock()
}

// RecordFetched counts downloaded bytes, whatever happens to the page next.
func (a *Aggregator) RecordFetched(bytes int) {
	a.mu.Lock()
	a.s.BytesDownloaded += int64(bytes)
	a.mu.Unlock()
}

// RecordRetry counts a failed attempt that will be retried.
func (a *Aggregator) RecordRetry(errorType string) {
	a.mu.Lock()
	a.s.Retries++
	a.s.ErrorsByType[errorType]++
	a.mu.Unlock()
}

// RecordProcessed counts a target that went through the whole pipeline.
func (a *Aggregator) RecordProcessed(rec *models.Record) {
	a.mu.Lock()
	a.s.ProcessedURLs++
	if rec.Revisit {
		a.s.Revisits++
	}
	a.s.QualityHistogram[bucket(rec.OverallScore)]++
	a.update(rec.Category, rec.Domain, func(b *models.Breakdown) {
		b.Processed++
		b.QualitySum += rec.OverallScore
	})
	a.finishLocked()
}

// RecordFailed counts a target that exhausted its retries.
func (a *Aggregator) RecordFailed(url, domain string, category models.Category, errorType string) {
	a.mu.Lock()
	a.s.FailedURLs++
	a.s.ErrorsByType[errorType]++
	a.failedTargets = append(a.failedTargets, url)
	a.update(category, domain, func(b *models.Breakdown) { b.Failed++ })
	a.finishLocked()
}

// RecordDuplicate counts a fetch whose content was already seen.
func (a *Aggregator) RecordDuplicate(domain string, category models.Category) {
	a.mu.Lock()
	a.s.DuplicateURLs++
	a.update(category, domain, func(b *models.Breakdown) { b.Duplicates++ })
	a.finishLocked()
}

// RecordSkipped counts a target rejected for reason, e.g. the quality gate.
func (a *Aggregator) RecordSkipped(domain string, category models.Category, reason string) {
	a.mu.Lock()
	a.s.SkippedURLs++
	a.s.SkipReasons[reason]++
	a.update(category, domain, func(b *models.Breakdown) { b.Skipped++ })
	a.finishLocked()
}

// RecordPersistFailure notes a record the storage layer rejected. The
// target itself still counts as processed.
func (a *Aggregator) RecordPersistFailure(url string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s.PersistFailures++
	a.persistFailures = append(a.persistFailures, models.PersistFailure{URL: url, Error: err.Error()})
}

// Snapshot returns a copy of the current counters.
func (a *Aggregator) Snapshot() models.CrawlSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Close ends the session as completed, or failed when err is non-nil, and
// writes a final checkpoint.
func (a *Aggregator) Close(err error) error {
	a.mu.Lock()
	if a.s.Status != models.SessionRunning {
		a.mu.Unlock()
		return nil
	}
	a.s.EndedAt = a.now()
	a.s.Status = models.SessionCompleted
	if err != nil {
		a.s.Status = models.SessionFailed
		a.s.Error = err.Error()
	}
	a.mu.Unlock()
	return a.Checkpoint()
}

// Checkpoint saves the current state through the Checkpointer, if any.
func (a *Aggregator) Checkpoint() error {
	if a.checkpointer == nil {
		return nil
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	cp := Checkpoint{SavedAt: a.now()}
	if a.frontierStatus != nil {
		cp.Frontier = a.frontierStatus()
	}
	a.mu.Lock()
	a.s.Checkpoints++
	cp.Session = a.snapshotLocked()
	cp.FailedTargets = append([]string(nil), a.failedTargets...)
	a.mu.Unlock()

	if err := a.checkpointer.Save(cp); err != nil {
		a.mu.Lock()
		a.s.Checkpoints--
		a.mu.Unlock()
		a.logger.Warn("checkpoint failed", slog.String("session", cp.Session.ID), slog.Any("error", err))
		return err
	}
	a.logger.Debug("checkpoint saved",
		slog.String("session", cp.Session.ID),
		slog.Int("processed", cp.Session.ProcessedURLs),
	)
	return nil
}

// finishLocked counts a finished target, releases the lock and saves a
// checkpoint when one is due.
func (a *Aggregator) finishLocked() {
	a.sinceCheckpoint++
	due := a.every > 0 && a.sinceCheckpoint >= a.every
	if due {
		a.sinceCheckpoint = 0
	}
	a.mu.Unlock()
	if due {
		_ = a.Checkpoint()
	}
}

func (a *Aggregator) update(category models.Category, domain string, fn func(*models.Breakdown)) {
	if category == "" {
		category = models.CategoryOther
	}
	b := a.s.Categories[category]
	fn(&b)
	a.s.Categories[category] = b
	if domain != "" {
		d := a.s.Domains[domain]
		fn(&d)
		a.s.Domains[domain] = d
	}
}

func (a *Aggregator) snapshotLocked() models.CrawlSession {
	s := a.s
	s.Categories = maps.Clone(a.s.Categories)
	s.Domains = maps.Clone(a.s.Domains)
	s.ErrorsByType = maps.Clone(a.s.ErrorsByType)
	s.SkipReasons = maps.Clone(a.s.SkipReasons)
	return s
}

func bucket(score int) int {
	b := score / 10
	if b < 0 {
		return 0
	}
	if b >= models.QualityBuckets {
		return models.QualityBuckets - 1
	}
	return b
}
