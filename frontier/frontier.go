// Package frontier owns every discovered crawl target and decides what is
// fetched next.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/models"
)

var (
	// ErrExhausted is returned by Next once the crawl budget is spent or no
	// work is left.
	ErrExhausted = errors.New("frontier exhausted")
	// ErrInvalidTransition reports a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownTarget reports a URL the frontier never accepted.
	ErrUnknownTarget = errors.New("unknown target")
)

// EnqueueResult says what Enqueue did with a URL.
type EnqueueResult int

const (
	Accepted EnqueueResult = iota
	Duplicate
	Invalid
	NotAllowed
	QuotaExceeded
	TooDeep
)

func (r EnqueueResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Invalid:
		return "invalid"
	case NotAllowed:
		return "not_allowed"
	case QuotaExceeded:
		return "quota_exceeded"
	case TooDeep:
		return "too_deep"
	}
	return "unknown"
}

// Outcome describes the content seen when a target leaves the pipeline.
type Outcome struct {
	Hash      string
	Size      int64
	Changed   bool
	Duplicate bool
}

// Options tune a Frontier. Zero values are usable.
type Options struct {
	// Backoff returns the wait before retry number attempt.
	Backoff func(attempt int) time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Frontier is safe for concurrent use by crawl workers.
type Frontier struct {
	cfg     *config.Config
	backoff func(int) time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu         sync.Mutex
	targets    map[string]*models.CrawlTarget
	pending    []*models.CrawlTarget // DynamicPriority descending
	quotaUsed  map[string]int
	inFlight   int
	dispatched int
	deadline   time.Time
	changed    chan struct{}
}

// New creates an empty Frontier. The time budget starts now.
func New(cfg *config.Config, opts Options) *Frontier {
	f := &Frontier{
		cfg:       cfg,
		backoff:   opts.Backoff,
		now:       opts.Now,
		logger:    opts.Logger,
		targets:   make(map[string]*models.CrawlTarget),
		quotaUsed: make(map[string]int),
		changed:   make(chan struct{}),
	}
	if f.backoff == nil {
		f.backoff = func(int) time.Duration { return 0 }
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if cfg.MaxDuration > 0 {
		f.deadline = f.now().Add(cfg.MaxDuration)
	}
	return f
}

// Enqueue adds a target for rawURL unless it is invalid, already known,
// outside the target domains, deeper than MaxDepth or its domain quota is
// used up. Rejections are not errors.
func (f *Frontier) Enqueue(rawURL, parentURL string, depth int, category models.Category, basePriority float64) EnqueueResult {
	norm, err := Normalize(rawURL)
	if err != nil {
		return Invalid
	}
	u, err := url.Parse(norm)
	if err != nil {
		return Invalid
	}
	domain := config.DomainFor(f.cfg.TargetDomains, u.Hostname())
	if domain == "" {
		return NotAllowed
	}
	if depth > f.cfg.MaxDepth {
		return TooDeep
	}
	if category == "" {
		category = models.CategoryOther
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.targets[norm]; ok {
		return Duplicate
	}
	if quota := f.quotaFor(domain); quota > 0 && f.quotaUsed[domain] >= quota {
		f.logger.Debug("domain quota reached", slog.String("domain", domain), slog.String("url", norm))
		return QuotaExceeded
	}
	f.quotaUsed[domain]++

	now := f.now()
	t := &models.CrawlTarget{
		URL:             norm,
		ParentURL:       parentURL,
		Domain:          domain,
		BasePriority:    basePriority,
		DynamicPriority: clampPriority(basePriority),
		Depth:           depth,
		Category:        category,
		Status:          models.StatusPending,
		Scheduling: models.Scheduling{
			NextEligible:    now,
			RecrawlInterval: f.cfg.RecrawlInterval,
		},
		DiscoveredAt: now,
	}
	f.targets[norm] = t
	f.insertLocked(t)
	f.notifyLocked()
	return Accepted
}

func (f *Frontier) quotaFor(domain string) int {
	if q, ok := f.cfg.DomainQuotas[domain]; ok {
		return q
	}
	return f.cfg.DefaultDomainQuota
}

func (f *Frontier) maxRetries() int {
	if f.cfg.MaxRetries <= 0 {
		return 1
	}
	return f.cfg.MaxRetries
}

// Next blocks until a target is eligible and hands it out in the analyzing
// state. It returns ErrExhausted when the time or URL budget is spent, or
// when nothing is pending and nothing is in flight.
func (f *Frontier) Next(ctx context.Context) (models.CrawlTarget, error) {
	for {
		f.mu.Lock()
		now := f.now()
		if !f.deadline.IsZero() && !now.Before(f.deadline) {
			f.mu.Unlock()
			return models.CrawlTarget{}, ErrExhausted
		}
		if t := f.popEligibleLocked(now); t != nil {
			t.Status = models.StatusAnalyzing
			if t.Attempts == 0 {
				f.dispatched++
			}
			t.Attempts++
			f.inFlight++
			out := *t
			f.mu.Unlock()
			return out, nil
		}
		wait, ok := f.waitLocked(now)
		if !ok && f.inFlight == 0 {
			f.mu.Unlock()
			return models.CrawlTarget{}, ErrExhausted
		}
		changed := f.changed
		f.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if ok {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return models.CrawlTarget{}, ctx.Err()
		case <-changed:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (f *Frontier) newAllowedLocked() bool {
	return f.cfg.MaxURLs <= 0 || f.dispatched < f.cfg.MaxURLs
}

func (f *Frontier) dispatchableLocked(t *models.CrawlTarget) bool {
	if t.Attempts >= f.maxRetries() {
		return false
	}
	return t.Attempts > 0 || f.newAllowedLocked()
}

// popEligibleLocked removes and returns the best eligible pending target:
// highest priority first, then the most overdue.
func (f *Frontier) popEligibleLocked(now time.Time) *models.CrawlTarget {
	best := -1
	for i, t := range f.pending {
		if best >= 0 && t.DynamicPriority < f.pending[best].DynamicPriority {
			break
		}
		if t.Scheduling.NextEligible.After(now) || !f.dispatchableLocked(t) {
			continue
		}
		if best < 0 || t.Overdue(now) > f.pending[best].Overdue(now) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	t := f.pending[best]
	f.pending = append(f.pending[:best], f.pending[best+1:]...)
	return t
}

// waitLocked returns how long until the next pending target could become
// eligible, bounded by the deadline. ok is false when no pending target can
// ever be dispatched.
func (f *Frontier) waitLocked(now time.Time) (time.Duration, bool) {
	var earliest time.Time
	found := false
	for _, t := range f.pending {
		if !f.dispatchableLocked(t) {
			continue
		}
		if !found || t.Scheduling.NextEligible.Before(earliest) {
			earliest = t.Scheduling.NextEligible
			found = true
		}
	}
	if !found {
		return 0, false
	}
	if !f.deadline.IsZero() && f.deadline.Before(earliest) {
		earliest = f.deadline
	}
	wait := earliest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// Reprioritize recomputes the dynamic priority of url from its analysis
// and records the refined classification.
func (f *Frontier) Reprioritize(rawURL string, a models.ContentAnalysis) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.lookupLocked(rawURL)
	if err != nil {
		return 0, err
	}
	t.DynamicPriority = DynamicPriority(t.BasePriority, a)
	t.Metadata.EstimatedValue = t.DynamicPriority
	t.Category = a.Category
	t.Subcategory = a.Subcategory
	if f.removePendingLocked(t) {
		f.insertLocked(t)
	}
	return t.DynamicPriority, nil
}

// MarkProcessing moves an analysed target into extraction.
func (f *Frontier) MarkProcessing(rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.lookupLocked(rawURL)
	if err != nil {
		return err
	}
	return transition(t, models.StatusProcessing)
}

// Complete marks a processed target done. With re-crawling enabled the
// target is deferred and scheduled for a revisit.
func (f *Frontier) Complete(rawURL string, o Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.lookupLocked(rawURL)
	if err != nil {
		return err
	}
	if err := transition(t, models.StatusCompleted); err != nil {
		return err
	}
	f.inFlight--
	t.LastError = ""
	t.Metadata.LastContentHash = o.Hash
	t.Metadata.FileSize = o.Size
	f.scheduleRevisitLocked(t, o)
	f.notifyLocked()
	return nil
}

// Skip marks an analysed target skipped, either as a duplicate or because
// it failed the quality gate. Duplicates may still be revisited.
func (f *Frontier) Skip(rawURL, reason string, o Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.lookupLocked(rawURL)
	if err != nil {
		return err
	}
	if err := transition(t, models.StatusSkipped); err != nil {
		return err
	}
	f.inFlight--
	t.Metadata.LastContentHash = o.Hash
	t.Metadata.FileSize = o.Size
	f.logger.Debug("target skipped", slog.String("url", t.URL), slog.String("reason", reason))
	if o.Duplicate {
		f.scheduleRevisitLocked(t, o)
	}
	f.notifyLocked()
	return nil
}

// Fail records a failed attempt. While attempts remain the target returns
// to pending after a backoff; otherwise it becomes failed and terminal is
// true.
func (f *Frontier) Fail(rawURL string, cause error) (terminal bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.lookupLocked(rawURL)
	if err != nil {
		return false, err
	}
	if cause != nil {
		t.LastError = cause.Error()
	}
	if t.Status == models.StatusAnalyzing && t.Attempts < f.maxRetries() {
		if err := transition(t, models.StatusPending); err != nil {
			return false, err
		}
		f.inFlight--
		t.Scheduling.NextEligible = f.now().Add(f.backoff(t.Attempts))
		f.insertLocked(t)
		f.notifyLocked()
		return false, nil
	}
	if err := transition(t, models.StatusFailed); err != nil {
		return false, err
	}
	f.inFlight--
	f.notifyLocked()
	return true, nil
}

// scheduleRevisitLocked defers a finished target for a later re-crawl.
// Unchanged content doubles the interval, changed content halves it.
func (f *Frontier) scheduleRevisitLocked(t *models.CrawlTarget, o Outcome) {
	if !f.cfg.Recrawl || t.Scheduling.Revisits >= f.cfg.MaxRevisits {
		return
	}
	base := f.cfg.RecrawlInterval
	if base <= 0 {
		return
	}
	interval := t.Scheduling.RecrawlInterval
	if interval <= 0 {
		interval = base
	}
	switch {
	case o.Duplicate:
		interval = min(interval*2, base*4)
	case o.Changed:
		interval = max(interval/2, base/4)
	}

	if err := transition(t, models.StatusDeferred); err != nil {
		f.logger.Warn("defer target", slog.String("url", t.URL), slog.Any("error", err))
		return
	}
	t.Scheduling.Adaptive = true
	t.Scheduling.RecrawlInterval = interval
	t.Scheduling.Revisits++
	t.Scheduling.NextEligible = f.now().Add(interval)
	t.Metadata.ChangeFrequency = interval
	t.Attempts = 0
	if err := transition(t, models.StatusPending); err != nil {
		f.logger.Warn("reschedule target", slog.String("url", t.URL), slog.Any("error", err))
		return
	}
	f.insertLocked(t)
}

func transition(t *models.CrawlTarget, next models.Status) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, t.Status, next, t.URL)
	}
	t.Status = next
	return nil
}

func (f *Frontier) lookupLocked(rawURL string) (*models.CrawlTarget, error) {
	if t, ok := f.targets[rawURL]; ok {
		return t, nil
	}
	norm, err := Normalize(rawURL)
	if err == nil {
		if t, ok := f.targets[norm]; ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, rawURL)
}

func (f *Frontier) insertLocked(t *models.CrawlTarget) {
	i := sort.Search(len(f.pending), func(i int) bool {
		return f.pending[i].DynamicPriority < t.DynamicPriority
	})
	f.pending = append(f.pending, nil)
	copy(f.pending[i+1:], f.pending[i:])
	f.pending[i] = t
}

func (f *Frontier) removePendingLocked(t *models.CrawlTarget) bool {
	for i, p := range f.pending {
		if p == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Frontier) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Target returns a copy of the target for url.
func (f *Frontier) Target(rawURL string) (models.CrawlTarget, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.lookupLocked(rawURL)
	if err != nil {
		return models.CrawlTarget{}, false
	}
	return *t, true
}

// Failed lists the targets that ended in the failed state, by URL.
func (f *Frontier) Failed() []models.CrawlTarget {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.CrawlTarget
	for _, t := range f.targets {
		if t.Status == models.StatusFailed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// DomainUsage is the number of targets accepted for domain.
func (f *Frontier) DomainUsage(domain string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotaUsed[domain]
}

// Snapshot is a point-in-time summary of the frontier.
type Snapshot struct {
	Statuses   map[models.Status]int `json:"statuses"`
	Known      int                   `json:"known"`
	Pending    int                   `json:"pending"`
	InFlight   int                   `json:"in_flight"`
	Dispatched int                   `json:"dispatched"`
}

// Snapshot counts targets per status.
func (f *Frontier) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		Statuses:   make(map[models.Status]int),
		Known:      len(f.targets),
		Pending:    len(f.pending),
		InFlight:   f.inFlight,
		Dispatched: f.dispatched,
	}
	for _, t := range f.targets {
		s.Statuses[t.Status]++
	}
	return s
}
