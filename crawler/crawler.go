// Package crawler drives crawl targets from the frontier through fetching,
// classification, extraction and persistence.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/civic-crawler/classifier"
	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/dedup"
	"github.com/aluiziolira/civic-crawler/extract"
	"github.com/aluiziolira/civic-crawler/frontier"
	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/scraper"
	"github.com/aluiziolira/civic-crawler/session"
)

// Skip reasons reported to the session.
const (
	ReasonBelowThreshold = "below_quality_threshold"
	ReasonUnreadable     = "unreadable_content"
	ReasonDuplicate      = "duplicate"
)

// Fetcher retrieves one URL. scraper.Fetcher is the production
// implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.FetchResult, error)
}

// Persister stores records. Persist returns the id of the stored record;
// ExistsByHash lets the engine skip content stored by an earlier run.
type Persister interface {
	Persist(ctx context.Context, rec *models.Record) (string, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Close() error
}

// Deps are the collaborators of an Engine. Fetcher and Persister are
// required; the rest are built from the configuration when nil.
type Deps struct {
	Fetcher   Fetcher
	Persister Persister
	Frontier  *frontier.Frontier
	Detector  *dedup.Detector
	Analyzer  *classifier.Analyzer
	Extractor *extract.Extractor
	Session   *session.Aggregator
	Metrics   *scraper.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine runs a pool of crawl workers over a shared frontier.
type Engine struct {
	cfg       *config.Config
	fetcher   Fetcher
	persister Persister
	frontier  *frontier.Frontier
	detector  *dedup.Detector
	analyzer  *classifier.Analyzer
	extractor *extract.Extractor
	session   *session.Aggregator
	metrics   *scraper.Metrics
	logger    *slog.Logger
	now       func() time.Time

	requests atomic.Int64
}

// New wires an Engine for cfg.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	if deps.Persister == nil {
		return nil, errors.New("crawler: persister is required")
	}
	e := &Engine{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		persister: deps.Persister,
		frontier:  deps.Frontier,
		detector:  deps.Detector,
		analyzer:  deps.Analyzer,
		extractor: deps.Extractor,
		session:   deps.Session,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.frontier == nil {
		e.frontier = frontier.New(cfg, frontier.Options{
			Backoff: func(attempt int) time.Duration {
				return scraper.Backoff(attempt, cfg.RetryBackoff, cfg.RetryBackoffMax, 0.2)
			},
			Now:    e.now,
			Logger: e.logger,
		})
	}
	if e.detector == nil {
		e.detector = dedup.New()
	}
	if e.analyzer == nil {
		a, err := classifier.NewAnalyzer(cfg)
		if err != nil {
			return nil, fmt.Errorf("crawler: %w", err)
		}
		e.analyzer = a
	}
	if e.extractor == nil {
		e.extractor = extract.New(extract.LimitsFrom(cfg), e.logger)
	}
	if e.session == nil {
		opts := session.Options{
			CheckpointEvery: cfg.CheckpointEvery,
			FrontierStatus:  e.FrontierStatus,
			Now:             e.now,
			Logger:          e.logger,
		}
		if cfg.CheckpointDir != "" {
			opts.Checkpointer = session.FileCheckpointer{Dir: cfg.CheckpointDir}
		}
		e.session = session.New(opts)
	}
	return e, nil
}

// Session returns the aggregator that records this crawl.
func (e *Engine) Session() *session.Aggregator { return e.session }

// Frontier returns the engine's frontier.
func (e *Engine) Frontier() *frontier.Frontier { return e.frontier }

// Detector returns the content hash detector.
func (e *Engine) Detector() *dedup.Detector { return e.detector }

// FrontierStatus counts frontier targets by status.
func (e *Engine) FrontierStatus() map[string]int {
	snap := e.frontier.Snapshot()
	out := make(map[string]int, len(snap.Statuses))
	for status, n := range snap.Statuses {
		out[string(status)] = n
	}
	return out
}

// Seed enqueues the configured seeds and returns how many were accepted.
func (e *Engine) Seed() int {
	accepted := 0
	for _, s := range e.cfg.Seeds {
		res := e.frontier.Enqueue(s.URL, "", 0, s.Category, s.Priority)
		if res != frontier.Accepted {
			e.logger.Warn("seed rejected", slog.String("url", s.URL), slog.String("result", res.String()))
			continue
		}
		accepted++
	}
	e.session.RecordDiscovered(accepted)
	return accepted
}

// Run seeds the frontier and processes targets with Concurrency workers
// until the frontier is exhausted or ctx is cancelled. Workers finish the
// target they hold before returning.
func (e *Engine) Run(ctx context.Context) error {
	if e.Seed() == 0 && e.frontier.Snapshot().Pending == 0 {
		return errors.New("crawler: no seed was accepted")
	}

	workers := e.cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	e.logger.Info("crawl started",
		slog.String("session", e.session.ID()),
		slog.Int("workers", workers),
		slog.Int("seeds", len(e.cfg.Seeds)),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return e.worker(gctx)
		})
	}
	err := g.Wait()

	if e.cfg.VisitedFile != "" {
		if serr := e.detector.Save(e.cfg.VisitedFile); serr != nil {
			e.logger.Error("save visited hashes", slog.String("path", e.cfg.VisitedFile), slog.Any("error", serr))
		}
	}
	e.metrics.SetFrontier(e.FrontierStatus())
	return err
}

func (e *Engine) worker(ctx context.Context) error {
	for {
		target, err := e.frontier.Next(ctx)
		if errors.Is(err, frontier.ErrExhausted) {
			return nil
		}
		if err != nil {
			return err
		}
		e.process(ctx, target)
		e.metrics.SetFrontier(e.FrontierStatus())
	}
}

// process takes one target from analyzing to a final or retry state.
func (e *Engine) process(ctx context.Context, t models.CrawlTarget) {
	n := e.requests.Add(1)
	if n%50 == 0 {
		snap := e.session.Snapshot()
		e.logger.Debug("crawl progress",
			slog.Int64("requests", n),
			slog.Int("processed", snap.ProcessedURLs),
			slog.Int("failed", snap.FailedURLs),
			slog.String("url", t.URL),
		)
	}

	res, err := e.fetcher.Fetch(ctx, t.URL)
	if err != nil {
		e.fetchFailed(ctx, t, err)
		return
	}
	e.session.RecordFetched(len(res.Content))

	seen := e.detector.CheckAndRecord(t.URL, res.Content)
	outcome := frontier.Outcome{Hash: seen.Hash, Size: int64(len(res.Content)), Changed: seen.Changed}
	if !seen.IsNew {
		e.duplicate(t, outcome)
		return
	}
	if e.cfg.CrossSessionDedup && !seen.Changed {
		stored, err := e.persister.ExistsByHash(ctx, seen.Hash)
		if err != nil {
			e.logger.Warn("hash lookup failed", slog.String("url", t.URL), slog.Any("error", err))
		} else if stored {
			e.duplicate(t, outcome)
			return
		}
	}

	signals, err := e.analyzer.Inspect(res.Content, res.ContentType, t.URL, res.LastModified)
	if err != nil {
		e.logger.Warn("analysis failed", slog.String("url", t.URL), slog.Any("error", err))
		e.skip(t, ReasonUnreadable, outcome)
		return
	}
	analysis := classifier.AnalyzeSignals(signals, e.now())
	priority, err := e.frontier.Reprioritize(t.URL, analysis)
	if err != nil {
		e.logger.Warn("reprioritize", slog.String("url", t.URL), slog.Any("error", err))
	}
	t.Category = analysis.Category
	t.Subcategory = analysis.Subcategory

	quality := classifier.ScoreSignals(signals, analysis.Category, analysis)
	e.metrics.ObserveQuality(quality.Overall())
	if !e.analyzer.MeetsThreshold(quality, analysis.Category) {
		e.logger.Debug("below quality threshold",
			slog.String("url", t.URL),
			slog.String("category", string(analysis.Category)),
			slog.Int("score", quality.Overall()),
			slog.Int("threshold", e.analyzer.Threshold(analysis.Category)),
		)
		e.skip(t, ReasonBelowThreshold, outcome)
		return
	}

	if err := e.frontier.MarkProcessing(t.URL); err != nil {
		e.logger.Error("mark processing", slog.String("url", t.URL), slog.Any("error", err))
		return
	}

	rec := &models.Record{
		SessionID:    e.session.ID(),
		URL:          t.URL,
		ParentURL:    t.ParentURL,
		Depth:        t.Depth,
		Domain:       t.Domain,
		Category:     analysis.Category,
		Subcategory:  analysis.Subcategory,
		Analysis:     analysis,
		Quality:      quality,
		OverallScore: quality.Overall(),
		Extracted:    e.extractor.Extract(res.Content, res.ContentType, t.URL),
		ContentHash:  seen.Hash,
		Revisit:      seen.Changed,
		ContentType:  res.ContentType,
		Bytes:        len(res.Content),
		Latency:      res.Latency,
		Priority:     priority,
		FetchedAt:    res.FetchedAt,
	}

	if _, err := e.persister.Persist(ctx, rec); err != nil {
		e.logger.Error("persist record", slog.String("url", t.URL), slog.Any("error", err))
		e.session.RecordPersistFailure(t.URL, err)
		e.metrics.IncError("persist")
	}

	e.discover(t, rec.Extracted.Links)

	if err := e.frontier.Complete(t.URL, outcome); err != nil {
		e.logger.Error("complete target", slog.String("url", t.URL), slog.Any("error", err))
	}
	e.session.RecordProcessed(rec)
	e.metrics.IncTarget(string(models.StatusCompleted))
}

func (e *Engine) fetchFailed(ctx context.Context, t models.CrawlTarget, err error) {
	errType := scraper.ErrorType(err)
	terminal, ferr := e.frontier.Fail(t.URL, err)
	if ferr != nil {
		e.logger.Error("fail target", slog.String("url", t.URL), slog.Any("error", ferr))
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !terminal {
		e.session.RecordRetry(errType)
		e.metrics.IncRetries()
		e.logger.Debug("fetch failed, retry scheduled",
			slog.String("url", t.URL),
			slog.Int("attempt", t.Attempts),
			slog.String("error_type", errType),
		)
		return
	}
	e.logger.Warn("target failed",
		slog.String("url", t.URL),
		slog.Int("attempts", t.Attempts),
		slog.String("error_type", errType),
		slog.Any("error", err),
	)
	e.session.RecordFailed(t.URL, t.Domain, t.Category, errType)
	e.metrics.IncTarget(string(models.StatusFailed))
}

func (e *Engine) duplicate(t models.CrawlTarget, o frontier.Outcome) {
	o.Duplicate = true
	if err := e.frontier.Skip(t.URL, ReasonDuplicate, o); err != nil {
		e.logger.Error("skip duplicate", slog.String("url", t.URL), slog.Any("error", err))
	}
	e.session.RecordDuplicate(t.Domain, t.Category)
	e.metrics.IncTarget(ReasonDuplicate)
}

func (e *Engine) skip(t models.CrawlTarget, reason string, o frontier.Outcome) {
	if err := e.frontier.Skip(t.URL, reason, o); err != nil {
		e.logger.Error("skip target", slog.String("url", t.URL), slog.Any("error", err))
	}
	e.session.RecordSkipped(t.Domain, t.Category, reason)
	e.metrics.IncTarget(string(models.StatusSkipped))
}

// discover enqueues the links of a processed page one level deeper.
func (e *Engine) discover(parent models.CrawlTarget, links []string) {
	if parent.Depth >= e.cfg.MaxDepth {
		return
	}
	accepted := 0
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		category := classifier.CategoryFromURL(u.Path, parent.Category)
		if e.frontier.Enqueue(link, parent.URL, parent.Depth+1, category, LinkPriority(parent, link)) == frontier.Accepted {
			accepted++
		}
	}
	if accepted > 0 {
		e.session.RecordDiscovered(accepted)
	}
}

// LinkPriority is the base priority of a link found on parent: one below
// the parent's base, two above it for downloadable documents.
func LinkPriority(parent models.CrawlTarget, link string) float64 {
	p := parent.BasePriority - 1
	if extract.DocumentType(link) != "" {
		p += 2
	}
	return min(max(p, frontier.MinPriority), frontier.MaxPriority)
}
