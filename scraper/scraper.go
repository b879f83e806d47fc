// Package scraper is the stealth fetch layer: paced, identity-rotating
// single-attempt retrieval on top of a colly collector.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/models"
)

// Fetcher wraps the colly collector with adaptive pacing and per-host rate
// limits. One Fetcher is shared by all workers.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	Stealth   *Stealth
	Metrics   *Metrics
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error

	requestCount int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the HTTP transport, e.g. with an httpmock one.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.collector.WithTransport(rt) }
}

// WithStealth replaces the pacing state.
func WithStealth(s *Stealth) Option {
	return func(f *Fetcher) { f.Stealth = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) { f.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// WithSleep replaces the delay function.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = fn }
}

// NewFetcher builds a Fetcher configured from cfg.
func NewFetcher(cfg *config.Config, opts ...Option) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(cfg.MaxBodySize),
		colly.UserAgent(Identities[0].UserAgent),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		Stealth:   NewStealth(cfg.Stealth, uint64(time.Now().UnixNano())),
		Metrics:   NewMetrics(),
		logger:    slog.Default(),
		sleep:     sleepContext,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.configureHandlers()
	return f, nil
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		current := atomic.AddInt64(&f.requestCount, 1)
		f.Metrics.IncRequest("started")
		if current%50 == 0 {
			f.logger.Debug("fetch progress",
				slog.Int64("requests", current),
				slog.Float64("success_rate", f.Stealth.SuccessRate()),
				slog.String("url", r.URL.String()),
			)
		}
	})

	f.collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("response", r)
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Ctx != nil {
			r.Ctx.Put("status", r.StatusCode)
		}
	})
}

// Fetch retrieves rawURL once, after the stealth delay and the host rate
// limit. Failures are returned as *FetchError; retrying is up to the
// caller. Waits end early when ctx is cancelled, the request itself is not
// interrupted.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	delay := f.Stealth.NextDelay()
	f.Metrics.ObserveWait(delay.Wait, delay.Break)
	if delay.Break {
		f.logger.Info("stealth break", slog.Duration("pause", delay.Wait))
	}
	if err := f.sleep(ctx, delay.Wait); err != nil {
		return nil, err
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	id := f.Stealth.Identity()
	hdr := id.Header()
	if ref := f.Stealth.Referrer(); ref != "" {
		hdr.Set("Referer", ref)
	}

	cctx := colly.NewContext()
	start := time.Now()
	err = f.collector.Request(http.MethodGet, rawURL, nil, cctx, hdr)
	latency := time.Since(start)
	f.Metrics.ObserveDuration(latency)

	resp, _ := cctx.GetAny("response").(*colly.Response)
	if err == nil && resp == nil {
		err = errors.New("no response")
	}
	if err != nil {
		status, _ := cctx.GetAny("status").(int)
		classified := classifyError(err, status)
		category := errorTypeLabel(classified)
		f.Stealth.Record(false)
		f.Metrics.IncRequest("failed")
		f.Metrics.IncError(category)
		f.logger.Warn("fetch failed",
			slog.String("url", rawURL),
			slog.Int("status", status),
			slog.String("category", category),
			slog.Any("error", err),
		)
		return nil, &FetchError{URL: rawURL, StatusCode: status, Err: classified}
	}

	f.Stealth.Record(true)
	f.Metrics.IncRequest("succeeded")
	f.Metrics.AddBytes(len(resp.Body))

	contentType := resp.Headers.Get("Content-Type")
	result := &models.FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		Content:     toUTF8(resp.Body, contentType),
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		Latency:     latency,
		Identity:    id.Name,
		FetchedAt:   time.Now(),
	}
	if lm := resp.Headers.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			result.LastModified = t
		}
	}
	return result, nil
}

// Requests is the number of requests sent so far.
func (f *Fetcher) Requests() int64 {
	return atomic.LoadInt64(&f.requestCount)
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[host]; ok {
		return l
	}
	limit := rate.Inf
	if f.cfg.HostRate > 0 {
		limit = rate.Limit(f.cfg.HostRate)
	}
	l := rate.NewLimiter(limit, 1)
	f.limiters[host] = l
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
