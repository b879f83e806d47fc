package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/extract"
	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
	"github.com/aluiziolira/civic-crawler/scraper"
	"github.com/aluiziolira/civic-crawler/store"
)

const seedURL = "https://council.test/home"

type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	failing map[string]error
	calls   map[string]int
	delay   time.Duration
	onFetch func()
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   make(map[string]string),
		failing: make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*models.FetchResult, error) {
	f.mu.Lock()
	f.calls[url]++
	body, ok := f.pages[url]
	failure := f.failing[url]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, &scraper.FetchError{URL: url, StatusCode: http.StatusNotFound, Err: scraper.ErrNotFound{Err: errors.New("missing")}}
	}
	return &models.FetchResult{
		URL:         url,
		FinalURL:    url,
		Content:     []byte(body),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  http.StatusOK,
		FetchedAt:   time.Now(),
	}, nil
}

func (f *fakeFetcher) callsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type failingPersister struct {
	*store.Memory
}

func (failingPersister) Persist(context.Context, *models.Record) (string, error) {
	return "", errors.New("database unavailable")
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.TargetDomains = []string{"council.test"}
	cfg.Seeds = []config.Seed{{URL: seedURL, Category: models.CategoryOther, Priority: 10}}
	cfg.Concurrency = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	cfg.CheckpointDir = ""
	cfg.CheckpointEvery = 0
	cfg.VisitedFile = ""
	for _, c := range models.Categories {
		cfg.QualityThresholds[c] = 0
	}
	return cfg
}

func page(title string, links ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><h1>%s</h1>", title, title)
	b.WriteString("<p>Contact the council on 01632 960123 or email info@council.test for details.</p><ul>")
	for _, l := range links {
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, l, l)
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

func newEngine(t *testing.T, cfg *config.Config, f Fetcher, p Persister, ext *extract.Extractor) *Engine {
	t.Helper()
	e, err := New(cfg, Deps{Fetcher: f, Persister: p, Extractor: ext})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func runEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(testConfig(), Deps{Persister: store.NewMemory()}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
	if _, err := New(testConfig(), Deps{Fetcher: newFakeFetcher()}); err == nil {
		t.Fatalf("expected error without persister")
	}
}

func TestRunDiscoversAndPersists(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDepth = 1
	f := newFakeFetcher()
	f.pages[seedURL] = page("Council home", "/meetings", "/budget", "https://elsewhere.test/news")
	f.pages["https://council.test/meetings"] = page("Meetings", "/meetings/deeper")
	f.pages["https://council.test/budget"] = page("Budget")
	mem := store.NewMemory()

	e := newEngine(t, cfg, f, mem, nil)
	runEngine(t, e)

	records := mem.Records()
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	for _, r := range records {
		if err := parser.ValidateRecord(r); err != nil {
			t.Fatalf("invalid record %s: %v", r.URL, err)
		}
		if r.SessionID != e.Session().ID() {
			t.Fatalf("record session = %q", r.SessionID)
		}
	}
	if f.callsFor("https://elsewhere.test/news") != 0 {
		t.Fatalf("fetched a URL outside the target domains")
	}
	if f.callsFor("https://council.test/meetings/deeper") != 0 {
		t.Fatalf("fetched beyond max depth")
	}

	snap := e.Session().Snapshot()
	if snap.ProcessedURLs != 3 || snap.TotalURLs != 3 || snap.FailedURLs != 0 {
		t.Fatalf("session counters: %+v", snap)
	}
	status := e.FrontierStatus()
	if status[string(models.StatusCompleted)] != 3 {
		t.Fatalf("frontier status = %v", status)
	}
}

func TestDuplicateContentIsSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.Recrawl = true
	cfg.RecrawlInterval = 10 * time.Millisecond
	cfg.MaxRevisits = 1
	f := newFakeFetcher()
	f.pages[seedURL] = page("Council home")
	mem := store.NewMemory()

	e := newEngine(t, cfg, f, mem, nil)
	runEngine(t, e)

	if got := f.callsFor(seedURL); got != 2 {
		t.Fatalf("fetches=%d, want 2", got)
	}
	snap := e.Session().Snapshot()
	if snap.DuplicateURLs != 1 {
		t.Fatalf("duplicates=%d, want 1", snap.DuplicateURLs)
	}
	if snap.ProcessedURLs != 1 {
		t.Fatalf("processed=%d, want 1", snap.ProcessedURLs)
	}
	if len(mem.Records()) != 1 {
		t.Fatalf("records=%d, want 1", len(mem.Records()))
	}
}

func TestChangedContentIsRevisit(t *testing.T) {
	cfg := testConfig()
	cfg.Recrawl = true
	cfg.RecrawlInterval = 10 * time.Millisecond
	cfg.MaxRevisits = 1
	f := newFakeFetcher()
	f.pages[seedURL] = page("Council home")
	f.onFetch = func() {
		f.mu.Lock()
		if f.calls[seedURL] == 1 {
			f.pages[seedURL] = page("Council home, updated")
		}
		f.mu.Unlock()
	}
	mem := store.NewMemory()

	e := newEngine(t, cfg, f, mem, nil)
	runEngine(t, e)

	records := mem.Records()
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0].Revisit || !records[1].Revisit {
		t.Fatalf("revisit flags = %v, %v", records[0].Revisit, records[1].Revisit)
	}
	if snap := e.Session().Snapshot(); snap.Revisits != 1 || snap.ProcessedURLs != 2 {
		t.Fatalf("session: revisits=%d processed=%d", snap.Revisits, snap.ProcessedURLs)
	}
}

func TestRetriesExhaustThenFail(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	f := newFakeFetcher()
	f.failing[seedURL] = &scraper.FetchError{URL: seedURL, StatusCode: 503, Err: scraper.ErrServer{Err: errors.New("unavailable")}}

	e := newEngine(t, cfg, f, store.NewMemory(), nil)
	runEngine(t, e)

	if got := f.callsFor(seedURL); got != 3 {
		t.Fatalf("fetch attempts=%d, want 3", got)
	}
	target, ok := e.Frontier().Target(seedURL)
	if !ok || target.Status != models.StatusFailed {
		t.Fatalf("target = %+v", target)
	}
	snap := e.Session().Snapshot()
	if snap.FailedURLs != 1 || snap.Retries != 2 {
		t.Fatalf("failed=%d retries=%d", snap.FailedURLs, snap.Retries)
	}
	if snap.ErrorsByType["server"] != 3 {
		t.Fatalf("errors by type = %v", snap.ErrorsByType)
	}
}

func TestBelowThresholdIsSkippedWithoutExtraction(t *testing.T) {
	cfg := testConfig()
	for _, c := range models.Categories {
		cfg.QualityThresholds[c] = 101
	}
	f := newFakeFetcher()
	f.pages[seedURL] = page("Council home", "/meetings")
	mem := store.NewMemory()

	var extracted atomic.Int32
	ext := extract.New(extract.LimitsFrom(cfg), nil)
	if err := ext.Register("probe", extract.UnitFunc(func(*parser.Document) (any, error) {
		extracted.Add(1)
		return nil, nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	e := newEngine(t, cfg, f, mem, ext)
	runEngine(t, e)

	target, _ := e.Frontier().Target(seedURL)
	if target.Status != models.StatusSkipped {
		t.Fatalf("status = %s, want skipped", target.Status)
	}
	snap := e.Session().Snapshot()
	if snap.SkippedURLs != 1 || snap.FailedURLs != 0 || snap.SkipReasons[ReasonBelowThreshold] != 1 {
		t.Fatalf("session: %+v", snap)
	}
	if extracted.Load() != 0 || len(mem.Records()) != 0 {
		t.Fatalf("extraction ran for a skipped page")
	}
	if f.callsFor("https://council.test/meetings") != 0 {
		t.Fatalf("links of a skipped page were followed")
	}
}

func TestConcurrencyBound(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 3
	f := newFakeFetcher()
	f.delay = 5 * time.Millisecond
	var links []string
	for i := 0; i < 9; i++ {
		link := fmt.Sprintf("/page/%d", i)
		links = append(links, link)
		f.pages["https://council.test"+link] = page(fmt.Sprintf("Page %d", i))
	}
	f.pages[seedURL] = page("Council home", links...)
	mem := store.NewMemory()

	e := newEngine(t, cfg, f, mem, nil)
	var maxInFlight atomic.Int32
	f.onFetch = func() {
		n := int32(e.Frontier().Snapshot().InFlight)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				return
			}
		}
	}
	runEngine(t, e)

	if got := maxInFlight.Load(); got > 3 {
		t.Fatalf("in-flight targets peaked at %d, want <= 3", got)
	}
	if got := len(mem.Records()); got != 10 {
		t.Fatalf("records=%d, want 10", got)
	}
}

func TestPersistFailureStillCompletes(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher()
	f.pages[seedURL] = page("Council home")

	e := newEngine(t, cfg, f, failingPersister{store.NewMemory()}, nil)
	runEngine(t, e)

	target, _ := e.Frontier().Target(seedURL)
	if target.Status != models.StatusCompleted {
		t.Fatalf("status = %s, want completed", target.Status)
	}
	snap := e.Session().Snapshot()
	if snap.PersistFailures != 1 || snap.ProcessedURLs != 1 {
		t.Fatalf("session: %+v", snap)
	}
	if report := e.Session().Report(); len(report.PersistFailures) != 1 || report.PersistFailures[0].URL != seedURL {
		t.Fatalf("report persist failures = %+v", report.PersistFailures)
	}
}

func TestCrossSessionDedup(t *testing.T) {
	cfg := testConfig()
	cfg.CrossSessionDedup = true
	body := page("Council home", "/mirror")
	f := newFakeFetcher()
	f.pages[seedURL] = body
	f.pages["https://council.test/mirror"] = body
	mem := store.NewMemory()

	e := newEngine(t, cfg, f, mem, nil)
	runEngine(t, e)

	if len(mem.Records()) != 1 {
		t.Fatalf("records=%d, want 1", len(mem.Records()))
	}
	if snap := e.Session().Snapshot(); snap.DuplicateURLs != 1 {
		t.Fatalf("duplicates=%d, want 1", snap.DuplicateURLs)
	}
}

func TestRunWithMockedTransport(t *testing.T) {
	cfg := testConfig()
	cfg.Seeds = []config.Seed{{URL: "http://council.test/meetings", Category: models.CategoryMeeting, Priority: 12}}
	cfg.Stealth = config.StealthConfig{}
	cfg.HostRate = 0

	transport := httpmock.NewMockTransport()
	respond := func(body string) httpmock.Responder {
		return func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(200, body)
			resp.Header.Set("Content-Type", "text/html; charset=utf-8")
			return resp, nil
		}
	}
	transport.RegisterResponder("GET", "http://council.test/meetings", respond(page("Committee meetings", "/meetings/agenda")))
	transport.RegisterResponder("GET", "http://council.test/meetings/agenda", respond(page("Agenda")))

	fetcher, err := scraper.NewFetcher(cfg, scraper.WithTransport(transport), scraper.WithStealth(scraper.NewStealth(cfg.Stealth, 1)))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	mem := store.NewMemory()
	e := newEngine(t, cfg, fetcher, mem, nil)
	runEngine(t, e)

	if got := transport.GetTotalCallCount(); got != 2 {
		t.Fatalf("http calls=%d, want 2", got)
	}
	if len(mem.Records()) != 2 {
		t.Fatalf("records=%d, want 2", len(mem.Records()))
	}
}

func TestLinkPriority(t *testing.T) {
	parent := models.CrawlTarget{BasePriority: 10}
	tests := []struct {
		link string
		want float64
	}{
		{"https://council.test/news", 9},
		{"https://council.test/budget.pdf", 11},
	}
	for _, tt := range tests {
		if got := LinkPriority(parent, tt.link); got != tt.want {
			t.Errorf("LinkPriority(%q) = %v, want %v", tt.link, got, tt.want)
		}
	}
	if got := LinkPriority(models.CrawlTarget{BasePriority: 1}, "https://council.test/a"); got != 1 {
		t.Errorf("priority should be floored at 1, got %v", got)
	}
}
