package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"golang.org/x/text/encoding/charmap"

	"github.com/aluiziolira/civic-crawler/config"
)

func quietConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.TargetDomains = []string{"council.test"}
	cfg.Stealth = config.StealthConfig{}
	cfg.HostRate = 0
	return cfg
}

func newTestFetcher(t *testing.T, cfg *config.Config, transport http.RoundTripper) *Fetcher {
	t.Helper()
	f, err := NewFetcher(cfg, WithTransport(transport), WithStealth(NewStealth(cfg.Stealth, 1)))
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	return f
}

func TestBackoffCapped(t *testing.T) {
	base := 200 * time.Millisecond
	limit := 500 * time.Millisecond

	if got := Backoff(1, base, limit, 0); got != base {
		t.Fatalf("first backoff = %v, want %v", got, base)
	}
	if got := Backoff(2, base, limit, 0); got != 400*time.Millisecond {
		t.Fatalf("second backoff = %v, want 400ms", got)
	}
	if got := Backoff(4, base, limit, 0); got != limit {
		t.Fatalf("backoff %v should be capped at %v", got, limit)
	}
	for i := 0; i < 100; i++ {
		got := Backoff(3, base, time.Hour, 0.25)
		if got < 600*time.Millisecond || got > 1000*time.Millisecond {
			t.Fatalf("jittered backoff %v outside [600ms, 1s]", got)
		}
	}
	if got := Backoff(100, time.Minute, 0, 0); got <= 0 {
		t.Fatalf("large attempt overflowed: %v", got)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "gone", err: nil, statusCode: http.StatusGone, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: errors.New("Bad Gateway"), statusCode: http.StatusBadGateway, expected: "server"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestFetchSuccess(t *testing.T) {
	cfg := quietConfig()
	transport := httpmock.NewMockTransport()

	var mu sync.Mutex
	var agents []string
	transport.RegisterResponder("GET", "http://council.test/meetings", func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		agents = append(agents, req.Header.Get("User-Agent"))
		mu.Unlock()
		resp := httpmock.NewStringResponse(200, "<html><title>Meetings</title></html>")
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Header.Set("Last-Modified", "Wed, 05 Mar 2025 10:00:00 GMT")
		return resp, nil
	})

	f := newTestFetcher(t, cfg, transport)
	res, err := f.Fetch(context.Background(), "http://council.test/meetings")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != 200 || !strings.Contains(string(res.Content), "Meetings") {
		t.Fatalf("unexpected result: status=%d body=%q", res.StatusCode, res.Content)
	}
	if res.Identity == "" || res.ContentType == "" {
		t.Fatalf("identity/content type missing: %+v", res)
	}
	if want := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC); !res.LastModified.Equal(want) {
		t.Fatalf("last modified = %s, want %s", res.LastModified, want)
	}
	if len(agents) != 1 || agents[0] == "" {
		t.Fatalf("user agent not sent: %v", agents)
	}
	if f.Stealth.SuccessRate() != 1 {
		t.Fatalf("success rate = %v", f.Stealth.SuccessRate())
	}
}

func TestFetchStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusServiceUnavailable, expected: "server"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", "http://council.test/page", httpmock.NewStringResponder(tt.status, ""))

			f := newTestFetcher(t, quietConfig(), transport)
			_, err := f.Fetch(context.Background(), "http://council.test/page")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", fe.StatusCode, tt.status)
			}
			if got := ErrorType(err); got != tt.expected {
				t.Fatalf("ErrorType = %q, want %q", got, tt.expected)
			}
			if f.Stealth.SuccessRate() != 0 {
				t.Fatalf("failure not recorded")
			}
		})
	}
}

func TestFetchConnectionError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://council.test/down",
		httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}))

	f := newTestFetcher(t, quietConfig(), transport)
	_, err := f.Fetch(context.Background(), "http://council.test/down")
	if got := ErrorType(err); got != "connection" {
		t.Fatalf("ErrorType = %q, want connection (err=%v)", got, err)
	}
}

func TestFetchConvertsMetaCharset(t *testing.T) {
	body, err := charmap.Windows1252.NewEncoder().String(`<html><head><meta charset="windows-1252"></head><body>Caf` + "é" + ` opening hours</body></html>`)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://council.test/cafe", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, body)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})

	f := newTestFetcher(t, quietConfig(), transport)
	res, err := f.Fetch(context.Background(), "http://council.test/cafe")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(res.Content), "Café") {
		t.Fatalf("body not converted to UTF-8: %q", res.Content)
	}
}

func TestFetchStopsWhenContextCancelled(t *testing.T) {
	cfg := quietConfig()
	cfg.Stealth.MinDelay = time.Hour
	cfg.Stealth.MaxDelay = time.Hour
	transport := httpmock.NewMockTransport()

	f := newTestFetcher(t, cfg, transport)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx, "http://council.test/slow"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("request should not have been sent")
	}
}

func TestStealthDelayWindow(t *testing.T) {
	cfg := config.StealthConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second}
	s := NewStealth(cfg, 7)
	for i := 0; i < 200; i++ {
		d := s.NextDelay()
		if d.Break {
			t.Fatalf("breaks are disabled")
		}
		if d.Wait < time.Second || d.Wait > 2*time.Second {
			t.Fatalf("delay %v outside the window", d.Wait)
		}
	}
}

func TestStealthSlowsDownOnFailures(t *testing.T) {
	cfg := config.StealthConfig{MinDelay: time.Second, MaxDelay: time.Second}
	s := NewStealth(cfg, 1)
	if d := s.NextDelay(); d.Wait != time.Second {
		t.Fatalf("baseline delay = %v", d.Wait)
	}
	for i := 0; i < 5; i++ {
		s.Record(false)
	}
	if d := s.NextDelay(); d.Wait != 2*time.Second {
		t.Fatalf("delay after failures = %v, want 2s", d.Wait)
	}
}

func TestStealthSlowsDownWhenBursty(t *testing.T) {
	cfg := config.StealthConfig{MinDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, MinRequestInterval: time.Second}
	s := NewStealth(cfg, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	var last Delay
	for i := 0; i < 5; i++ {
		last = s.NextDelay()
	}
	if last.Wait != 150*time.Millisecond {
		t.Fatalf("bursty delay = %v, want 150ms", last.Wait)
	}
}

func TestStealthBreaks(t *testing.T) {
	cfg := config.StealthConfig{
		BreakEveryMin: 3,
		BreakEveryMax: 3,
		BreakMin:      time.Minute,
		BreakMax:      time.Minute,
	}
	s := NewStealth(cfg, 1)
	var breaks []int
	for i := 1; i <= 9; i++ {
		if d := s.NextDelay(); d.Break {
			if d.Wait != time.Minute {
				t.Fatalf("break wait = %v", d.Wait)
			}
			breaks = append(breaks, i)
		}
	}
	if fmt.Sprint(breaks) != "[3 6 9]" {
		t.Fatalf("breaks at %v, want [3 6 9]", breaks)
	}

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	timed := NewStealth(config.StealthConfig{SessionBreakInterval: 10 * time.Minute, BreakMin: time.Second, BreakMax: time.Second}, 1)
	timed.now = func() time.Time { return clock }
	timed.lastBreak = clock
	if d := timed.NextDelay(); d.Break {
		t.Fatalf("no break expected yet")
	}
	clock = clock.Add(11 * time.Minute)
	if d := timed.NextDelay(); !d.Break {
		t.Fatalf("session break expected after the interval")
	}
}

func TestStealthReferrerChance(t *testing.T) {
	never := NewStealth(config.StealthConfig{}, 1)
	always := NewStealth(config.StealthConfig{ReferrerChance: 1}, 1)
	for i := 0; i < 20; i++ {
		if never.Referrer() != "" {
			t.Fatalf("referrer added with zero chance")
		}
		if always.Referrer() == "" {
			t.Fatalf("referrer missing with chance 1")
		}
	}
}

func TestIdentityHeader(t *testing.T) {
	for _, id := range Identities {
		h := id.Header()
		if h.Get("User-Agent") != id.UserAgent || h.Get("Accept") == "" || h.Get("Accept-Language") == "" {
			t.Fatalf("identity %s has incomplete headers: %v", id.Name, h)
		}
	}
}
