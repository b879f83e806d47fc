package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/civic-crawler/models"
)

type memoryCheckpointer struct {
	mu    sync.Mutex
	saved []Checkpoint
	err   error
}

func (m *memoryCheckpointer) Save(cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, cp)
	return nil
}

func (m *memoryCheckpointer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	var mu sync.Mutex
	now := start
	return func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}, func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
}

func record(category models.Category, domain string, score int) *models.Record {
	return &models.Record{URL: "https://" + domain + "/x", Domain: domain, Category: category, OverallScore: score}
}

func TestAggregatorCounters(t *testing.T) {
	a := New(Options{ID: "s1"})
	a.RecordDiscovered(10)
	a.RecordFetched(2048)
	a.RecordProcessed(record(models.CategoryFinance, "council.gov.uk", 85))
	rev := record(models.CategoryFinance, "council.gov.uk", 100)
	rev.Revisit = true
	a.RecordProcessed(rev)
	a.RecordProcessed(record(models.CategoryMeeting, "parish.gov.uk", 5))
	a.RecordRetry("timeout")
	a.RecordFailed("https://council.gov.uk/down", "council.gov.uk", models.CategoryService, "timeout")
	a.RecordDuplicate("council.gov.uk", models.CategoryFinance)
	a.RecordSkipped("parish.gov.uk", models.CategoryTransparency, "quality")
	a.RecordPersistFailure("https://council.gov.uk/x", errors.New("db down"))

	s := a.Snapshot()
	if s.ID != "s1" || s.Status != models.SessionRunning {
		t.Fatalf("unexpected identity: %+v", s)
	}
	if s.TotalURLs != 10 || s.ProcessedURLs != 3 || s.FailedURLs != 1 || s.DuplicateURLs != 1 || s.SkippedURLs != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.Revisits != 1 || s.Retries != 1 || s.PersistFailures != 1 || s.BytesDownloaded != 2048 {
		t.Fatalf("unexpected extras: %+v", s)
	}
	if s.ErrorsByType["timeout"] != 2 || s.SkipReasons["quality"] != 1 {
		t.Fatalf("errors=%v skips=%v", s.ErrorsByType, s.SkipReasons)
	}
	if s.QualityHistogram[8] != 1 || s.QualityHistogram[9] != 1 || s.QualityHistogram[0] != 1 {
		t.Fatalf("histogram = %v", s.QualityHistogram)
	}
	finance := s.Categories[models.CategoryFinance]
	if finance.Processed != 2 || finance.Duplicates != 1 || finance.AverageQuality() != 92.5 {
		t.Fatalf("finance breakdown = %+v", finance)
	}
	if d := s.Domains["council.gov.uk"]; d.Processed != 2 || d.Failed != 1 || d.Duplicates != 1 {
		t.Fatalf("domain breakdown = %+v", d)
	}

	s.Categories[models.CategoryFinance] = models.Breakdown{}
	if a.Snapshot().Categories[models.CategoryFinance].Processed != 2 {
		t.Fatalf("snapshot shares state with the aggregator")
	}
}

func TestAggregatorConcurrent(t *testing.T) {
	a := New(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.RecordProcessed(record(models.CategoryPlanning, "council.gov.uk", i))
			a.RecordDuplicate("council.gov.uk", models.CategoryPlanning)
		}(i)
	}
	wg.Wait()

	s := a.Snapshot()
	if s.ProcessedURLs != 50 || s.DuplicateURLs != 50 {
		t.Fatalf("processed=%d duplicates=%d", s.ProcessedURLs, s.DuplicateURLs)
	}
	if s.ID == "" {
		t.Fatalf("session id not generated")
	}
}

func TestPeriodicCheckpoints(t *testing.T) {
	cp := &memoryCheckpointer{}
	a := New(Options{
		ID:              "s2",
		CheckpointEvery: 3,
		Checkpointer:    cp,
		FrontierStatus:  func() map[string]int { return map[string]int{"pending": 4} },
	})

	for i := 0; i < 7; i++ {
		a.RecordProcessed(record(models.CategoryService, "council.gov.uk", 70))
	}
	a.RecordPersistFailure("https://council.gov.uk/x", errors.New("nope"))
	if cp.count() != 2 {
		t.Fatalf("checkpoints = %d, want 2", cp.count())
	}
	if last := cp.saved[1]; last.Session.ProcessedURLs != 6 || last.Frontier["pending"] != 4 || last.Session.Checkpoints != 2 {
		t.Fatalf("unexpected checkpoint: %+v", last)
	}

	if err := a.Close(nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	final := cp.saved[len(cp.saved)-1]
	if final.Session.Status != models.SessionCompleted || final.Session.ProcessedURLs != 7 || final.Session.EndedAt.IsZero() {
		t.Fatalf("unexpected final checkpoint: %+v", final.Session)
	}
	if err := a.Close(errors.New("late")); err != nil || a.Snapshot().Status != models.SessionCompleted {
		t.Fatalf("second close should be a no-op")
	}
}

func TestCloseWithError(t *testing.T) {
	cp := &memoryCheckpointer{err: errors.New("disk full")}
	a := New(Options{Checkpointer: cp})
	if err := a.Close(errors.New("budget misconfigured")); err == nil {
		t.Fatalf("expected checkpoint error")
	}
	s := a.Snapshot()
	if s.Status != models.SessionFailed || s.Error != "budget misconfigured" || s.Checkpoints != 0 {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestFileCheckpointer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	fc := FileCheckpointer{Dir: dir}
	a := New(Options{ID: "abc", CheckpointEvery: 1, Checkpointer: fc})
	a.RecordFailed("https://council.gov.uk/gone", "council.gov.uk", models.CategoryOther, "not_found")

	cp, err := LoadCheckpoint(fc.Path("abc"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.Session.FailedURLs != 1 || len(cp.FailedTargets) != 1 || cp.FailedTargets[0] != "https://council.gov.uk/gone" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestReport(t *testing.T) {
	clock, advance := fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	a := New(Options{Now: clock})
	for i := 0; i < 4; i++ {
		a.RecordProcessed(record(models.CategoryFinance, "council.gov.uk", 50))
	}
	a.RecordFailed("https://council.gov.uk/a", "council.gov.uk", models.CategoryFinance, "rate_limited")
	a.RecordPersistFailure("https://council.gov.uk/b", errors.New("constraint violation"))
	advance(2 * time.Minute)
	_ = a.Close(nil)

	r := a.Report()
	if r.Duration != 2*time.Minute || r.PagesPerMinute != 2 {
		t.Fatalf("duration=%v ppm=%v", r.Duration, r.PagesPerMinute)
	}
	if r.SuccessRate != 0.8 || r.AverageQuality != 50 {
		t.Fatalf("success=%v quality=%v", r.SuccessRate, r.AverageQuality)
	}
	if len(r.FailedTargets) != 1 || len(r.PersistFailures) != 1 {
		t.Fatalf("failures not listed: %+v", r)
	}

	joined := strings.Join(r.Recommendations, "\n")
	for _, want := range []string{"Failure rate above 10%", "rate limited", "Quality threshold may be too low", "failed to persist"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in recommendations:\n%s", want, joined)
		}
	}
}

func TestRecommendationsHealthy(t *testing.T) {
	r := models.Report{
		Session:        models.CrawlSession{ProcessedURLs: 100, FailedURLs: 2, DuplicateURLs: 5},
		AverageQuality: 78,
	}
	if got := Recommendations(r); len(got) != 1 || got[0] != "No issues detected." {
		t.Fatalf("recommendations = %v", got)
	}

	empty := Recommendations(models.Report{})
	if len(empty) != 1 || !strings.Contains(empty[0], "No pages were processed") {
		t.Fatalf("recommendations = %v", empty)
	}
}

func TestWriteReport(t *testing.T) {
	a := New(Options{ID: "report"})
	a.RecordProcessed(record(models.CategoryPlanning, "council.gov.uk", 72))
	a.RecordFailed("https://council.gov.uk/a", "council.gov.uk", models.CategoryPlanning, "server")
	_ = a.Close(nil)
	r := a.Report()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out", "report.json")
	if err := WriteReport(jsonPath, r); err != nil {
		t.Fatalf("write json: %v", err)
	}
	data, err := os.ReadFile(jsonPath)
	if err != nil || !strings.Contains(string(data), `"id": "report"`) {
		t.Fatalf("unexpected json report (%v): %s", err, data)
	}

	xlsxPath := filepath.Join(dir, "report.xlsx")
	if err := WriteReport(xlsxPath, r); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	f, err := excelize.OpenFile(xlsxPath)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	want := []string{"Summary", "Categories", "Domains", "Quality", "Recommendations", "Failures"}
	if got := f.GetSheetList(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("sheets = %v, want %v", got, want)
	}
	rows, err := f.GetRows("Categories")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "planning" || rows[1][1] != "1" || rows[1][2] != "1" {
		t.Fatalf("categories sheet = %v", rows)
	}
	summary, _ := f.GetRows("Summary")
	if summary[0][1] != "report" || summary[1][1] != "completed" {
		t.Fatalf("summary sheet = %v", summary)
	}
}
