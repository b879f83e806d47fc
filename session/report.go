package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/civic-crawler/models"
)

const (
	maxFailureRate   = 0.10
	maxDuplicateRate = 0.30
	lowQuality       = 60.0
)

// Report builds the end-of-crawl artifact from the current state.
func (a *Aggregator) Report() models.Report {
	a.mu.Lock()
	s := a.snapshotLocked()
	failed := append([]string(nil), a.failedTargets...)
	persist := append([]models.PersistFailure(nil), a.persistFailures...)
	a.mu.Unlock()

	now := a.now()
	r := models.Report{
		Session:         s,
		Duration:        s.Duration(now),
		FailedTargets:   failed,
		PersistFailures: persist,
		GeneratedAt:     now,
	}
	if minutes := r.Duration.Minutes(); minutes > 0 {
		r.PagesPerMinute = float64(s.ProcessedURLs) / minutes
	}
	if attempted := s.ProcessedURLs + s.FailedURLs; attempted > 0 {
		r.SuccessRate = float64(s.ProcessedURLs) / float64(attempted)
	}
	sum := 0
	for _, b := range s.Categories {
		sum += b.QualitySum
	}
	if s.ProcessedURLs > 0 {
		r.AverageQuality = float64(sum) / float64(s.ProcessedURLs)
	}
	r.Recommendations = Recommendations(r)
	return r
}

// Recommendations turns the report figures into operator advice.
func Recommendations(r models.Report) []string {
	s := r.Session
	var out []string

	if s.ProcessedURLs == 0 {
		out = append(out, "No pages were processed: check the seed URLs and the domain allow-list.")
	}
	if attempted := s.ProcessedURLs + s.FailedURLs; attempted > 0 {
		if rate := float64(s.FailedURLs) / float64(attempted); rate > maxFailureRate {
			out = append(out, fmt.Sprintf("Failure rate above 10%% (%.1f%%): increase delays or review the failing domains.", rate*100))
		}
	}
	if blocked := s.ErrorsByType["rate_limited"] + s.ErrorsByType["forbidden"]; blocked > 0 {
		out = append(out, fmt.Sprintf("%d requests were rate limited or forbidden: lower the host rate or lengthen stealth breaks.", blocked))
	}
	if s.ProcessedURLs > 0 && r.AverageQuality < lowQuality {
		out = append(out, fmt.Sprintf("Quality threshold may be too low: average quality of processed pages is %.1f.", r.AverageQuality))
	}
	if s.SkippedURLs > s.ProcessedURLs && s.SkippedURLs > 0 {
		out = append(out, "Quality thresholds may be too strict: more pages were skipped than processed.")
	}
	if fetched := s.ProcessedURLs + s.DuplicateURLs + s.SkippedURLs; fetched > 0 {
		if rate := float64(s.DuplicateURLs) / float64(fetched); rate > maxDuplicateRate {
			out = append(out, fmt.Sprintf("High duplicate rate (%.1f%%): lengthen the recrawl interval or narrow the seeds.", rate*100))
		}
	}
	if s.PersistFailures > 0 {
		out = append(out, fmt.Sprintf("%d records failed to persist: check the storage backend.", s.PersistFailures))
	}
	if len(out) == 0 {
		out = append(out, "No issues detected.")
	}
	return out
}

// WriteReport writes r as XLSX when path ends in .xlsx and as JSON
// otherwise.
func WriteReport(path string, r models.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, r)
	}
	return WriteJSON(path, r)
}

// WriteJSON writes r as indented JSON.
func WriteJSON(path string, r models.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return writeAtomic(path, data)
}

// WriteXLSX writes r as a workbook with one sheet per section.
func WriteXLSX(path string, r models.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	s := r.Session
	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	summary := [][]any{
		{"Session", s.ID},
		{"Status", string(s.Status)},
		{"Started", s.StartedAt.Format("2006-01-02 15:04:05")},
		{"Duration", r.Duration.String()},
		{"Total URLs", s.TotalURLs},
		{"Processed", s.ProcessedURLs},
		{"Failed", s.FailedURLs},
		{"Duplicates", s.DuplicateURLs},
		{"Skipped", s.SkippedURLs},
		{"Revisits", s.Revisits},
		{"Retries", s.Retries},
		{"Persist failures", s.PersistFailures},
		{"Bytes downloaded", s.BytesDownloaded},
		{"Pages per minute", r.PagesPerMinute},
		{"Success rate", r.SuccessRate},
		{"Average quality", r.AverageQuality},
	}
	if err := writeRows(f, "Summary", summary); err != nil {
		return err
	}

	categories := [][]any{breakdownHeader("Category")}
	for _, name := range sortedKeys(s.Categories) {
		categories = append(categories, breakdownRow(string(name), s.Categories[name]))
	}
	if err := writeSheet(f, "Categories", categories); err != nil {
		return err
	}

	domains := [][]any{breakdownHeader("Domain")}
	for _, name := range sortedKeys(s.Domains) {
		domains = append(domains, breakdownRow(name, s.Domains[name]))
	}
	if err := writeSheet(f, "Domains", domains); err != nil {
		return err
	}

	quality := [][]any{{"Score", "Pages"}}
	for i, n := range s.QualityHistogram {
		label := fmt.Sprintf("%d-%d", i*10, i*10+9)
		if i == models.QualityBuckets-1 {
			label = fmt.Sprintf("%d-100", i*10)
		}
		quality = append(quality, []any{label, n})
	}
	if err := writeSheet(f, "Quality", quality); err != nil {
		return err
	}

	recs := [][]any{{"Recommendation"}}
	for _, rec := range r.Recommendations {
		recs = append(recs, []any{rec})
	}
	if err := writeSheet(f, "Recommendations", recs); err != nil {
		return err
	}

	if len(r.FailedTargets) > 0 || len(r.PersistFailures) > 0 {
		failures := [][]any{{"URL", "Kind", "Error"}}
		for _, u := range r.FailedTargets {
			failures = append(failures, []any{u, "fetch", ""})
		}
		for _, pf := range r.PersistFailures {
			failures = append(failures, []any{pf.URL, "persist", pf.Error})
		}
		if err := writeSheet(f, "Failures", failures); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func breakdownHeader(first string) []any {
	return []any{first, "Processed", "Failed", "Duplicates", "Skipped", "Average quality"}
}

func breakdownRow(name string, b models.Breakdown) []any {
	return []any{name, b.Processed, b.Failed, b.Duplicates, b.Skipped, b.AverageQuality()}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
