package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/civic-crawler/models"
)

func extractedRecord() *models.Record {
	r := testRecord(1)
	r.ID = "rec-1"
	r.Analysis.Title = "Budget 2025"
	r.Analysis.Keywords = []string{"budget", "spending"}
	r.Extracted = models.ExtractedRecord{
		Tables:    []models.Table{{Headers: []string{"a"}, Rows: []map[string]string{{"a": "1"}}}},
		Contacts:  models.Contacts{Emails: []string{"finance@council.gov.uk"}},
		Documents: []models.DocumentLink{{URL: "https://council.gov.uk/budget.pdf", Type: "pdf"}},
		LinkCount: 12,
	}
	return r
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]*models.Record{extractedRecord()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "id" || records[0][2] != "url" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := map[string]string{}
	for i, name := range records[0] {
		row[name] = records[1][i]
	}
	if row["id"] != "rec-1" || row["title"] != "Budget 2025" || row["keywords"] != "budget;spending" {
		t.Fatalf("unexpected row: %v", row)
	}
	if row["tables"] != "1" || row["emails"] != "1" || row["documents"] != "1" || row["links"] != "12" {
		t.Fatalf("unexpected extraction counts: %v", row)
	}

	reopened, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("reopen csv writer: %v", err)
	}
	if err := reopened.Write([]*models.Record{testRecord(2)}); err != nil {
		t.Fatalf("append csv: %v", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}
	if got := readCSV(t, path); len(got) != 3 {
		t.Fatalf("appended records=%d, want 3 (one header)", len(got))
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write([]*models.Record{extractedRecord(), testRecord(2)}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var decoded []models.Record
	for scanner.Scan() {
		var r models.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		decoded = append(decoded, r)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("json lines=%d, want 2", len(decoded))
	}
	if got := decoded[0].Extracted; len(got.Tables) != 1 || got.Contacts.Emails[0] != "finance@council.gov.uk" || got.LinkCount != 12 {
		t.Fatalf("extracted data lost: %+v", got)
	}
}

func TestNewWriterDual(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out", "records.csv")

	writer, err := NewWriter("dual", base)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]*models.Record{extractedRecord()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	for _, p := range []string{filepath.Join(dir, "out", "records.csv"), filepath.Join(dir, "out", "records.jsonl")} {
		if info, err := os.Stat(p); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", p)
		}
	}

	if _, err := NewWriter("parquet", base); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
