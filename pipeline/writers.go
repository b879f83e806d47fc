package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/civic-crawler/models"
)

var csvHeader = []string{
	"id", "session_id", "url", "parent_url", "depth", "domain",
	"category", "subcategory", "title", "overall_score",
	"content_quality", "structured_data", "recency", "completeness", "reliability",
	"importance", "freshness", "structure", "keywords",
	"tables", "emails", "phones", "postcodes", "documents", "entities", "links",
	"content_hash", "revisit", "content_type", "bytes", "latency_ms", "priority", "fetched_at",
}

// CSVWriter writes one flattened row per record. Extracted payloads are
// summarised as counts; the JSON writer keeps them in full.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter opens filename for appending and writes the header row when
// the file is new.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(csvHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output.
func (cw *CSVWriter) Write(records []*models.Record) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		x := r.Extracted
		row := []string{
			r.ID,
			r.SessionID,
			r.URL,
			r.ParentURL,
			strconv.Itoa(r.Depth),
			r.Domain,
			string(r.Category),
			r.Subcategory,
			r.Analysis.Title,
			strconv.Itoa(r.OverallScore),
			strconv.Itoa(r.Quality.ContentQuality),
			strconv.Itoa(r.Quality.StructuredData),
			strconv.Itoa(r.Quality.Recency),
			strconv.Itoa(r.Quality.Completeness),
			strconv.Itoa(r.Quality.Reliability),
			strconv.Itoa(r.Analysis.Importance),
			strconv.Itoa(r.Analysis.Freshness),
			string(r.Analysis.Structure),
			strings.Join(r.Analysis.Keywords, ";"),
			strconv.Itoa(len(x.Tables)),
			strconv.Itoa(len(x.Contacts.Emails)),
			strconv.Itoa(len(x.Contacts.Phones)),
			strconv.Itoa(len(x.Contacts.Postcodes)),
			strconv.Itoa(len(x.Documents)),
			strconv.Itoa(len(x.Entities)),
			strconv.Itoa(x.LinkCount),
			r.ContentHash,
			strconv.FormatBool(r.Revisit),
			r.ContentType,
			strconv.Itoa(r.Bytes),
			strconv.FormatInt(r.Latency.Milliseconds(), 10),
			strconv.FormatFloat(r.Priority, 'f', 2, 64),
			r.FetchedAt.Format(time.RFC3339),
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for appending.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.Record) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func openAppend(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
