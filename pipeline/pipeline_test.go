package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Record
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(records []*models.Record) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.Record, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(records []*models.Record) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{}

func (failingWriter) Write([]*models.Record) error { return errors.New("disk full") }
func (failingWriter) Close() error                 { return nil }
func (failingWriter) Validate() error              { return nil }

func testRecord(i int) *models.Record {
	q := models.QualityScore{ContentQuality: 80, StructuredData: 60, Recency: 90, Completeness: 50, Reliability: 100}
	return &models.Record{
		SessionID:    "session",
		URL:          "https://council.gov.uk/page/" + strconv.Itoa(i),
		Domain:       "council.gov.uk",
		Category:     models.CategoryFinance,
		Quality:      q,
		OverallScore: q.Overall(),
		ContentHash:  fmt.Sprintf("%064d", i),
		FetchedAt:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPipelinePersistValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)
	ctx := context.Background()

	valid := testRecord(1)
	id, err := p.Persist(ctx, valid)
	if err != nil || id == "" || valid.ID != id {
		t.Fatalf("persist valid: id=%q err=%v", id, err)
	}

	invalid := testRecord(2)
	invalid.OverallScore++
	if _, err := p.Persist(ctx, invalid); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}

	sameContent := testRecord(3)
	sameContent.ContentHash = valid.ContentHash
	dupID, err := p.Persist(ctx, sameContent)
	if err != nil || dupID != id {
		t.Fatalf("duplicate content should return the first id: %q vs %q (%v)", dupID, id, err)
	}

	if ok, _ := p.ExistsByHash(ctx, valid.ContentHash); !ok {
		t.Fatalf("hash index missing persisted record")
	}
	if ok, _ := p.ExistsByHash(ctx, testRecord(9).ContentHash); ok {
		t.Fatalf("unexpected hash in index")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}

	stats := p.Stats()
	if stats.Rejected["invalid_record"] != 1 || stats.Rejected["duplicate_hash"] != 1 {
		t.Fatalf("rejected = %v", stats.Rejected)
	}
	if stats.Written != 1 {
		t.Fatalf("written = %d, want 1", stats.Written)
	}

	if _, err := p.Persist(ctx, testRecord(4)); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed after close, got %v", err)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if _, err := p.Persist(context.Background(), testRecord(i)); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineFlushesOnInterval(t *testing.T) {
	previous := flushInterval
	flushInterval = 10 * time.Millisecond
	t.Cleanup(func() { flushInterval = previous })

	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)
	defer p.Close()

	if _, err := p.Persist(context.Background(), testRecord(1)); err != nil {
		t.Fatalf("persist: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for writer.totalWritten() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("record not flushed before close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if _, err := p.Persist(context.Background(), testRecord(i+200)); err != nil {
			t.Fatalf("persist: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written records = %d, want 100", got)
	}
}

func TestPipelineWriteErrorStopsPipeline(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	p := NewPipeline(context.Background(), failingWriter{}, cfg)
	p.Start(1)

	if _, err := p.Persist(context.Background(), testRecord(1)); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := p.Close(); err == nil {
		t.Fatalf("expected write error on close")
	}
	if _, err := p.Persist(context.Background(), testRecord(2)); err == nil {
		t.Fatalf("persist should fail after a write error")
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if _, err := p.Persist(context.Background(), testRecord(1)); err != nil {
		t.Fatalf("persist: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

func TestPipelineLoadIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	prior := testRecord(7)
	prior.ID = "earlier-run"
	if err := writer.Write([]*models.Record{prior}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig())
	n, err := p.LoadIndex(path)
	if err != nil || n != 1 {
		t.Fatalf("load index: n=%d err=%v", n, err)
	}
	if ok, _ := p.ExistsByHash(context.Background(), prior.ContentHash); !ok {
		t.Fatalf("hash from previous run not indexed")
	}
	if n, err := p.LoadIndex(filepath.Join(t.TempDir(), "missing.jsonl")); err != nil || n != 0 {
		t.Fatalf("missing file: n=%d err=%v", n, err)
	}
}
