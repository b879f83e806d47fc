// Package pipeline batches crawl records into file outputs and keeps an
// in-memory index of persisted content hashes.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

var (
	// ErrPipelineClosed is returned when Persist is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
	// ErrInvalidRecord wraps validation failures.
	ErrInvalidRecord = errors.New("pipeline: invalid record")
)

var (
	drainTimeout  = 30 * time.Second
	flushInterval = 5 * time.Second
)

const defaultIndexSize = 100000

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.Record) error
	Close() error
	Validate() error
}

// Pipeline validates records, assigns ids and writes them in batches. It
// satisfies the crawler's persistence contract.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	recordCh  chan *models.Record
	batchSize int
	logger    *slog.Logger

	wg sync.WaitGroup

	// content hash -> record id
	index *lru.Cache[string, string]

	counters counters

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 256
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	size := cfg.DedupeMaxSize
	if size <= 0 {
		size = defaultIndexSize
	}
	index, _ := lru.New[string, string](size)

	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		recordCh:  make(chan *models.Record, buffer),
		batchSize: batch,
		logger:    slog.Default(),
		index:     index,
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Persist validates rec, gives it an id and queues it for writing. A record
// whose content hash was already persisted is not written again; the
// earlier id is returned.
func (p *Pipeline) Persist(ctx context.Context, rec *models.Record) (string, error) {
	if err := parser.ValidateRecord(rec); err != nil {
		p.counters.reject("invalid_record")
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	closed, err := p.state()
	if err != nil {
		return "", err
	}
	if closed {
		return "", ErrPipelineClosed
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if prev, found, _ := p.index.PeekOrAdd(rec.ContentHash, rec.ID); found {
		p.counters.reject("duplicate_hash")
		return prev, nil
	}

	if err := p.enqueue(ctx, rec); err != nil {
		p.index.Remove(rec.ContentHash)
		return "", err
	}
	return rec.ID, nil
}

// ExistsByHash reports whether a record with this content hash was
// persisted in this run or loaded with LoadIndex.
func (p *Pipeline) ExistsByHash(_ context.Context, hash string) (bool, error) {
	return p.index.Contains(hash), nil
}

// LoadIndex seeds the hash index from a JSONL file written by a previous
// run. A missing file is not an error.
func (p *Pipeline) LoadIndex(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open index source: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		var row struct {
			ID          string `json:"id"`
			ContentHash string `json:"content_hash"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil || row.ContentHash == "" {
			continue
		}
		p.index.Add(row.ContentHash, row.ID)
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scan index source: %w", err)
	}
	return n, nil
}

// Close stops accepting records and waits for queued ones to be written.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return p.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the internal counters.
func (p *Pipeline) Stats() Stats {
	return p.counters.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := p.Stats()
				p.logger.Debug("pipeline progress",
					slog.Int64("written", stats.Written),
					slog.Any("rejected", stats.Rejected),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Record, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.counters.addWritten(len(batch))
		batch = batch[:0]
		return nil
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-p.recordCh:
			if !ok {
				if err := flush(); err != nil {
					p.setErr(fmt.Errorf("write batch: %w", err))
				}
				return
			}
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if err := flush(); err != nil {
					p.setErr(fmt.Errorf("write batch: %w", err))
					return
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}
}

func (p *Pipeline) enqueue(ctx context.Context, rec *models.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.recordCh <- rec:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.logger.Error("pipeline stopped", slog.Any("error", err))
	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.recordCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Written int64
	// Rejected counts records not written, by reason.
	Rejected map[string]int
}

type counters struct {
	mu       sync.Mutex
	written  int64
	rejected map[string]int
}

func (c *counters) addWritten(n int) {
	c.mu.Lock()
	c.written += int64(n)
	c.mu.Unlock()
}

func (c *counters) reject(reason string) {
	c.mu.Lock()
	if c.rejected == nil {
		c.rejected = make(map[string]int)
	}
	c.rejected[reason]++
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Written: c.written, Rejected: maps.Clone(c.rejected)}
}
