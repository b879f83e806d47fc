// Package extract pulls structured facts out of a fetched page. Each
// sub-extractor runs in isolation: a failure or panic in one is recorded on
// the result and the others still run.
package extract

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aluiziolira/civic-crawler/config"
	"github.com/aluiziolira/civic-crawler/models"
	"github.com/aluiziolira/civic-crawler/parser"
)

// Unit is a pluggable extractor. Its result is stored under the unit's name
// in ExtractedRecord.Custom; a nil result is dropped.
type Unit interface {
	Extract(doc *parser.Document) (any, error)
}

// UnitFunc adapts a function to Unit.
type UnitFunc func(doc *parser.Document) (any, error)

// Extract calls f.
func (f UnitFunc) Extract(doc *parser.Document) (any, error) { return f(doc) }

// Limits caps how much each built-in extractor keeps.
type Limits struct {
	MaxTables    int
	MaxTableRows int
	MaxDocuments int
	MaxEntities  int
}

// LimitsFrom reads the extraction caps from cfg.
func LimitsFrom(cfg *config.Config) Limits {
	return Limits{
		MaxTables:    cfg.MaxTables,
		MaxTableRows: cfg.MaxTableRows,
		MaxDocuments: cfg.MaxDocuments,
		MaxEntities:  cfg.MaxEntities,
	}
}

var builtin = map[string]bool{
	"document":        true,
	"tables":          true,
	"contacts":        true,
	"documents":       true,
	"entities":        true,
	"structured_data": true,
	"links":           true,
}

// Extractor runs the built-in extractors plus any registered units. It is
// safe for concurrent use.
type Extractor struct {
	limits Limits
	logger *slog.Logger

	mu    sync.RWMutex
	units map[string]Unit
}

// New returns an Extractor with the given limits.
func New(limits Limits, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{limits: limits, logger: logger, units: make(map[string]Unit)}
}

// Register adds a unit. Names must be unique and may not shadow a built-in
// extractor.
func (e *Extractor) Register(name string, u Unit) error {
	if name == "" || u == nil {
		return fmt.Errorf("register unit: name and unit are required")
	}
	if builtin[name] {
		return fmt.Errorf("register unit %q: name is reserved", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.units[name]; ok {
		return fmt.Errorf("register unit %q: already registered", name)
	}
	e.units[name] = u
	return nil
}

// Units lists the registered unit names in order.
func (e *Extractor) Units() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.units))
	for name := range e.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extract runs every extractor over content fetched from rawURL.
func (e *Extractor) Extract(content []byte, contentType, rawURL string) models.ExtractedRecord {
	var rec models.ExtractedRecord

	doc, err := parser.NewDocument(content, contentType, rawURL)
	if err != nil {
		e.fail(&rec, "document", err)
		return rec
	}

	e.run(&rec, "tables", func() error {
		rec.Tables = extractTables(doc, e.limits.MaxTables, e.limits.MaxTableRows)
		return nil
	})
	e.run(&rec, "contacts", func() error {
		rec.Contacts = extractContacts(doc)
		return nil
	})
	e.run(&rec, "documents", func() error {
		rec.Documents = extractDocuments(doc, e.limits.MaxDocuments)
		return nil
	})
	e.run(&rec, "entities", func() error {
		rec.Entities = extractEntities(doc.Text(), e.limits.MaxEntities)
		return nil
	})
	e.run(&rec, "structured_data", func() error {
		data, err := extractStructuredData(doc)
		rec.StructuredData = data
		return err
	})
	e.run(&rec, "links", func() error {
		rec.Links = extractLinks(doc)
		rec.LinkCount = len(rec.Links)
		return nil
	})

	for _, name := range e.Units() {
		e.mu.RLock()
		u := e.units[name]
		e.mu.RUnlock()
		e.run(&rec, name, func() error {
			out, err := u.Extract(doc)
			if out != nil {
				if rec.Custom == nil {
					rec.Custom = make(map[string]any)
				}
				rec.Custom[name] = out
			}
			return err
		})
	}
	return rec
}

func (e *Extractor) run(rec *models.ExtractedRecord, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(rec, name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		e.fail(rec, name, err)
	}
}

func (e *Extractor) fail(rec *models.ExtractedRecord, name string, err error) {
	if rec.Errors == nil {
		rec.Errors = make(map[string]string)
	}
	rec.Errors[name] = err.Error()
	e.logger.Warn("extractor failed", slog.String("extractor", name), slog.Any("error", err))
}
