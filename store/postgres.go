// Package store holds persisters that keep crawl records outside the file
// pipeline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/aluiziolira/civic-crawler/models"
)

// Postgres persists records to a PostgreSQL database.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres opens databaseURL, checks the connection and creates the
// schema when it is missing.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pg := &Postgres{DB: db}
	if err := pg.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return pg, nil
}

func (p *Postgres) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS crawl_records (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			url TEXT NOT NULL,
			parent_url TEXT,
			depth INTEGER,
			domain TEXT,
			category TEXT NOT NULL,
			subcategory TEXT,
			title TEXT,
			overall_score INTEGER,
			analysis JSONB,
			quality JSONB,
			extracted JSONB,
			content_hash TEXT NOT NULL,
			revisit BOOLEAN DEFAULT FALSE,
			content_type TEXT,
			bytes BIGINT,
			latency_ms BIGINT,
			priority DOUBLE PRECISION,
			fetched_at TIMESTAMPTZ,
			stored_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_crawl_records_hash ON crawl_records(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_records_url ON crawl_records(url)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_records_session ON crawl_records(session_id)`,
	}

	for _, query := range queries {
		if _, err := p.DB.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}
	return nil
}

// Persist inserts rec and returns its id. Content already stored under the
// same hash keeps its original row and id.
func (p *Postgres) Persist(ctx context.Context, rec *models.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return "", fmt.Errorf("encode analysis: %w", err)
	}
	quality, err := json.Marshal(rec.Quality)
	if err != nil {
		return "", fmt.Errorf("encode quality: %w", err)
	}
	extracted, err := json.Marshal(rec.Extracted)
	if err != nil {
		return "", fmt.Errorf("encode extracted data: %w", err)
	}

	query := `
		INSERT INTO crawl_records (id, session_id, url, parent_url, depth, domain, category, subcategory,
			title, overall_score, analysis, quality, extracted, content_hash, revisit, content_type,
			bytes, latency_ms, priority, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash
		RETURNING id`

	var id string
	err = p.DB.QueryRowContext(ctx, query,
		rec.ID, rec.SessionID, rec.URL, rec.ParentURL, rec.Depth, rec.Domain,
		string(rec.Category), rec.Subcategory, rec.Analysis.Title, rec.OverallScore,
		analysis, quality, extracted, rec.ContentHash, rec.Revisit, rec.ContentType,
		rec.Bytes, rec.Latency.Milliseconds(), rec.Priority, rec.FetchedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert record %s: %w", rec.URL, err)
	}
	return id, nil
}

// ExistsByHash reports whether content with this hash is already stored.
func (p *Postgres) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := p.DB.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM crawl_records WHERE content_hash = $1)", hash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup hash: %w", err)
	}
	return exists, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.DB.Close()
}
