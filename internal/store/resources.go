package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ResourceImport/internal/importer"
)

const insertResource = `
INSERT INTO resources (resource_type, title, url, summary, tags, image_url, data, source_row)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// ResourceTarget writes import batches to the resources table. Each batch
// is one transaction: it commits entirely or not at all.
type ResourceTarget struct {
	pool *pgxpool.Pool
}

// NewResourceTarget returns a create target backed by pool.
func NewResourceTarget(pool *pgxpool.Pool) *ResourceTarget {
	return &ResourceTarget{pool: pool}
}

// Create inserts one batch of records.
func (t *ResourceTarget) Create(ctx context.Context, records []importer.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		args, err := resourceArgs(r)
		if err != nil {
			return fmt.Errorf("row %d: %w", r.Row, err)
		}
		batch.Queue(insertResource, args...)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert row %d: %w", r.Row, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// resourceArgs returns the insert parameters for one record.
func resourceArgs(r importer.Record) ([]any, error) {
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}

	return []any{
		r.Type,
		r.Title,
		toText(r.URL),
		toText(r.Summary),
		tags,
		toText(r.ImageURL),
		dataJSON,
		r.Row,
	}, nil
}
