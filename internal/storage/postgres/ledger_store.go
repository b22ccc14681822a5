package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/music-content-pipeline/internal/content"
)

// LedgerStore catalogs persisted batches: one row per batch and one row per
// uploaded record, written in a single transaction.
type LedgerStore struct {
	pool         Pool
	batchTable   string
	recordsTable string
}

// NewLedgerStore builds a ledger over pool. Empty table names default to
// scrape_batches and scraped_records.
func NewLedgerStore(pool Pool, batchTable, recordsTable string) (*LedgerStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	batches, err := tableName(batchTable, "scrape_batches")
	if err != nil {
		return nil, err
	}
	records, err := tableName(recordsTable, "scraped_records")
	if err != nil {
		return nil, err
	}
	return &LedgerStore{pool: pool, batchTable: batches, recordsTable: records}, nil
}

// EnsureSchema creates the ledger tables when missing.
func (s *LedgerStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	batch_id      TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	manifest_key  TEXT NOT NULL,
	discovered    INTEGER NOT NULL,
	scraped       INTEGER NOT NULL,
	uploaded      INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	record_id     TEXT NOT NULL,
	batch_id      TEXT NOT NULL REFERENCES %[1]s (batch_id),
	url           TEXT NOT NULL,
	storage_key   TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	content_kind  TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (batch_id, record_id)
);`, s.batchTable, s.recordsTable)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	return nil
}

// RecordBatch inserts entry and its records atomically.
func (s *LedgerStore) RecordBatch(ctx context.Context, entry content.LedgerEntry) error {
	if entry.BatchID == "" {
		return fmt.Errorf("batch id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	if err := s.insert(ctx, tx, entry); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *LedgerStore) insert(ctx context.Context, tx pgx.Tx, entry content.LedgerEntry) error {
	batchQuery := fmt.Sprintf(`
INSERT INTO %s (
	batch_id,
	source,
	manifest_key,
	discovered,
	scraped,
	uploaded,
	failed,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, s.batchTable)
	_, err := tx.Exec(ctx, batchQuery,
		entry.BatchID,
		string(entry.Source),
		entry.ManifestKey,
		entry.Discovered,
		entry.Scraped,
		entry.Uploaded,
		entry.Failed,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	recordQuery := fmt.Sprintf(`
INSERT INTO %s (
	record_id,
	batch_id,
	url,
	storage_key,
	content_hash,
	content_kind,
	confidence
) VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.recordsTable)
	for _, rec := range entry.Records {
		_, err := tx.Exec(ctx, recordQuery,
			rec.RecordID,
			entry.BatchID,
			rec.URL,
			rec.Key,
			rec.ContentHash,
			string(rec.Kind),
			rec.Confidence,
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", rec.RecordID, err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *LedgerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
