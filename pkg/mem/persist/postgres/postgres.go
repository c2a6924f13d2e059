package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

// PostgresStore implements persist.Persister on PostgreSQL. The schema is
// managed by MigrateUp.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ persist.Persister = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore with the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Open migrates the schema and connects a pool to dsn.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := MigrateUp(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	log.Debug("Initialized PostgreSQL persistence adapter")
	return NewPostgresStore(pool), nil
}

// Save inserts or replaces rec.
func (p *PostgresStore) Save(ctx context.Context, rec record.Record) error {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO memory_records (
			id, tier, importance, content, embedding, created_at, last_access, access_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			tier = EXCLUDED.tier,
			importance = EXCLUDED.importance,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			last_access = EXCLUDED.last_access,
			access_count = EXCLUDED.access_count`,
		string(rec.ID), int16(rec.Tier), rec.Importance, content, rec.Embedding,
		rec.CreatedAt, rec.LastAccess, int64(rec.AccessCount),
	)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record with id.
func (p *PostgresStore) Delete(ctx context.Context, id record.ID) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM memory_records WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every record ordered by creation time.
func (p *PostgresStore) LoadAll(ctx context.Context) ([]record.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, tier, importance, content, embedding, created_at, last_access, access_count
		FROM memory_records
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (record.Record, error) {
		var (
			rec     record.Record
			id      string
			t       int16
			content []byte
			count   int64
		)
		if err := row.Scan(&id, &t, &rec.Importance, &content, &rec.Embedding,
			&rec.CreatedAt, &rec.LastAccess, &count); err != nil {
			return record.Record{}, err
		}
		if err := json.Unmarshal(content, &rec.Content); err != nil {
			return record.Record{}, fmt.Errorf("record %s: failed to unmarshal content: %w", id, err)
		}
		rec.ID = record.ID(id)
		rec.Tier = tier.Ordinal(t)
		rec.AccessCount = uint64(count)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return recs, nil
}

// Close closes the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
