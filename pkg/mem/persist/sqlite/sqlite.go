package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id           TEXT PRIMARY KEY,
	tier         INTEGER NOT NULL,
	importance   REAL NOT NULL,
	content      TEXT NOT NULL,
	embedding    BLOB NOT NULL,
	created_at   INTEGER NOT NULL,
	last_access  INTEGER NOT NULL,
	access_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_records_tier ON memory_records (tier);
`

const upsert = `
INSERT INTO memory_records (
	id, tier, importance, content, embedding, created_at, last_access, access_count
) VALUES (
	:id, :tier, :importance, :content, :embedding, :created_at, :last_access, :access_count
)
ON CONFLICT(id) DO UPDATE SET
	tier = excluded.tier,
	importance = excluded.importance,
	content = excluded.content,
	embedding = excluded.embedding,
	last_access = excluded.last_access,
	access_count = excluded.access_count`

// row is the table layout. Timestamps are Unix nanoseconds so they round
// trip exactly.
type row struct {
	ID          string  `db:"id"`
	Tier        int     `db:"tier"`
	Importance  float64 `db:"importance"`
	Content     string  `db:"content"`
	Embedding   []byte  `db:"embedding"`
	CreatedAt   int64   `db:"created_at"`
	LastAccess  int64   `db:"last_access"`
	AccessCount int64   `db:"access_count"`
}

func toRow(rec record.Record) (row, error) {
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return row{}, fmt.Errorf("failed to marshal content: %w", err)
	}
	return row{
		ID:          string(rec.ID),
		Tier:        int(rec.Tier),
		Importance:  rec.Importance,
		Content:     string(content),
		Embedding:   persist.EncodeEmbedding(rec.Embedding),
		CreatedAt:   rec.CreatedAt.UnixNano(),
		LastAccess:  rec.LastAccess.UnixNano(),
		AccessCount: int64(rec.AccessCount),
	}, nil
}

func (r row) record() (record.Record, error) {
	var content record.Content
	if err := json.Unmarshal([]byte(r.Content), &content); err != nil {
		return record.Record{}, fmt.Errorf("record %s: failed to unmarshal content: %w", r.ID, err)
	}
	emb, err := persist.DecodeEmbedding(r.Embedding)
	if err != nil {
		return record.Record{}, fmt.Errorf("record %s: %w", r.ID, err)
	}
	return record.Record{
		ID:          record.ID(r.ID),
		Content:     content,
		Embedding:   emb,
		Importance:  r.Importance,
		CreatedAt:   time.Unix(0, r.CreatedAt).UTC(),
		LastAccess:  time.Unix(0, r.LastAccess).UTC(),
		AccessCount: uint64(r.AccessCount),
		Tier:        tier.Ordinal(r.Tier),
	}, nil
}

// SQLiteStore implements persist.Persister on a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ persist.Persister = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLiteStore on an open connection.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Open opens the SQLite file at path and creates the schema.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// one writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	s := NewSQLiteStore(db)
	if err := s.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("Initialized SQLite persistence adapter", "path", path)
	return s, nil
}

// Initialize creates the table and index if they do not exist.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces rec.
func (s *SQLiteStore) Save(ctx context.Context, rec record.Record) error {
	r, err := toRow(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsert, r); err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record with id.
func (s *SQLiteStore) Delete(ctx context.Context, id record.ID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every record ordered by creation time.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]record.Record, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tier, importance, content, embedding, created_at, last_access, access_count
		FROM memory_records
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	recs := make([]record.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// CountByTier returns the number of stored records per tier.
func (s *SQLiteStore) CountByTier(ctx context.Context) (map[tier.Ordinal]int, error) {
	var counts []struct {
		Tier  int `db:"tier"`
		Count int `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &counts, `SELECT tier, COUNT(*) AS n FROM memory_records GROUP BY tier`); err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	out := make(map[tier.Ordinal]int, len(counts))
	for _, c := range counts {
		out[tier.Ordinal(c.Tier)] = c.Count
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
