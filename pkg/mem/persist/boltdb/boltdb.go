package boltdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/record"
)

var recordsBucket = []byte("records")

// BoltStore implements persist.Persister on a BoltDB file. Values are JSON,
// optionally zstd-compressed.
type BoltStore struct {
	db       *bolt.DB
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

var _ persist.Persister = (*BoltStore)(nil)

// Option configures a BoltStore.
type Option func(*BoltStore)

// WithCompression enables zstd compression of stored values. Reads always
// accept both compressed and plain values.
func WithCompression(enabled bool) Option {
	return func(b *BoltStore) { b.compress = enabled }
}

// NewBoltStore creates a BoltStore on an open database.
func NewBoltStore(db *bolt.DB, opts ...Option) (*BoltStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	b := &BoltStore{db: db, enc: enc, dec: dec}
	for _, opt := range opts {
		opt(b)
	}

	log.Debug("Initialized BoltDB persistence adapter",
		"db_path", db.Path(),
		"read_only", db.IsReadOnly(),
		"compression", b.compress,
	)
	return b, nil
}

// Open opens (creating if needed) a BoltDB file at path and initializes it.
func Open(ctx context.Context, path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	b, err := NewBoltStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := b.Initialize(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// Initialize creates the records bucket if it does not exist.
func (b *BoltStore) Initialize(ctx context.Context) error {
	log.DebugContext(ctx, "Initializing BoltDB buckets")
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize BoltDB buckets", "error", err)
		return err
	}
	return nil
}

func (b *BoltStore) encode(rec record.Record) ([]byte, error) {
	data, err := persist.MarshalRecord(rec)
	if err != nil {
		return nil, err
	}
	if b.compress {
		data = b.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	return data, nil
}

// decode accepts plain JSON or a zstd frame. JSON records always begin
// with '{'; a zstd frame never does.
func (b *BoltStore) decode(data []byte) (record.Record, error) {
	if len(data) > 0 && data[0] != '{' {
		plain, err := b.dec.DecodeAll(data, nil)
		if err != nil {
			return record.Record{}, fmt.Errorf("failed to decompress record: %w", err)
		}
		data = plain
	}
	return persist.UnmarshalRecord(data)
}

// Save inserts or replaces rec.
func (b *BoltStore) Save(ctx context.Context, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := b.encode(rec)
	if err != nil {
		return err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(recordsBucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record with id.
func (b *BoltStore) Delete(ctx context.Context, id record.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every stored record ordered by creation time.
func (b *BoltStore) LoadAll(ctx context.Context) ([]record.Record, error) {
	var recs []record.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := b.decode(v)
			if err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return record.Less(&recs[i], &recs[j]) })
	return recs, nil
}

// Close releases the codec and closes the database.
func (b *BoltStore) Close() error {
	b.enc.Close()
	b.dec.Close()
	return b.db.Close()
}
