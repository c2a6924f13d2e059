// Package persist defines the durable-storage collaborator for the tiered
// store. The store itself never touches disk; a Persister mirrors record
// lifecycle events and replays them on startup through Store.Restore.
package persist

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/lexlapax/omegamem/pkg/mem/record"
)

// Persister stores records across process restarts.
type Persister interface {
	// Save inserts or replaces the record with rec.ID.
	Save(ctx context.Context, rec record.Record) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id record.ID) error

	// LoadAll returns every stored record in creation order.
	LoadAll(ctx context.Context) ([]record.Record, error)

	// Close releases the backend's resources.
	Close() error
}

// MarshalRecord encodes a record as JSON.
func MarshalRecord(rec record.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}
	return data, nil
}

// UnmarshalRecord decodes a record written by MarshalRecord.
func UnmarshalRecord(data []byte) (record.Record, error) {
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record.Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// EncodeEmbedding packs an embedding as little-endian float32s.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeEmbedding reverses EncodeEmbedding.
func DecodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
