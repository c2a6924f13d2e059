package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/lexlapax/omegamem/pkg/log"
	"github.com/lexlapax/omegamem/pkg/mem/persist"
	"github.com/lexlapax/omegamem/pkg/mem/record"
)

// MockStore is an in-memory implementation of persist.Persister used for
// testing and development.
type MockStore struct {
	mutex   sync.RWMutex
	records map[record.ID]record.Record

	saves   int
	deletes int

	// Err, when set, is returned by every subsequent Save and Delete.
	err error
}

var _ persist.Persister = (*MockStore)(nil)

// NewMockStore creates a new, empty MockStore.
func NewMockStore() *MockStore {
	log.Debug("Initialized mock persistence adapter")
	return &MockStore{records: make(map[record.ID]record.Record)}
}

// FailWith makes subsequent writes return err. A nil err clears the failure.
func (m *MockStore) FailWith(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.err = err
}

// Save implements persist.Persister.
func (m *MockStore) Save(ctx context.Context, rec record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[rec.ID] = rec.Clone()
	m.saves++
	return nil
}

// Delete implements persist.Persister.
func (m *MockStore) Delete(ctx context.Context, id record.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.records, id)
	m.deletes++
	return nil
}

// LoadAll implements persist.Persister.
func (m *MockStore) LoadAll(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	recs := make([]record.Record, 0, len(m.records))
	for _, r := range m.records {
		recs = append(recs, r.Clone())
	}
	sort.Slice(recs, func(i, j int) bool { return record.Less(&recs[i], &recs[j]) })
	return recs, nil
}

// Get returns a stored record.
func (m *MockStore) Get(id record.ID) (record.Record, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return record.Record{}, false
	}
	return r.Clone(), true
}

// Len returns the number of stored records.
func (m *MockStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.records)
}

// Counts returns how many successful saves and deletes have been applied.
func (m *MockStore) Counts() (saves, deletes int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.saves, m.deletes
}

// Close implements persist.Persister.
func (m *MockStore) Close() error { return nil }
