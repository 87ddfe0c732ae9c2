package snapshot

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Snapshots are deep-copied on the way
// in and out so callers never alias stored maps.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot

	// SaveErr, when set, is returned by Save without storing anything.
	SaveErr error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*Snapshot)}
}

// Locate returns the storage key for root.
func (m *MemoryStore) Locate(root string) (string, error) {
	return Key(root)
}

// Load returns a copy of the stored snapshot, or an empty one.
func (m *MemoryStore) Load(ctx context.Context, root string) (*Snapshot, error) {
	canonical, err := Canonicalize(root)
	if err != nil {
		return nil, err
	}
	key, err := Key(canonical)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if snap, ok := m.snaps[key]; ok {
		return snap.Clone(), nil
	}
	return Empty(canonical), nil
}

// Save stores a copy of snap.
func (m *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	canonical, err := Canonicalize(snap.Root)
	if err != nil {
		return err
	}
	key, err := Key(canonical)
	if err != nil {
		return err
	}

	stored := snap.Clone()
	stored.Root = canonical
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[key] = stored
	return nil
}

// Delete removes the snapshot for root.
func (m *MemoryStore) Delete(ctx context.Context, root string) error {
	key, err := Key(root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, key)
	return nil
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}
