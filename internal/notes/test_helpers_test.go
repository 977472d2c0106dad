package notes

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errStoreUnavailable = errors.New("store unavailable")

type memoryKV struct {
	mu      sync.Mutex
	entries map[string]string
	failGet map[string]bool
}

func newMemoryKV() *memoryKV {
	return &memoryKV{entries: map[string]string{}, failGet: map[string]bool{}}
}

func (m *memoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryKV) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet[key] {
		return "", false, errStoreUnavailable
	}
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *memoryKV) GetAllKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memoryKV) raw(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	return value, ok
}

type sequenceIDProvider struct {
	ids []string
	pos int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	if p.pos >= len(p.ids) {
		return "", errors.New("sequence exhausted")
	}
	id := p.ids[p.pos]
	p.pos++
	return id, nil
}

func fixedClock() time.Time {
	return time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
}

func newTestStagingStore(t *testing.T, kv KeyValueStore, logger *zap.Logger) *StagingStore {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := NewStagingStore(StagingConfig{
		Store:      kv,
		Clock:      fixedClock,
		IDProvider: NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("unexpected staging store error: %v", err)
	}
	return store
}

func mustStageCreate(t *testing.T, store *StagingStore, fields Fields) string {
	t.Helper()
	id, err := store.StageCreate(context.Background(), fields)
	if err != nil {
		t.Fatalf("unexpected stage create error: %v", err)
	}
	return id
}

func mustGet(t *testing.T, store *StagingStore, id string) StagedNote {
	t.Helper()
	note, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected get error for %s: %v", id, err)
	}
	return note
}

func stringPointer(value string) *string {
	return &value
}

func boolPointer(value bool) *bool {
	return &value
}
