package dialer

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process QueueStore for tests and single-node
// deployments. All operations are safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
	zsets map[string][]zentry
	sets  map[string]map[string]struct{}
}

type zentry struct {
	score  float64
	member []byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists: make(map[string][][]byte),
		zsets: make(map[string][]zentry),
		sets:  make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) LPush(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(val))
	copy(cp, val)
	m.lists[key] = append([][]byte{cp}, m.lists[key]...)
	return nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(val))
	copy(cp, val)
	m.lists[key] = append(m.lists[key], cp)
	return nil
}

func (m *MemoryStore) LPop(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return nil, ErrEmpty
	}
	head := l[0]
	m.lists[key] = l[1:]
	return head, nil
}

func (m *MemoryStore) ZAdd(_ context.Context, key string, score float64, member []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(member))
	copy(cp, member)
	m.zsets[key] = append(m.zsets[key], zentry{score: score, member: cp})
	return nil
}

func (m *MemoryStore) ZPopUpTo(_ context.Context, key string, max float64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.zsets[key]
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score < entries[j].score })

	var due [][]byte
	var keep []zentry
	for _, e := range entries {
		if e.score <= max {
			due = append(due, e.member)
		} else {
			keep = append(keep, e)
		}
	}
	m.zsets[key] = keep
	return due, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sets[key]
	if s == nil {
		s = make(map[string]struct{})
		m.sets[key] = s
	}
	s[member] = struct{}{}
	return nil
}

func (m *MemoryStore) SRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[key], member)
	return nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

var _ QueueStore = (*MemoryStore)(nil)
