package toggle

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryOrigin is an in-process origin: flags are shared by the handles it hands out.
type MemoryOrigin struct {
	mu       sync.Mutex
	values   map[string]bool
	nextId   uint64
	watchers map[string]map[uint64]memoryWatcher
}

type memoryWatcher struct {
	source string
	fn     func(bool)
}

// MemoryStore is one context handle of a MemoryOrigin.
type MemoryStore struct {
	origin *MemoryOrigin
	key    string
	source string
	//
	mu     sync.Mutex
	closed bool
	unsubs []func()
}

var _ Store = (*MemoryStore)(nil)

// Context creates a new context handle for the key.
func (o *MemoryOrigin) Context(key string) *MemoryStore {
	if key == "" {
		key = DefaultKey
	}

	return &MemoryStore{
		origin: o,
		key:    key,
		source: uuid.NewString(),
	}
}

func (o *MemoryOrigin) get(key string) (bool, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	value, found := o.values[key]

	return value, found
}

func (o *MemoryOrigin) set(key, source string, value bool) {
	o.mu.Lock()
	o.values[key] = value

	ids := make([]uint64, 0, len(o.watchers[key]))
	for id, w := range o.watchers[key] {
		if w.source != source {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.watchers[key][id].fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

func (o *MemoryOrigin) watch(key, source string, fn func(bool)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextId++
	id := o.nextId
	if o.watchers[key] == nil {
		o.watchers[key] = make(map[uint64]memoryWatcher)
	}
	o.watchers[key][id] = memoryWatcher{source: source, fn: fn}

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		delete(o.watchers[key], id)
	}
}

// Get implements the Store interface.
func (s *MemoryStore) Get(ctx context.Context) (bool, bool, error) {
	if s.isClosed() {
		return false, false, ErrClosed
	}

	value, found := s.origin.get(s.key)

	return value, found, nil
}

// Set implements the Store interface.
func (s *MemoryStore) Set(ctx context.Context, value bool) error {
	if s.isClosed() {
		return ErrClosed
	}

	s.origin.set(s.key, s.source, value)

	return nil
}

// Watch implements the Store interface.
func (s *MemoryStore) Watch(fn func(value bool)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	var once sync.Once
	unsub := s.origin.watch(s.key, s.source, fn)
	unsubOnce := func() { once.Do(unsub) }
	s.unsubs = append(s.unsubs, unsubOnce)

	return unsubOnce, nil
}

// Close implements the Store interface.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	return nil
}

func (s *MemoryStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// NewMemoryOrigin creates a new empty MemoryOrigin.
func NewMemoryOrigin() *MemoryOrigin {
	return &MemoryOrigin{
		values:   make(map[string]bool),
		watchers: make(map[string]map[uint64]memoryWatcher),
	}
}
