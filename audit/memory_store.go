package audit

import (
	"fmt"
	"sync"
)

// memStore keeps the journal in process memory. It loses everything on exit
// and is meant for tests and the demo binary.
type memStore struct {
	mu      sync.RWMutex
	entries []Entry
	anchors []Anchor
	tail    *Tail
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store { return &memStore{} }

func (s *memStore) Append(e Entry, tail Tail, anchor *Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last := uint64(len(s.entries)); last != e.Index-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", last, e.Index)
	}
	e.Data = append([]byte(nil), e.Data...)
	s.entries = append(s.entries, e)
	if anchor != nil {
		s.anchors = append(s.anchors, *anchor)
	}
	s.tail = &tail
	return nil
}

func (s *memStore) Iter(startIdx uint64) (<-chan Entry, func() error, error) {
	s.mu.RLock()
	var snap []Entry
	if startIdx == 0 {
		startIdx = 1
	}
	if startIdx <= uint64(len(s.entries)) {
		snap = append(snap, s.entries[startIdx-1:]...)
	}
	s.mu.RUnlock()

	out := make(chan Entry, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for _, e := range snap {
			select {
			case out <- e:
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() error { once.Do(func() { close(done) }); return nil }, nil
}

func (s *memStore) AnchorAt(i uint64) (Anchor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.anchors {
		if a.Index == i {
			return a, true, nil
		}
	}
	return Anchor{}, false, nil
}

func (s *memStore) ListAnchors() ([]Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Anchor(nil), s.anchors...), nil
}

func (s *memStore) Tail() (Tail, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tail == nil {
		return Tail{}, false, nil
	}
	return *s.tail, true, nil
}
