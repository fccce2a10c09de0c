package alerts

import "sync"

const dateLayout = "2006-01-02"

type sentKey struct {
	classID string
	lead    int
	date    string // dateLayout, in the scheduler's location
}

// sentSet remembers which (class, lead time, day) alerts already went out in
// this process. It is never persisted.
type sentSet struct {
	mu   sync.Mutex
	keys map[sentKey]struct{}
}

func newSentSet() *sentSet {
	return &sentSet{keys: make(map[sentKey]struct{})}
}

func (s *sentSet) seen(k sentKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[k]
	return ok
}

func (s *sentSet) mark(k sentKey) {
	s.mu.Lock()
	s.keys[k] = struct{}{}
	s.mu.Unlock()
}

// evictBefore drops entries for days earlier than date and returns how many went.
func (s *sentSet) evictBefore(date string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.keys {
		if k.date < date {
			delete(s.keys, k)
			n++
		}
	}
	return n
}

func (s *sentSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
