package hybrid

import (
	"sync"

	"github.com/vitaliisemenov/baileys-auth-store/internal/authstore"
)

// sessionLocks is map<SessionId, Mutex>, the map itself protected by a
// short lock for lazy insertion. Entries are never removed: session churn
// is bounded by the number of distinct sessions ever touched, which is
// acceptable for this workload.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[authstore.SessionId]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[authstore.SessionId]*sync.Mutex)}
}

func (s *sessionLocks) get(id authstore.SessionId) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}
