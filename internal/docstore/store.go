package docstore

import (
	"sync"

	"github.com/ShivKnp/CodeCrew/internal/utils"
)

// Store maps session ids to their shared document. Documents are created
// lazily with empty defaults and live for the process lifetime; deletion
// and durable persistence are deliberately out of scope.
type Store struct {
	log *utils.Logger

	mu   sync.RWMutex
	docs map[string]*Doc
}

func NewStore(log *utils.Logger) *Store {
	return &Store{log: log, docs: make(map[string]*Doc)}
}

// EnsureDoc returns the session's document, creating it with default field
// values on first access. The second return reports whether it was created.
func (s *Store) EnsureDoc(id string) (*Doc, bool) {
	s.mu.RLock()
	if d, ok := s.docs[id]; ok {
		s.mu.RUnlock()
		return d, false
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		return d, false
	}
	d := newDoc(id, s.log)
	s.docs[id] = d
	s.log.Info("document created", "session", id)
	return d, true
}

// Get returns the document without creating it.
func (s *Store) Get(id string) (*Doc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

// Len reports the number of live documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
