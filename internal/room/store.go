package room

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the arena of live rooms, keyed by room id. Rooms are independent;
// the store lock only guards the map itself.
type Store struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[uuid.UUID]*Room)}
}

func (s *Store) Add(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
}

func (s *Store) Get(id uuid.UUID) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

// List returns the live rooms in no particular order.
func (s *Store) List() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out
}
