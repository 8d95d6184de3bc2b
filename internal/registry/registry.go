// Package registry tracks live connections: which identity each connection
// authenticated as and which room and seat it currently holds. Outbound
// traffic goes through a per-session buffered channel drained by the
// connection's write pump, so neither broadcasts nor the durable store ever
// block on a slow client.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OutBufferSize is the per-session outbound queue depth. Messages beyond it
// are dropped rather than blocking room logic.
const OutBufferSize = 32

// Session is one live connection. Created on connect, destroyed on
// disconnect. Room placement is read and written from different connections'
// read loops, so it lives behind the session mutex.
type Session struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Username string
	IsGuest  bool
	Rating   int

	mu     sync.Mutex
	roomID uuid.UUID
	color  string // "white"/"black" when seated, "" for spectators

	OutChan chan map[string]interface{}
	Cancel  func()

	logger *logrus.Logger
}

// Place records which room the session is in and the seat color it holds
// there, "" for spectators.
func (s *Session) Place(roomID uuid.UUID, color string) {
	s.mu.Lock()
	s.roomID = roomID
	s.color = color
	s.mu.Unlock()
}

// Room returns the id of the room the session currently sits in.
func (s *Session) Room() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// SeatColor returns the color the session plays, "" for spectators.
func (s *Session) SeatColor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

// Send pushes a message onto the session's outbound queue without blocking.
func (s *Session) Send(msg map[string]interface{}) {
	select {
	case s.OutChan <- msg:
	default:
		if s.logger != nil {
			msgType, _ := msg["type"].(string)
			s.logger.Warnf("session %s: outbound queue full, dropped %q", s.ID, msgType)
		}
	}
}

// SendError sends the requester-only error signal. It is never broadcast.
func (s *Session) SendError(message string) {
	s.Send(map[string]interface{}{"type": "error", "message": message})
}

// Registry is the process-wide session table.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	logger   *logrus.Logger
}

func New(logger *logrus.Logger) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
	}
}

// NewSession registers a fresh session for an authenticated (or guest)
// identity and returns it.
func (reg *Registry) NewSession(userID uuid.UUID, username string, guest bool, rating int, cancel func()) *Session {
	id, _ := uuid.NewRandom()
	s := &Session{
		ID:       id,
		UserID:   userID,
		Username: username,
		IsGuest:  guest,
		Rating:   rating,
		OutChan:  make(chan map[string]interface{}, OutBufferSize),
		Cancel:   cancel,
		logger:   reg.logger,
	}
	reg.mu.Lock()
	reg.sessions[id] = s
	reg.mu.Unlock()
	return s
}

// Get returns the session for a connection id.
func (reg *Registry) Get(id uuid.UUID) (*Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions[id]
	return s, ok
}

// Remove drops the session and cancels its connection. The outbound queue is
// left open: a broadcast that resolved the session just before removal may
// still send into it, and the write pump exits on the canceled context
// rather than on queue close.
func (reg *Registry) Remove(id uuid.UUID) {
	reg.mu.Lock()
	s, ok := reg.sessions[id]
	if ok {
		delete(reg.sessions, id)
	}
	reg.mu.Unlock()

	if ok && s.Cancel != nil {
		s.Cancel()
	}
}

// SendTo delivers a message to one connection by id, reporting whether the
// session still exists.
func (reg *Registry) SendTo(id uuid.UUID, msg map[string]interface{}) bool {
	reg.mu.Lock()
	s, ok := reg.sessions[id]
	reg.mu.Unlock()
	if !ok {
		return false
	}
	s.Send(msg)
	return true
}
