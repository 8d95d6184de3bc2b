// Package persist mirrors room lifecycle transitions to the durable
// game-record store. Writes happen off the hot path: broadcast never waits
// on store latency, but each room owns a FIFO queue drained by a single
// goroutine, so move N+1 is never persisted before move N. Callers emit
// events in apply order (the room journals under its own lock); the close
// event retires the queue for good, and anything arriving for a retired room
// is dropped with a warning rather than resurrecting it. A failed write is
// logged and skipped; the in-memory room stays authoritative and the record
// is reconciled out of band.
package persist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kingside/internal/cache"
	"kingside/internal/models"
)

// RecordStore is the durable game-record collaborator.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.GameRecord) error
	AppendMove(ctx context.Context, gameID uuid.UUID, mv models.MoveRecord) error
	CloseRecord(ctx context.Context, gameID uuid.UUID, cl models.RecordClose) error
}

// MovePublisher pushes applied moves to the historian queue. Optional.
type MovePublisher func(ctx context.Context, rec cache.MoveQueueRecord) error

const (
	queueDepth   = 256
	writeTimeout = 10 * time.Second
)

// roomQueue is one room's write pipeline. Its mutex covers the send/close
// pair so a late enqueue can never hit a closed channel.
type roomQueue struct {
	mu     sync.Mutex
	ch     chan func(context.Context)
	closed bool
}

// Synchronizer owns the per-room write queues.
type Synchronizer struct {
	store   RecordStore
	publish MovePublisher
	logger  *logrus.Logger

	mu      sync.Mutex
	queues  map[uuid.UUID]*roomQueue
	retired map[uuid.UUID]struct{}
	jobs    sync.WaitGroup
}

func New(store RecordStore, publish MovePublisher, logger *logrus.Logger) *Synchronizer {
	return &Synchronizer{
		store:   store,
		publish: publish,
		logger:  logger,
		queues:  make(map[uuid.UUID]*roomQueue),
		retired: make(map[uuid.UUID]struct{}),
	}
}

// enqueue appends a job to the room's FIFO queue, creating it on first use.
// The send blocks when the queue is full rather than reordering or dropping.
// A final job closes the queue behind itself and tombstones the room id, so
// writes that race past the close are dropped instead of reopening it.
func (s *Synchronizer) enqueue(roomID uuid.UUID, final bool, job func(context.Context)) {
	s.mu.Lock()
	if _, gone := s.retired[roomID]; gone {
		s.mu.Unlock()
		s.logger.Warnf("persist: dropped write for retired room %s", roomID)
		return
	}
	q, ok := s.queues[roomID]
	if !ok {
		q = &roomQueue{ch: make(chan func(context.Context), queueDepth)}
		s.queues[roomID] = q
		go s.drain(q)
	}
	if final {
		s.retired[roomID] = struct{}{}
		delete(s.queues, roomID)
	}
	s.mu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		s.logger.Warnf("persist: dropped write for retired room %s", roomID)
		return
	}
	s.jobs.Add(1)
	q.ch <- job
	if final {
		q.closed = true
		close(q.ch)
	}
}

func (s *Synchronizer) drain(q *roomQueue) {
	for job := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		job(ctx)
		cancel()
		s.jobs.Done()
	}
}

// RoomOpened records that a room became active.
func (s *Synchronizer) RoomOpened(rec models.GameRecord) {
	s.enqueue(rec.ID, false, func(ctx context.Context) {
		if err := s.store.CreateRecord(ctx, &rec); err != nil {
			s.logger.Errorf("persist: create record %s: %v", rec.ID, err)
		}
	})
}

// MoveApplied appends an applied move, in order, and forwards it to the
// historian queue when one is wired.
func (s *Synchronizer) MoveApplied(roomID, actorID uuid.UUID, mv models.MoveRecord) {
	s.enqueue(roomID, false, func(ctx context.Context) {
		if err := s.store.AppendMove(ctx, roomID, mv); err != nil {
			s.logger.Errorf("persist: append move %d to %s: %v", mv.Number, roomID, err)
		}
		if s.publish == nil {
			return
		}
		rec := cache.MoveQueueRecord{
			RoomID:    roomID,
			Number:    mv.Number,
			ActorID:   actorID,
			Color:     mv.Color,
			UCI:       mv.UCI,
			SAN:       mv.SAN,
			FEN:       mv.FEN,
			Timestamp: mv.Timestamp.UnixMilli(),
		}
		if err := s.publish(ctx, rec); err != nil {
			s.logger.Warnf("persist: publish move %d for %s: %v", mv.Number, roomID, err)
		}
	})
}

// RoomClosed finalizes the record and retires the room's queue behind every
// pending write. The room id is tombstoned; later writes for it are dropped.
func (s *Synchronizer) RoomClosed(roomID uuid.UUID, cl models.RecordClose) {
	s.enqueue(roomID, true, func(ctx context.Context) {
		if err := s.store.CloseRecord(ctx, roomID, cl); err != nil {
			s.logger.Errorf("persist: close record %s: %v", roomID, err)
		}
	})
}

// Wait blocks until every enqueued write has been attempted. Test hook and
// shutdown aid.
func (s *Synchronizer) Wait() {
	s.jobs.Wait()
}
