package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kingside/internal/cache"
	"kingside/internal/models"
)

// fakeStore records the order of calls per game.
type fakeStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID][]string

	failAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: make(map[uuid.UUID][]string)}
}

func (f *fakeStore) record(id uuid.UUID, call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id] = append(f.calls[id], call)
}

func (f *fakeStore) CreateRecord(_ context.Context, rec *models.GameRecord) error {
	f.record(rec.ID, "create")
	return nil
}

func (f *fakeStore) AppendMove(_ context.Context, gameID uuid.UUID, mv models.MoveRecord) error {
	f.record(gameID, fmt.Sprintf("move:%d", mv.Number))
	if f.failAppend {
		return errors.New("db down")
	}
	return nil
}

func (f *fakeStore) CloseRecord(_ context.Context, gameID uuid.UUID, _ models.RecordClose) error {
	f.record(gameID, "close")
	return nil
}

func (f *fakeStore) callsFor(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls[id]))
	copy(out, f.calls[id])
	return out
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestWritesPreserveRoomOrder(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil, testLogger())

	roomID := uuid.New()
	s.RoomOpened(models.GameRecord{ID: roomID})
	for i := 1; i <= 5; i++ {
		s.MoveApplied(roomID, uuid.New(), models.MoveRecord{Number: i})
	}
	s.RoomClosed(roomID, models.RecordClose{Result: "draw"})
	s.Wait()

	want := []string{"create", "move:1", "move:2", "move:3", "move:4", "move:5", "close"}
	assert.Equal(t, want, store.callsFor(roomID))
}

func TestRoomsDrainIndependently(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil, testLogger())

	a, b := uuid.New(), uuid.New()
	s.RoomOpened(models.GameRecord{ID: a})
	s.RoomOpened(models.GameRecord{ID: b})
	for i := 1; i <= 3; i++ {
		s.MoveApplied(a, uuid.New(), models.MoveRecord{Number: i})
		s.MoveApplied(b, uuid.New(), models.MoveRecord{Number: i})
	}
	s.RoomClosed(a, models.RecordClose{})
	s.RoomClosed(b, models.RecordClose{})
	s.Wait()

	want := []string{"create", "move:1", "move:2", "move:3", "close"}
	assert.Equal(t, want, store.callsFor(a))
	assert.Equal(t, want, store.callsFor(b))
}

func TestFailedWriteDoesNotStallQueue(t *testing.T) {
	store := newFakeStore()
	store.failAppend = true
	s := New(store, nil, testLogger())

	roomID := uuid.New()
	s.MoveApplied(roomID, uuid.New(), models.MoveRecord{Number: 1})
	s.MoveApplied(roomID, uuid.New(), models.MoveRecord{Number: 2})
	s.RoomClosed(roomID, models.RecordClose{})

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("synchronizer stalled after failed writes")
	}

	// Every write was still attempted, in order.
	assert.Equal(t, []string{"move:1", "move:2", "close"}, store.callsFor(roomID))
}

func TestPublisherReceivesAppliedMoves(t *testing.T) {
	store := newFakeStore()

	var mu sync.Mutex
	var published []cache.MoveQueueRecord
	publish := func(_ context.Context, rec cache.MoveQueueRecord) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, rec)
		return nil
	}

	s := New(store, publish, testLogger())
	roomID, actorID := uuid.New(), uuid.New()
	s.MoveApplied(roomID, actorID, models.MoveRecord{
		Number: 1, Color: "white", UCI: "e2e4", SAN: "e4", FEN: "fen-after", Timestamp: time.Now(),
	})
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, roomID, published[0].RoomID)
	assert.Equal(t, actorID, published[0].ActorID)
	assert.Equal(t, "e2e4", published[0].UCI)
	assert.Equal(t, 1, published[0].Number)
}

func TestCloseRetiresQueue(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil, testLogger())

	roomID := uuid.New()
	s.RoomClosed(roomID, models.RecordClose{})
	s.Wait()

	s.mu.Lock()
	_, ok := s.queues[roomID]
	_, gone := s.retired[roomID]
	s.mu.Unlock()
	assert.False(t, ok)
	assert.True(t, gone)
}

func TestWriteAfterCloseIsDropped(t *testing.T) {
	store := newFakeStore()
	s := New(store, nil, testLogger())

	roomID := uuid.New()
	s.RoomOpened(models.GameRecord{ID: roomID})
	s.RoomClosed(roomID, models.RecordClose{})

	// A write that loses the race against the close must not reopen the
	// retired queue or land after the close.
	s.MoveApplied(roomID, uuid.New(), models.MoveRecord{Number: 1})
	s.Wait()

	assert.Equal(t, []string{"create", "close"}, store.callsFor(roomID))
	s.mu.Lock()
	_, ok := s.queues[roomID]
	s.mu.Unlock()
	assert.False(t, ok, "queue must stay retired")
}
