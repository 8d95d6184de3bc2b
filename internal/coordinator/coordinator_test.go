package coordinator

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kingside/internal/models"
	"kingside/internal/persist"
	"kingside/internal/policy"
	"kingside/internal/registry"
	"kingside/internal/room"
	"kingside/internal/rules"
)

// memStore is an in-memory RecordStore tracking call order per game.
type memStore struct {
	mu    sync.Mutex
	calls map[uuid.UUID][]string
}

func newMemStore() *memStore {
	return &memStore{calls: make(map[uuid.UUID][]string)}
}

func (m *memStore) log(id uuid.UUID, call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id] = append(m.calls[id], call)
}

func (m *memStore) CreateRecord(_ context.Context, rec *models.GameRecord) error {
	m.log(rec.ID, "create")
	return nil
}

func (m *memStore) AppendMove(_ context.Context, gameID uuid.UUID, _ models.MoveRecord) error {
	m.log(gameID, "move")
	return nil
}

func (m *memStore) CloseRecord(_ context.Context, gameID uuid.UUID, _ models.RecordClose) error {
	m.log(gameID, "close")
	return nil
}

func (m *memStore) callsFor(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls[id]))
	copy(out, m.calls[id])
	return out
}

type fixture struct {
	coord *Coordinator
	store *memStore
	rooms *room.Store
	reg   *registry.Registry
	sync  *persist.Synchronizer
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := newMemStore()
	rooms := room.NewStore()
	reg := registry.New(logger)
	sync := persist.New(store, nil, logger)

	return &fixture{
		coord: New(rooms, reg, policy.NewEngine(), logger),
		store: store,
		rooms: rooms,
		reg:   reg,
		sync:  sync,
	}
}

// newRoom builds a room wired to the fixture's synchronizer, the way the
// create handler does in production.
func (f *fixture) newRoom(opts room.Options) *room.Room {
	rm := room.New(opts)
	rm.Journal = f.sync
	f.rooms.Add(rm)
	return rm
}

func (f *fixture) session(username string) *registry.Session {
	return f.reg.NewSession(uuid.New(), username, false, 1200, nil)
}

// drain empties a session's outbound queue without blocking.
func drain(s *registry.Session) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg, ok := <-s.OutChan:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func msgTypes(msgs []map[string]interface{}) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i], _ = m["type"].(string)
	}
	return out
}

func hasType(msgs []map[string]interface{}, typ string) bool {
	for _, m := range msgs {
		if m["type"] == typ {
			return true
		}
	}
	return false
}

// seatTwo creates a room, joins two sessions, and drains both queues.
func seatTwo(t *testing.T, f *fixture) (rm *room.Room, white, black *registry.Session) {
	t.Helper()
	rm = f.newRoom(room.Options{AllowSpectators: true})

	ctx := context.Background()
	white = f.session("alice")
	f.coord.HandleJoin(ctx, white.ID, rm.ID)

	black = f.session("bob")
	f.coord.HandleJoin(ctx, black.ID, rm.ID)

	require.Equal(t, room.StatusActive, rm.Snapshot().Status)
	drain(white)
	drain(black)
	return rm, white, black
}

func TestJoinAssignsRolesAndActivates(t *testing.T) {
	f := newFixture()
	rm := f.newRoom(room.Options{AllowSpectators: true})
	ctx := context.Background()

	white := f.session("alice")
	f.coord.HandleJoin(ctx, white.ID, rm.ID)
	msgs := drain(white)

	assert.Equal(t, "white", white.SeatColor())
	assert.Equal(t, rm.ID, white.Room())
	require.True(t, hasType(msgs, MsgPlayerRole))
	assert.True(t, hasType(msgs, MsgBoardState))
	assert.True(t, hasType(msgs, MsgMoveHistory))
	assert.False(t, hasType(msgs, MsgNewGameStarted))

	black := f.session("bob")
	f.coord.HandleJoin(ctx, black.ID, rm.ID)
	blackMsgs := drain(black)
	whiteMsgs := drain(white)

	assert.Equal(t, "black", black.SeatColor())
	assert.True(t, hasType(blackMsgs, MsgPlayerRole))
	assert.True(t, hasType(blackMsgs, MsgNewGameStarted))
	// The first player hears about the start too.
	assert.True(t, hasType(whiteMsgs, MsgGameStatus))
	assert.True(t, hasType(whiteMsgs, MsgNewGameStarted))

	f.sync.Wait()
	assert.Equal(t, []string{"create"}, f.store.callsFor(rm.ID))
}

func TestJoinUnknownRoom(t *testing.T) {
	f := newFixture()
	sess := f.session("alice")

	f.coord.HandleJoin(context.Background(), sess.ID, uuid.New())
	msgs := drain(sess)
	require.True(t, hasType(msgs, "error"))
}

func TestThirdJoinerSpectates(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	// Mid-game joiner: the welcome burst must carry the moves played so far.
	f.coord.HandleMove(ctx, white.ID, rules.MoveRequest{From: "e2", To: "e4"})
	drain(white)
	drain(black)

	spec := f.session("carol")
	f.coord.HandleJoin(ctx, spec.ID, rm.ID)
	msgs := drain(spec)

	assert.Equal(t, "", spec.SeatColor())
	assert.True(t, hasType(msgs, MsgSpectatorRole))
	assert.True(t, hasType(msgs, MsgBoardState))
	require.True(t, hasType(msgs, MsgMoveHistory))
	for _, m := range msgs {
		if m["type"] == MsgMoveHistory {
			moves, ok := m["moves"].([]models.MoveRecord)
			require.True(t, ok)
			require.Len(t, moves, 1)
			assert.Equal(t, "e2e4", moves[0].UCI)
		}
	}
	assert.Equal(t, 1, rm.Snapshot().Spectators)
}

func TestMoveBroadcastsAndPersists(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleMove(ctx, white.ID, rules.MoveRequest{From: "e2", To: "e4"})

	whiteMsgs := drain(white)
	blackMsgs := drain(black)
	assert.True(t, hasType(whiteMsgs, MsgMoveMade))
	assert.True(t, hasType(blackMsgs, MsgMoveMade))

	f.sync.Wait()
	assert.Equal(t, []string{"create", "move"}, f.store.callsFor(rm.ID))
}

func TestOutOfTurnMoveIsRequesterOnly(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleMove(ctx, black.ID, rules.MoveRequest{From: "e7", To: "e5"})

	blackMsgs := drain(black)
	whiteMsgs := drain(white)
	assert.True(t, hasType(blackMsgs, "error"))
	assert.Empty(t, whiteMsgs, "opponent must not see the rejection")
	assert.Equal(t, room.White, rm.Snapshot().Turn)

	f.sync.Wait()
	assert.Equal(t, []string{"create"}, f.store.callsFor(rm.ID))
}

func TestSpectatorMutationsDenied(t *testing.T) {
	f := newFixture()
	rm, white, _ := seatTwo(t, f)
	ctx := context.Background()

	spec := f.session("carol")
	f.coord.HandleJoin(ctx, spec.ID, rm.ID)
	drain(spec)
	drain(white)

	f.coord.HandleResign(ctx, spec.ID)
	f.coord.HandleMove(ctx, spec.ID, rules.MoveRequest{From: "e2", To: "e4"})
	f.coord.HandleOfferDraw(spec.ID)

	specMsgs := drain(spec)
	assert.Equal(t, []string{"error", "error", "error"}, msgTypes(specMsgs))
	assert.Empty(t, drain(white))
	assert.Equal(t, room.StatusActive, rm.Snapshot().Status)

	// Reads are still allowed.
	f.coord.HandleStatus(spec.ID)
	assert.True(t, hasType(drain(spec), MsgGameStatus))
}

func TestResignFinishesAndClosesRecord(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)

	f.coord.HandleResign(context.Background(), black.ID)

	whiteMsgs := drain(white)
	require.True(t, hasType(whiteMsgs, MsgGameOver))
	assert.True(t, hasType(drain(black), MsgGameOver))
	assert.Equal(t, room.StatusFinished, rm.Snapshot().Status)

	f.sync.Wait()
	assert.Equal(t, []string{"create", "close"}, f.store.callsFor(rm.ID))
}

func TestDrawNegotiation(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	// Play past the minimum move count for an offer.
	f.coord.HandleMove(ctx, white.ID, rules.MoveRequest{From: "e2", To: "e4"})
	f.coord.HandleMove(ctx, black.ID, rules.MoveRequest{From: "e7", To: "e5"})
	drain(white)
	drain(black)

	f.coord.HandleOfferDraw(white.ID)
	assert.True(t, hasType(drain(black), MsgDrawOffered))

	f.coord.HandleDeclineDraw(black.ID)
	assert.True(t, hasType(drain(white), MsgDrawDeclined))
	assert.Equal(t, room.StatusActive, rm.Snapshot().Status)

	f.coord.HandleOfferDraw(white.ID)
	drain(white)
	drain(black)
	f.coord.HandleAcceptDraw(ctx, black.ID)

	whiteMsgs := drain(white)
	require.True(t, hasType(whiteMsgs, MsgGameOver))
	assert.Equal(t, room.StatusFinished, rm.Snapshot().Status)

	f.sync.Wait()
	assert.Equal(t, []string{"create", "move", "move", "close"}, f.store.callsFor(rm.ID))
}

func TestEarlyDrawOfferDenied(t *testing.T) {
	f := newFixture()
	_, white, black := seatTwo(t, f)

	f.coord.HandleOfferDraw(white.ID)
	assert.True(t, hasType(drain(white), "error"))
	assert.Empty(t, drain(black))
}

func TestDisconnectForfeitsActiveGame(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)

	f.coord.HandleDisconnect(context.Background(), black.ID)

	whiteMsgs := drain(white)
	assert.True(t, hasType(whiteMsgs, MsgPlayerDisconnected))
	require.True(t, hasType(whiteMsgs, MsgGameOver))
	assert.Equal(t, room.StatusFinished, rm.Snapshot().Status)

	_, stillThere := f.reg.Get(black.ID)
	assert.False(t, stillThere)

	f.sync.Wait()
	assert.Equal(t, []string{"create", "close"}, f.store.callsFor(rm.ID))
}

func TestLastDisconnectRetiresRoom(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleDisconnect(ctx, black.ID)
	f.coord.HandleDisconnect(ctx, white.ID)

	_, ok := f.rooms.Get(rm.ID)
	assert.False(t, ok)
}

func TestNewGameStartsRematch(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleResign(ctx, black.ID)
	drain(white)
	drain(black)

	f.coord.HandleNewGame(ctx, white.ID)

	whiteMsgs := drain(white)
	require.True(t, hasType(whiteMsgs, MsgNewGameStarted))
	assert.True(t, hasType(drain(black), MsgNewGameStarted))

	// Both sessions moved to the new room; the old one is gone.
	assert.NotEqual(t, rm.ID, white.Room())
	assert.Equal(t, white.Room(), black.Room())
	_, ok := f.rooms.Get(rm.ID)
	assert.False(t, ok)

	next, ok := f.rooms.Get(white.Room())
	require.True(t, ok)
	snap := next.Snapshot()
	assert.Equal(t, room.StatusActive, snap.Status)
	assert.Equal(t, 0, snap.MoveCount)

	// Colors carried over.
	assert.Equal(t, "white", white.SeatColor())
	assert.Equal(t, "black", black.SeatColor())

	f.sync.Wait()
	assert.Equal(t, []string{"create"}, f.store.callsFor(next.ID))
}

func TestRematchLoserBacksOff(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleResign(ctx, black.ID)
	drain(white)
	drain(black)

	// The opponent's rematch wins the race just before this handler gets to
	// the room.
	winner, err := room.Rematch(rm)
	require.NoError(t, err)
	f.rooms.Add(winner)
	f.sync.Wait()
	require.Equal(t, []string{"create"}, f.store.callsFor(winner.ID))

	f.coord.HandleNewGame(ctx, white.ID)

	// The losing request spawns nothing: no extra room, no second start
	// announcement, no duplicate record.
	assert.Len(t, f.rooms.List(), 2)
	assert.False(t, hasType(drain(white), MsgNewGameStarted))
	f.sync.Wait()
	assert.Equal(t, []string{"create"}, f.store.callsFor(winner.ID))
}

func TestConcurrentEventsKeepPersistOrder(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	// Moves racing a resignation across connections: whatever interleaving
	// wins, the persisted stream must match the order the room applied.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		f.coord.HandleMove(ctx, white.ID, rules.MoveRequest{From: "e2", To: "e4"})
	}()
	go func() {
		defer wg.Done()
		f.coord.HandleMove(ctx, black.ID, rules.MoveRequest{From: "e7", To: "e5"})
	}()
	go func() {
		defer wg.Done()
		f.coord.HandleResign(ctx, black.ID)
	}()
	wg.Wait()
	f.sync.Wait()

	calls := f.store.callsFor(rm.ID)
	require.NotEmpty(t, calls)
	assert.Equal(t, "create", calls[0])
	assert.Equal(t, "close", calls[len(calls)-1])
	for _, call := range calls[1 : len(calls)-1] {
		assert.Equal(t, "move", call)
	}

	snap := rm.Snapshot()
	assert.Equal(t, room.StatusFinished, snap.Status)
	assert.Len(t, rm.History(), snap.MoveCount)
}

func TestReconnectRestoresSeatAndHistory(t *testing.T) {
	f := newFixture()
	rm, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleMove(ctx, white.ID, rules.MoveRequest{From: "e2", To: "e4"})
	drain(white)
	drain(black)

	// The room stays alive because white is still connected; black's session
	// is gone but the game has ended in white's favor.
	blackUser := black.UserID
	f.coord.HandleDisconnect(ctx, black.ID)
	drain(white)

	// A finished room refuses reseating; the returning player is offered the
	// spectator view instead.
	back := f.reg.NewSession(blackUser, "bob", false, 1200, nil)
	f.coord.HandleJoin(ctx, back.ID, rm.ID)
	msgs := drain(back)
	assert.True(t, hasType(msgs, MsgSpectatorRole))
}

func TestValidMovesAndHistory(t *testing.T) {
	f := newFixture()
	_, white, black := seatTwo(t, f)
	ctx := context.Background()

	f.coord.HandleValidMoves(white.ID, "e2")
	msgs := drain(white)
	require.True(t, hasType(msgs, MsgValidMoves))
	for _, m := range msgs {
		if m["type"] == MsgValidMoves {
			assert.ElementsMatch(t, []string{"e3", "e4"}, m["moves"])
		}
	}

	f.coord.HandleMove(ctx, white.ID, rules.MoveRequest{From: "e2", To: "e4"})
	drain(white)
	drain(black)

	f.coord.HandleHistory(black.ID)
	histMsgs := drain(black)
	require.True(t, hasType(histMsgs, MsgMoveHistory))
	for _, m := range histMsgs {
		if m["type"] == MsgMoveHistory {
			moves, ok := m["moves"].([]models.MoveRecord)
			require.True(t, ok)
			require.Len(t, moves, 1)
			assert.Equal(t, "e2e4", moves[0].UCI)
		}
	}
}
