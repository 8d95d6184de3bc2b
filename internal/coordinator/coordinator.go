// Package coordinator routes socket events through the authorization engine
// into room mutations and fans the results back out. Every inbound event
// follows the same shape: resolve the session, build an authorization
// context, consult the policy engine, mutate the room, then broadcast. The
// room journals its own durable writes while it applies the mutation, so
// broadcasts never wait on the store and persisted order matches play order.
package coordinator

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kingside/internal/cache"
	"kingside/internal/models"
	"kingside/internal/policy"
	"kingside/internal/registry"
	"kingside/internal/room"
	"kingside/internal/rules"
)

// Requester-only error strings. Denials are deliberately uniform so a client
// cannot tell which rule failed.
const (
	errDenied       = "authorization denied"
	errRoomNotFound = "room not found"
)

// Coordinator owns the shared collaborators. It holds no per-room state of
// its own; rooms serialize their own mutations.
type Coordinator struct {
	Rooms    *room.Store
	Registry *registry.Registry
	Policy   *policy.Engine
	Oracle   rules.Oracle
	Logger   *logrus.Logger
}

func New(rooms *room.Store, reg *registry.Registry, eng *policy.Engine, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		Rooms:    rooms,
		Registry: reg,
		Policy:   eng,
		Logger:   logger,
	}
}

// actorOf lifts the session identity into the shape the policy engine reads.
func actorOf(sess *registry.Session) *models.User {
	return &models.User{
		ID:       sess.UserID,
		Username: sess.Username,
		IsGuest:  sess.IsGuest,
		Rating:   sess.Rating,
	}
}

// resolve finds the session and its current room; a nil room return means the
// requester was already told what went wrong.
func (c *Coordinator) resolve(sessionID uuid.UUID) (*registry.Session, *room.Room) {
	sess, ok := c.Registry.Get(sessionID)
	if !ok {
		return nil, nil
	}
	rm, ok := c.Rooms.Get(sess.Room())
	if !ok {
		sess.SendError(errRoomNotFound)
		return sess, nil
	}
	return sess, rm
}

// allow runs one game-policy check for the session against its room. Denials
// are reported to the requester only and logged.
func (c *Coordinator) allow(sess *registry.Session, rm *room.Room, action string, extra map[string]interface{}) bool {
	view := rm.PolicyView(sess.UserID)
	ctx := &policy.Context{
		Actor: actorOf(sess),
		Room:  &view,
		Extra: extra,
	}
	if c.Policy.Can(policy.TypeGame, ctx, action) {
		return true
	}
	c.Logger.WithFields(logrus.Fields{
		"session": sess.ID,
		"user":    sess.UserID,
		"room":    rm.ID,
		"action":  action,
	}).Warn("action denied")
	sess.SendError(errDenied)
	return false
}

// broadcast delivers msg to every connection in the room. Sessions that
// vanished between the snapshot and the send are skipped.
func (c *Coordinator) broadcast(rm *room.Room, msg map[string]interface{}) {
	for _, id := range rm.SessionIDs() {
		c.Registry.SendTo(id, msg)
	}
}

// HandleJoin attaches a connection to a room: returning players re-occupy
// their seat, new players take the first open one, and everyone else is
// offered a spectator slot when the room allows it.
func (c *Coordinator) HandleJoin(ctx context.Context, sessionID, roomID uuid.UUID) {
	sess, ok := c.Registry.Get(sessionID)
	if !ok {
		return
	}
	rm, ok := c.Rooms.Get(roomID)
	if !ok {
		sess.SendError(errRoomNotFound)
		return
	}

	if seat := rm.SeatOf(sess.UserID); seat != nil {
		c.rejoinSeat(ctx, sess, rm, seat.Color)
		return
	}

	view := rm.PolicyView(sess.UserID)
	pctx := &policy.Context{Actor: actorOf(sess), Room: &view}
	if c.Policy.Can(policy.TypeGame, pctx, policy.ActionJoinGame) {
		c.takeSeat(ctx, sess, rm)
		return
	}
	if c.Policy.Can(policy.TypeGame, pctx, policy.ActionSpectateGame) {
		c.spectate(sess, rm)
		return
	}
	c.Logger.WithFields(logrus.Fields{
		"session": sess.ID,
		"user":    sess.UserID,
		"room":    rm.ID,
	}).Warn("join denied")
	sess.SendError(errDenied)
}

func (c *Coordinator) takeSeat(ctx context.Context, sess *registry.Session, rm *room.Room) {
	seat, activated, err := rm.TakeSeat(sess.UserID, sess.Username, sess.Rating, sess.ID)
	if err != nil {
		// Raced for the last seat; fall back to spectating if permitted.
		view := rm.PolicyView(sess.UserID)
		pctx := &policy.Context{Actor: actorOf(sess), Room: &view}
		if err == room.ErrNoOpenSeat && c.Policy.Can(policy.TypeGame, pctx, policy.ActionSpectateGame) {
			c.spectate(sess, rm)
			return
		}
		sess.SendError(err.Error())
		return
	}
	sess.Place(rm.ID, string(seat.Color))

	sess.Send(playerRoleMsg(seat.Color, rm.ID.String()))
	snap := rm.Snapshot()
	sess.Send(boardStateMsg(snap))
	sess.Send(moveHistoryMsg(rm.History()))
	c.broadcast(rm, gameStatusMsg(snap))

	if activated {
		c.broadcast(rm, newGameStartedMsg(rm.ID.String()))
	}
	c.indexRoom(ctx, snap)
}

// rejoinSeat restores a returning player without consuming the open seat.
func (c *Coordinator) rejoinSeat(ctx context.Context, sess *registry.Session, rm *room.Room, color room.Color) {
	seat, err := rm.Reconnect(sess.UserID, sess.Username, sess.Rating, sess.ID, color)
	if err != nil {
		// Seat lost while away or the game ended. A returning player may
		// still watch whenever the room is viewable to them.
		view := rm.PolicyView(sess.UserID)
		pctx := &policy.Context{Actor: actorOf(sess), Room: &view}
		if c.Policy.Can(policy.TypeGame, pctx, policy.ActionViewGame) {
			c.spectate(sess, rm)
			return
		}
		sess.SendError(errDenied)
		return
	}
	sess.Place(rm.ID, string(seat.Color))

	sess.Send(playerRoleMsg(seat.Color, rm.ID.String()))
	snap := rm.Snapshot()
	sess.Send(boardStateMsg(snap))
	sess.Send(moveHistoryMsg(rm.History()))
	c.broadcast(rm, gameStatusMsg(snap))
	c.indexRoom(ctx, snap)
}

func (c *Coordinator) spectate(sess *registry.Session, rm *room.Room) {
	rm.AddSpectator(sess.ID, sess.UserID)
	sess.Place(rm.ID, "")

	sess.Send(spectatorRoleMsg(rm.ID.String()))
	snap := rm.Snapshot()
	sess.Send(boardStateMsg(snap))
	sess.Send(gameStatusMsg(snap))
	sess.Send(moveHistoryMsg(rm.History()))
}

// HandleMove validates and applies one move. Rejections reach the requester
// only; an accepted move is broadcast without waiting on its durable write.
func (c *Coordinator) HandleMove(ctx context.Context, sessionID uuid.UUID, req rules.MoveRequest) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !req.WellFormed() {
		sess.Send(invalidMoveMsg("malformed move"))
		return
	}
	extra := map[string]interface{}{"from": req.From, "to": req.To}
	if !c.allow(sess, rm, policy.ActionMakeMove, extra) {
		return
	}

	applied, err := rm.ApplyMove(room.Color(sess.SeatColor()), req)
	if err != nil {
		sess.Send(invalidMoveMsg(err.Error()))
		return
	}

	c.broadcast(rm, moveMadeMsg(applied))
	if applied.Checkmate {
		c.broadcast(rm, checkmateMsg())
	} else if applied.Check {
		c.broadcast(rm, checkMsg())
	}

	if applied.Outcome != nil {
		c.broadcast(rm, gameOverMsg(applied.Outcome))
	}
	c.indexRoom(ctx, rm.Snapshot())
}

// HandleResign ends the game in the opponent's favor.
func (c *Coordinator) HandleResign(ctx context.Context, sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionResignGame, nil) {
		return
	}
	out, err := rm.Resign(room.Color(sess.SeatColor()))
	if err != nil {
		sess.SendError(err.Error())
		return
	}
	c.broadcast(rm, gameOverMsg(out))
	c.indexRoom(ctx, rm.Snapshot())
}

// HandleNewGame starts a rematch: the current room is retired and both seats
// carry over into a fresh room with a reset position. A room rolls into a
// rematch once; the loser of a racing pair backs off and rides the winner's
// broadcasts.
func (c *Coordinator) HandleNewGame(ctx context.Context, sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionNewGame, nil) {
		return
	}

	// Retire the old room first so its record closes before the new one
	// opens. An abort mid-game counts as agreement to stop; a room that
	// already ended just rolls into the rematch.
	if _, err := rm.Abort(room.ReasonAgreement); err != nil && !errors.Is(err, room.ErrTerminal) {
		sess.SendError(err.Error())
		return
	}

	next, err := room.Rematch(rm)
	if err != nil {
		return
	}
	c.Rooms.Add(next)

	snap := next.Snapshot()
	for _, seat := range snap.Seats {
		if s, ok := c.Registry.Get(seat.SessionID); ok {
			s.Place(next.ID, string(seat.Color))
		}
	}
	for _, id := range next.SessionIDs() {
		if s, ok := c.Registry.Get(id); ok && s.Room() != next.ID {
			s.Place(next.ID, "")
		}
	}

	c.broadcast(next, newGameStartedMsg(next.ID.String()))
	c.broadcast(next, boardStateMsg(snap))
	c.broadcast(next, gameStatusMsg(snap))

	c.Rooms.Delete(rm.ID)
	c.deindexRoom(ctx, rm.ID)
	c.indexRoom(ctx, snap)
}

// HandleOfferDraw records a pending offer and notifies the room.
func (c *Coordinator) HandleOfferDraw(sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionOfferDraw, nil) {
		return
	}
	color := room.Color(sess.SeatColor())
	if err := rm.OfferDraw(color); err != nil {
		sess.SendError(err.Error())
		return
	}
	c.broadcast(rm, drawOfferedMsg(color))
}

// HandleAcceptDraw ends the game as a draw by agreement.
func (c *Coordinator) HandleAcceptDraw(ctx context.Context, sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionAcceptDraw, nil) {
		return
	}
	out, err := rm.AcceptDraw(room.Color(sess.SeatColor()))
	if err != nil {
		sess.SendError(err.Error())
		return
	}
	c.broadcast(rm, gameOverMsg(out))
	c.indexRoom(ctx, rm.Snapshot())
}

// HandleDeclineDraw clears the pending offer and tells both players.
func (c *Coordinator) HandleDeclineDraw(sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionDeclineDraw, nil) {
		return
	}
	color := room.Color(sess.SeatColor())
	from, err := rm.DeclineDraw(color)
	if err != nil {
		sess.SendError(err.Error())
		return
	}
	c.broadcast(rm, drawDeclinedMsg(color, from))
}

// HandleValidMoves answers the requester with the legal targets from one
// square. Purely a read; never broadcast.
func (c *Coordinator) HandleValidMoves(sessionID uuid.UUID, square string) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionViewGame, nil) {
		return
	}
	snap := rm.Snapshot()
	targets, err := c.Oracle.ValidTargets(snap.FEN, square)
	if err != nil {
		sess.SendError(err.Error())
		return
	}
	sess.Send(validMovesMsg(square, targets))
}

// HandleStatus answers the requester with the room's current state.
func (c *Coordinator) HandleStatus(sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionViewGame, nil) {
		return
	}
	sess.Send(gameStatusMsg(rm.Snapshot()))
}

// HandleHistory answers the requester with the full move log.
func (c *Coordinator) HandleHistory(sessionID uuid.UUID) {
	sess, rm := c.resolve(sessionID)
	if rm == nil {
		return
	}
	if !c.allow(sess, rm, policy.ActionViewGame, nil) {
		return
	}
	sess.Send(moveHistoryMsg(rm.History()))
}

// HandleDisconnect reconciles a dropped connection. An active game forfeits
// to the remaining player; empty rooms are retired.
func (c *Coordinator) HandleDisconnect(ctx context.Context, sessionID uuid.UUID) {
	sess, ok := c.Registry.Get(sessionID)
	if !ok {
		return
	}
	rm, hasRoom := c.Rooms.Get(sess.Room())
	if hasRoom {
		if ev := rm.HandleDisconnect(sessionID); ev != nil {
			if ev.SeatColor != "" {
				c.broadcast(rm, playerDisconnectedMsg(ev.SeatColor, sess.Username))
			}
			if ev.Outcome != nil {
				c.broadcast(rm, gameOverMsg(ev.Outcome))
			}
		}
		if len(rm.SessionIDs()) == 0 {
			c.Rooms.Delete(rm.ID)
			c.deindexRoom(ctx, rm.ID)
		} else {
			c.broadcast(rm, gameStatusMsg(rm.Snapshot()))
			c.indexRoom(ctx, rm.Snapshot())
		}
	}
	c.Registry.Remove(sessionID)
}

// indexRoom refreshes the redis room listing. Best effort; the in-memory
// store remains authoritative and a down redis is not an error here.
func (c *Coordinator) indexRoom(ctx context.Context, snap room.Snapshot) {
	if cache.Rdb == nil {
		return
	}
	sum := cache.RoomSummary{
		ID:         snap.RoomID,
		Status:     string(snap.Status),
		MoveCount:  snap.MoveCount,
		Spectators: snap.Spectators,
	}
	for _, seat := range snap.Seats {
		switch seat.Color {
		case room.White:
			sum.White = seat.Username
		case room.Black:
			sum.Black = seat.Username
		}
	}
	if err := cache.IndexRoom(ctx, sum); err != nil {
		c.Logger.WithError(err).Warn("room index update failed")
	}
}

func (c *Coordinator) deindexRoom(ctx context.Context, id uuid.UUID) {
	if cache.Rdb == nil {
		return
	}
	if err := cache.DeindexRoom(ctx, id); err != nil {
		c.Logger.WithError(err).Warn("room deindex failed")
	}
}
