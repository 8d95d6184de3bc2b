// Package room holds the authoritative in-memory state for one game: seats,
// spectators, lifecycle status, turn, draw negotiation, and the position
// token produced by the rules oracle. A Room is the unit of concurrency:
// every mutating operation takes the room's mutex, so concurrent events on
// the same room apply one at a time in arrival order while distinct rooms
// proceed fully in parallel.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"kingside/internal/models"
	"kingside/internal/policy"
	"kingside/internal/rating"
	"kingside/internal/rules"
)

// Journal receives a room's durable lifecycle events. Every call happens
// while the room lock is held, so for one room the events arrive exactly in
// the order the room applied them: open before any move, moves in play
// order, close last. Implementations must not call back into the room.
type Journal interface {
	RoomOpened(rec models.GameRecord)
	MoveApplied(roomID, actorID uuid.UUID, mv models.MoveRecord)
	RoomClosed(roomID uuid.UUID, cl models.RecordClose)
}

// Color is a seat color.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Status is the room lifecycle state. Transitions only move forward:
// waiting -> active -> finished|aborted.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusAborted  Status = "aborted"
)

// Result and reason tags for closed games. Oracle-detected reasons come from
// the rules package; these cover the coordinator-originated ones.
const (
	ResultAborted = "aborted"

	ReasonResignation   = "resignation"
	ReasonDisconnection = "disconnection"
	ReasonAgreement     = "agreement"
)

var (
	ErrNotActive      = errors.New("room is not active")
	ErrTerminal       = errors.New("room has already ended")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrNotSeated      = errors.New("no seat held")
	ErrNoOpenSeat     = errors.New("no open seat")
	ErrSeatOccupied   = errors.New("seat is occupied")
	ErrNoPendingOffer = errors.New("no pending draw offer")
	ErrOfferPending   = errors.New("a draw offer is already pending")
	ErrOwnOffer       = errors.New("cannot answer your own draw offer")
	ErrRematched      = errors.New("room already rolled into a rematch")
)

// Seat is an occupied player slot.
type Seat struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	SessionID uuid.UUID `json:"-"`
	Color     Color     `json:"color"`
	Rating    int       `json:"rating"`
	Connected bool      `json:"connected"`
}

// Options configure a room at creation.
type Options struct {
	TimeControl     string `json:"time_control,omitempty"` // stored, not enforced
	AllowSpectators bool   `json:"allow_spectators"`
	RatingMin       int    `json:"rating_min,omitempty"`
	RatingMax       int    `json:"rating_max,omitempty"`
}

// Outcome describes a terminal transition.
type Outcome struct {
	Result   string `json:"result"` // white_win/black_win/draw/aborted
	Reason   string `json:"reason"`
	Winner   Color  `json:"winner,omitempty"` // "" for draw/abort
	FinalFEN string `json:"final_fen"`

	// Recorded reports whether the room ever opened a durable record,
	// i.e. whether it reached active before ending.
	Recorded bool `json:"-"`
}

// AppliedMove is a successfully applied move plus its consequences.
type AppliedMove struct {
	Record    models.MoveRecord
	Check     bool
	Checkmate bool
	NextTurn  Color
	Outcome   *Outcome // non-nil when the move ended the game
}

// Snapshot is the broadcastable view of room state.
type Snapshot struct {
	RoomID        uuid.UUID `json:"room_id"`
	Status        Status    `json:"status"`
	Turn          Color     `json:"turn"`
	MoveCount     int       `json:"move_count"`
	FEN           string    `json:"fen"`
	Check         bool      `json:"is_check"`
	Checkmate     bool      `json:"is_checkmate"`
	DrawOfferFrom Color     `json:"draw_offer_from,omitempty"`
	Seats         []Seat    `json:"seats"`
	Spectators    int       `json:"spectators"`
}

// Room is one game's authoritative state. Exported methods acquire Mu; at
// most two seats ever exist and their colors are always distinct.
type Room struct {
	ID   uuid.UUID
	Opts Options

	Seats      []*Seat
	Spectators map[uuid.UUID]uuid.UUID // sessionID -> userID

	Status Status
	Turn   Color
	FEN    string
	Moves  []models.MoveRecord

	PendingDrawFrom Color // "" when no offer is pending

	lastCheck     bool
	lastCheckmate bool
	rematched     bool

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	oracle rules.Oracle

	// Journal, when set, hears lifecycle events in apply order. Set before
	// the room is shared and never changed after.
	Journal Journal

	Mu sync.Mutex
}

// New builds an empty waiting room.
func New(opts Options) *Room {
	id, _ := uuid.NewRandom()
	return &Room{
		ID:         id,
		Opts:       opts,
		Spectators: make(map[uuid.UUID]uuid.UUID),
		Status:     StatusWaiting,
		Turn:       White,
		FEN:        rules.StartFEN,
		CreatedAt:  time.Now(),
	}
}

// Rematch builds a fresh room carrying over prev's seats and spectators with
// a reset position. If both seats are present the new room starts active
// with white to move. A room rolls into a rematch at most once; racing
// requests after the first get ErrRematched and should defer to the winner.
func Rematch(prev *Room) (*Room, error) {
	prev.Mu.Lock()
	defer prev.Mu.Unlock()

	if prev.rematched {
		return nil, ErrRematched
	}
	prev.rematched = true

	next := New(prev.Opts)
	next.Journal = prev.Journal
	for _, s := range prev.Seats {
		copied := *s
		next.Seats = append(next.Seats, &copied)
	}
	for sessID, userID := range prev.Spectators {
		next.Spectators[sessID] = userID
	}
	if next.seatByColor(White) != nil && next.seatByColor(Black) != nil {
		next.Status = StatusActive
		next.Turn = White
		next.StartedAt = time.Now()
		next.openJournalLocked()
	}
	return next, nil
}

// seatByColor assumes the lock is held.
func (r *Room) seatByColor(c Color) *Seat {
	for _, s := range r.Seats {
		if s.Color == c {
			return s
		}
	}
	return nil
}

// seatBySession assumes the lock is held.
func (r *Room) seatBySession(sessionID uuid.UUID) *Seat {
	for _, s := range r.Seats {
		if s.SessionID == sessionID {
			return s
		}
	}
	return nil
}

// SeatOf returns the seat held by userID, or nil.
func (r *Room) SeatOf(userID uuid.UUID) *Seat {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	for _, s := range r.Seats {
		if s.UserID == userID {
			copied := *s
			return &copied
		}
	}
	return nil
}

// TakeSeat assigns a seat deterministically: the first unseated arrival takes
// white, the second black. A player who already held a seat re-occupies it.
// The returned bool reports whether the join activated the room.
func (r *Room) TakeSeat(userID uuid.UUID, username string, rating int, sessionID uuid.UUID) (*Seat, bool, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status == StatusFinished || r.Status == StatusAborted {
		return nil, false, ErrTerminal
	}

	var seat *Seat
	for _, s := range r.Seats {
		if s.UserID == userID {
			seat = s
			break
		}
	}
	if seat == nil {
		switch {
		case r.seatByColor(White) == nil:
			seat = &Seat{Color: White}
			r.Seats = append(r.Seats, seat)
		case r.seatByColor(Black) == nil:
			seat = &Seat{Color: Black}
			r.Seats = append(r.Seats, seat)
		default:
			return nil, false, ErrNoOpenSeat
		}
		seat.UserID = userID
		seat.Username = username
		seat.Rating = rating
	}
	seat.SessionID = sessionID
	seat.Connected = true

	activated := false
	if r.Status == StatusWaiting && r.seatByColor(White) != nil && r.seatByColor(Black) != nil {
		r.Status = StatusActive
		r.Turn = White
		r.StartedAt = time.Now()
		r.openJournalLocked()
		activated = true
	}

	copied := *seat
	return &copied, activated, nil
}

// Reconnect re-occupies the seat of the given color for a returning player.
// It succeeds only while the seat is not held by a live connection and the
// room has not ended.
func (r *Room) Reconnect(userID uuid.UUID, username string, rating int, sessionID uuid.UUID, color Color) (*Seat, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status == StatusFinished || r.Status == StatusAborted {
		return nil, ErrTerminal
	}

	seat := r.seatByColor(color)
	if seat == nil {
		seat = &Seat{Color: color}
		if len(r.Seats) >= 2 {
			return nil, ErrSeatOccupied
		}
		r.Seats = append(r.Seats, seat)
	} else if seat.Connected && seat.UserID != userID {
		return nil, ErrSeatOccupied
	}

	seat.UserID = userID
	seat.Username = username
	seat.Rating = rating
	seat.SessionID = sessionID
	seat.Connected = true
	copied := *seat
	return &copied, nil
}

// AddSpectator registers a spectating connection.
func (r *Room) AddSpectator(sessionID, userID uuid.UUID) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.Spectators[sessionID] = userID
}

// Release removes the session from its seat or spectator slot without
// touching room status; lifecycle consequences of a loss belong to
// HandleDisconnect.
func (r *Room) Release(sessionID uuid.UUID) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.releaseLocked(sessionID)
}

func (r *Room) releaseLocked(sessionID uuid.UUID) {
	if seat := r.seatBySession(sessionID); seat != nil {
		for i, s := range r.Seats {
			if s == seat {
				r.Seats = append(r.Seats[:i], r.Seats[i+1:]...)
				break
			}
		}
		return
	}
	delete(r.Spectators, sessionID)
}

// DisconnectEvent describes what a connection loss did to the room.
type DisconnectEvent struct {
	UserID    uuid.UUID
	SeatColor Color    // "" for spectators
	Outcome   *Outcome // non-nil when the loss finished the game
}

// HandleDisconnect reconciles the room after a connection loss. An active
// game ends with the remaining seat as winner; a waiting room just frees the
// seat; terminal rooms only mark the seat disconnected. Spectator losses are
// plain removals. Serialized against in-flight mutations by the room lock.
func (r *Room) HandleDisconnect(sessionID uuid.UUID) *DisconnectEvent {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	seat := r.seatBySession(sessionID)
	if seat == nil {
		userID, ok := r.Spectators[sessionID]
		if !ok {
			return nil
		}
		delete(r.Spectators, sessionID)
		return &DisconnectEvent{UserID: userID}
	}

	ev := &DisconnectEvent{UserID: seat.UserID, SeatColor: seat.Color}
	switch r.Status {
	case StatusActive:
		seat.Connected = false
		winner := seat.Color.Opponent()
		ev.Outcome = r.finishLocked(winResult(winner), ReasonDisconnection, winner)
	case StatusWaiting:
		r.releaseLocked(sessionID)
	default:
		seat.Connected = false
	}
	return ev
}

// ApplyMove validates the move against the authoritative position via the
// rules oracle and, on acceptance, appends it to the move log, flips the
// turn, clears any pending draw offer, and applies oracle-detected terminal
// conditions. A rejected move leaves the room untouched.
func (r *Room) ApplyMove(color Color, req rules.MoveRequest) (*AppliedMove, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status == StatusFinished || r.Status == StatusAborted {
		return nil, ErrTerminal
	}
	if r.Status != StatusActive {
		return nil, ErrNotActive
	}
	if color != r.Turn {
		return nil, ErrNotYourTurn
	}

	ap, err := r.oracle.Apply(r.FEN, req)
	if err != nil {
		return nil, err
	}

	rec := models.MoveRecord{
		Number:    len(r.Moves) + 1,
		Color:     string(color),
		UCI:       ap.UCI,
		SAN:       ap.SAN,
		FEN:       ap.FEN,
		Timestamp: time.Now(),
	}
	r.Moves = append(r.Moves, rec)
	r.FEN = ap.FEN
	r.Turn = color.Opponent()
	r.PendingDrawFrom = "" // moving declines an open offer
	r.lastCheck = ap.Check
	r.lastCheckmate = ap.Checkmate

	if r.Journal != nil {
		var actor uuid.UUID
		if s := r.seatByColor(color); s != nil {
			actor = s.UserID
		}
		r.Journal.MoveApplied(r.ID, actor, rec)
	}

	applied := &AppliedMove{
		Record:    rec,
		Check:     ap.Check,
		Checkmate: ap.Checkmate,
		NextTurn:  r.Turn,
	}
	if ap.Terminal {
		var winner Color
		switch ap.Result {
		case rules.ResultWhiteWin:
			winner = White
		case rules.ResultBlackWin:
			winner = Black
		}
		applied.Outcome = r.finishLocked(ap.Result, ap.Reason, winner)
	}
	return applied, nil
}

// Resign ends the game in the opponent's favor.
func (r *Room) Resign(color Color) (*Outcome, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	switch r.Status {
	case StatusFinished, StatusAborted:
		return nil, ErrTerminal
	case StatusWaiting:
		return nil, ErrNotActive
	}
	winner := color.Opponent()
	return r.finishLocked(winResult(winner), ReasonResignation, winner), nil
}

// OfferDraw records a pending offer from color.
func (r *Room) OfferDraw(color Color) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status != StatusActive {
		return ErrNotActive
	}
	if r.PendingDrawFrom != "" {
		return ErrOfferPending
	}
	r.PendingDrawFrom = color
	return nil
}

// AcceptDraw ends the game as a draw by agreement.
func (r *Room) AcceptDraw(color Color) (*Outcome, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status != StatusActive {
		return nil, ErrNotActive
	}
	if r.PendingDrawFrom == "" {
		return nil, ErrNoPendingOffer
	}
	if r.PendingDrawFrom == color {
		return nil, ErrOwnOffer
	}
	r.PendingDrawFrom = ""
	return r.finishLocked(rules.ResultDraw, ReasonAgreement, ""), nil
}

// DeclineDraw clears the pending offer and returns the offerer's color.
func (r *Room) DeclineDraw(color Color) (Color, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.PendingDrawFrom == "" {
		return "", ErrNoPendingOffer
	}
	if r.PendingDrawFrom == color {
		return "", ErrOwnOffer
	}
	from := r.PendingDrawFrom
	r.PendingDrawFrom = ""
	return from, nil
}

// Abort closes a room that never reached a deciding result.
func (r *Room) Abort(reason string) (*Outcome, error) {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status == StatusFinished || r.Status == StatusAborted {
		return nil, ErrTerminal
	}
	return r.finishLocked(ResultAborted, reason, ""), nil
}

// finishLocked performs the terminal transition and, for rooms that ever
// opened a record, journals the close behind any in-flight move events.
// Assumes the lock is held and the room is not already terminal.
func (r *Room) finishLocked(result, reason string, winner Color) *Outcome {
	if result == ResultAborted {
		r.Status = StatusAborted
	} else {
		r.Status = StatusFinished
	}
	r.EndedAt = time.Now()
	r.PendingDrawFrom = ""
	out := &Outcome{
		Result:   result,
		Reason:   reason,
		Winner:   winner,
		FinalFEN: r.FEN,
		Recorded: !r.StartedAt.IsZero(),
	}
	if out.Recorded && r.Journal != nil {
		whiteDelta, blackDelta := r.ratingDeltasLocked(result)
		r.Journal.RoomClosed(r.ID, models.RecordClose{
			Result:     result,
			Reason:     reason,
			FinalFEN:   r.FEN,
			WhiteDelta: whiteDelta,
			BlackDelta: blackDelta,
			EndTime:    r.EndedAt,
		})
	}
	return out
}

// openJournalLocked emits the open event for a room that just went active.
// Assumes exclusive access to the room.
func (r *Room) openJournalLocked() {
	if r.Journal == nil {
		return
	}
	rec := models.GameRecord{
		ID:          r.ID,
		TimeControl: r.Opts.TimeControl,
		StartFEN:    rules.StartFEN,
		StartTime:   r.StartedAt,
	}
	if s := r.seatByColor(White); s != nil {
		rec.WhiteID = s.UserID
	}
	if s := r.seatByColor(Black); s != nil {
		rec.BlackID = s.UserID
	}
	r.Journal.RoomOpened(rec)
}

// ratingDeltasLocked computes the Elo adjustment for a decided or drawn game
// between two seated players; aborted games and short-handed rooms rate as
// zero. Assumes the lock is held.
func (r *Room) ratingDeltasLocked(result string) (int, int) {
	if result == ResultAborted {
		return 0, 0
	}
	white, black := r.seatByColor(White), r.seatByColor(Black)
	if white == nil || black == nil {
		return 0, 0
	}
	var score float64
	switch result {
	case rules.ResultWhiteWin:
		score = rating.WhiteWins
	case rules.ResultBlackWin:
		score = rating.BlackWins
	default:
		score = rating.Drawn
	}
	return rating.Deltas(white.Rating, black.Rating, score)
}

// Snapshot returns a copy of the broadcastable room state.
func (r *Room) Snapshot() Snapshot {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	seats := make([]Seat, 0, len(r.Seats))
	for _, s := range r.Seats {
		seats = append(seats, *s)
	}
	return Snapshot{
		RoomID:        r.ID,
		Status:        r.Status,
		Turn:          r.Turn,
		MoveCount:     len(r.Moves),
		FEN:           r.FEN,
		Check:         r.lastCheck,
		Checkmate:     r.lastCheckmate,
		DrawOfferFrom: r.PendingDrawFrom,
		Seats:         seats,
		Spectators:    len(r.Spectators),
	}
}

// History returns a copy of the move log.
func (r *Room) History() []models.MoveRecord {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	out := make([]models.MoveRecord, len(r.Moves))
	copy(out, r.Moves)
	return out
}

// PolicyView copies the fields the policy engine may read, for the given
// actor, in one critical section.
func (r *Room) PolicyView(userID uuid.UUID) policy.RoomView {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	actorColor := ""
	for _, s := range r.Seats {
		if s.UserID == userID {
			actorColor = string(s.Color)
			break
		}
	}
	return policy.RoomView{
		Status:          string(r.Status),
		Turn:            string(r.Turn),
		ActorColor:      actorColor,
		MoveCount:       len(r.Moves),
		DrawOfferFrom:   string(r.PendingDrawFrom),
		OpenSeat:        len(r.Seats) < 2,
		BothSeated:      r.seatByColor(White) != nil && r.seatByColor(Black) != nil,
		AllowSpectators: r.Opts.AllowSpectators,
		RatingMin:       r.Opts.RatingMin,
		RatingMax:       r.Opts.RatingMax,
	}
}

// SessionIDs returns every connection currently in the room, seats first.
func (r *Room) SessionIDs() []uuid.UUID {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.Seats)+len(r.Spectators))
	for _, s := range r.Seats {
		if s.Connected && s.SessionID != uuid.Nil {
			ids = append(ids, s.SessionID)
		}
	}
	for sessID := range r.Spectators {
		ids = append(ids, sessID)
	}
	return ids
}

// Abandoned reports whether the room is still waiting, holds no live
// connections, and has sat unused since creation for longer than maxAge.
// Such rooms were created over HTTP and never joined; a periodic sweep
// retires them.
func (r *Room) Abandoned(maxAge time.Duration) bool {
	r.Mu.Lock()
	defer r.Mu.Unlock()

	if r.Status != StatusWaiting {
		return false
	}
	for _, s := range r.Seats {
		if s.Connected {
			return false
		}
	}
	if len(r.Spectators) > 0 {
		return false
	}
	return time.Since(r.CreatedAt) > maxAge
}

func winResult(winner Color) string {
	if winner == White {
		return rules.ResultWhiteWin
	}
	return rules.ResultBlackWin
}
