package policy

// Room status and action names shared with the room package. Kept as plain
// strings here so the engine has no dependency on room internals.
const (
	statusWaiting = "waiting"
	statusActive  = "active"
)

// Game-scoped actions.
const (
	ActionMakeMove     = "make_move"
	ActionResignGame   = "resign_game"
	ActionNewGame      = "new_game"
	ActionOfferDraw    = "offer_draw"
	ActionAcceptDraw   = "accept_draw"
	ActionDeclineDraw  = "decline_draw"
	ActionJoinGame     = "join_game"
	ActionSpectateGame = "spectate_game"
	ActionViewGame     = "view_game"
)

// MinMovesForDrawOffer is the move count before a draw may be offered.
const MinMovesForDrawOffer = 2

func gameRules() map[string]rule {
	return map[string]rule{
		ActionMakeMove: {
			requires: []Field{FieldActor, FieldRoom, FieldMove},
			allow: func(c *Context) bool {
				return c.Room.Status == statusActive &&
					c.Room.ActorColor != "" &&
					c.Room.ActorColor == c.Room.Turn
			},
		},
		ActionResignGame: {
			requires: []Field{FieldActor, FieldRoom},
			allow: func(c *Context) bool {
				return c.Room.ActorColor != "" && c.Room.Status != statusWaiting
			},
		},
		ActionNewGame: {
			requires: []Field{FieldActor, FieldRoom},
			allow: func(c *Context) bool {
				return c.Room.ActorColor != "" && c.Room.BothSeated
			},
		},
		ActionOfferDraw: {
			requires: []Field{FieldActor, FieldRoom},
			allow: func(c *Context) bool {
				return c.Room.Status == statusActive &&
					c.Room.ActorColor != "" &&
					c.Room.MoveCount >= MinMovesForDrawOffer &&
					c.Room.DrawOfferFrom == ""
			},
		},
		ActionAcceptDraw: {
			requires: []Field{FieldActor, FieldRoom},
			allow:    canAnswerDraw,
		},
		ActionDeclineDraw: {
			requires: []Field{FieldActor, FieldRoom},
			allow:    canAnswerDraw,
		},
		ActionJoinGame: {
			requires: []Field{FieldActor, FieldRoom},
			allow: func(c *Context) bool {
				if c.Room.Status != statusWaiting || !c.Room.OpenSeat {
					return false
				}
				if c.Room.RatingMin > 0 && c.Actor.Rating < c.Room.RatingMin {
					return false
				}
				if c.Room.RatingMax > 0 && c.Actor.Rating > c.Room.RatingMax {
					return false
				}
				return true
			},
		},
		ActionSpectateGame: {
			requires: []Field{FieldActor, FieldRoom},
			allow: func(c *Context) bool {
				return c.Room.AllowSpectators && c.Room.ActorColor == ""
			},
		},
		ActionViewGame: {
			requires: []Field{FieldActor, FieldRoom},
			allow: func(c *Context) bool {
				return c.Room.AllowSpectators || c.Room.ActorColor != ""
			},
		},
	}
}

func canAnswerDraw(c *Context) bool {
	return c.Room.ActorColor != "" &&
		c.Room.DrawOfferFrom != "" &&
		c.Room.DrawOfferFrom != c.Room.ActorColor
}
