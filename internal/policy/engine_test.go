package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kingside/internal/models"
)

func activeRoomCtx(actorColor, turn string) *Context {
	return &Context{
		Actor: &models.User{Username: "p1", Rating: 1200},
		Room: &RoomView{
			Status:          "active",
			Turn:            turn,
			ActorColor:      actorColor,
			MoveCount:       4,
			BothSeated:      true,
			AllowSpectators: true,
		},
		Extra: map[string]interface{}{"from": "e2", "to": "e4"},
	}
}

func TestUnknownTypeAndActionDeny(t *testing.T) {
	e := NewEngine()
	ctx := activeRoomCtx("white", "white")

	assert.False(t, e.Can("vehicle", ctx, ActionMakeMove))
	assert.False(t, e.Can(TypeGame, ctx, "teleport"))
	assert.False(t, e.Can(TypeGame, ctx, ""))
}

func TestMissingRequiredFieldsDeny(t *testing.T) {
	e := NewEngine()

	// No context at all.
	assert.False(t, e.Can(TypeGame, nil, ActionMakeMove))

	// Actor without a room.
	assert.False(t, e.Can(TypeGame, &Context{Actor: &models.User{}}, ActionResignGame))

	// Move action without move coordinates.
	ctx := activeRoomCtx("white", "white")
	ctx.Extra = nil
	assert.False(t, e.Can(TypeGame, ctx, ActionMakeMove))

	ctx = activeRoomCtx("white", "white")
	ctx.Extra = map[string]interface{}{"from": "e2"}
	assert.False(t, e.Can(TypeGame, ctx, ActionMakeMove))

	// Ban needs a target.
	admin := &Context{Actor: &models.User{IsAdmin: true}}
	assert.False(t, e.Can(TypeUser, admin, ActionBanUser))
}

func TestMakeMoveTurnDiscipline(t *testing.T) {
	e := NewEngine()

	assert.True(t, e.Can(TypeGame, activeRoomCtx("white", "white"), ActionMakeMove))
	assert.False(t, e.Can(TypeGame, activeRoomCtx("black", "white"), ActionMakeMove))

	// Spectators hold no seat and can never move.
	assert.False(t, e.Can(TypeGame, activeRoomCtx("", "white"), ActionMakeMove))

	// No moving in a waiting or finished room.
	ctx := activeRoomCtx("white", "white")
	ctx.Room.Status = "waiting"
	assert.False(t, e.Can(TypeGame, ctx, ActionMakeMove))
	ctx.Room.Status = "finished"
	assert.False(t, e.Can(TypeGame, ctx, ActionMakeMove))
}

func TestSpectatorCannotMutate(t *testing.T) {
	e := NewEngine()
	spec := activeRoomCtx("", "white")

	assert.False(t, e.Can(TypeGame, spec, ActionResignGame))
	assert.False(t, e.Can(TypeGame, spec, ActionOfferDraw))
	assert.False(t, e.Can(TypeGame, spec, ActionNewGame))
	assert.True(t, e.Can(TypeGame, spec, ActionViewGame))
}

func TestDrawOfferRules(t *testing.T) {
	e := NewEngine()

	ctx := activeRoomCtx("white", "black")
	assert.True(t, e.Can(TypeGame, ctx, ActionOfferDraw))

	// Too early in the game.
	ctx.Room.MoveCount = MinMovesForDrawOffer - 1
	assert.False(t, e.Can(TypeGame, ctx, ActionOfferDraw))

	// Only one offer may be pending.
	ctx.Room.MoveCount = 10
	ctx.Room.DrawOfferFrom = "black"
	assert.False(t, e.Can(TypeGame, ctx, ActionOfferDraw))

	// The opponent may answer it, the offerer may not.
	assert.True(t, e.Can(TypeGame, ctx, ActionAcceptDraw))
	assert.True(t, e.Can(TypeGame, ctx, ActionDeclineDraw))
	ctx.Room.ActorColor = "black"
	assert.False(t, e.Can(TypeGame, ctx, ActionAcceptDraw))
	assert.False(t, e.Can(TypeGame, ctx, ActionDeclineDraw))
}

func TestJoinGameRatingBounds(t *testing.T) {
	e := NewEngine()
	ctx := &Context{
		Actor: &models.User{Rating: 1200},
		Room:  &RoomView{Status: "waiting", OpenSeat: true},
	}

	assert.True(t, e.Can(TypeGame, ctx, ActionJoinGame))

	ctx.Room.RatingMin = 1300
	assert.False(t, e.Can(TypeGame, ctx, ActionJoinGame))

	ctx.Room.RatingMin = 0
	ctx.Room.RatingMax = 1100
	assert.False(t, e.Can(TypeGame, ctx, ActionJoinGame))

	ctx.Room.RatingMax = 0
	ctx.Room.OpenSeat = false
	assert.False(t, e.Can(TypeGame, ctx, ActionJoinGame))
}

func TestSpectateRequiresPermissionAndNoSeat(t *testing.T) {
	e := NewEngine()
	ctx := activeRoomCtx("", "white")

	assert.True(t, e.Can(TypeGame, ctx, ActionSpectateGame))

	ctx.Room.AllowSpectators = false
	assert.False(t, e.Can(TypeGame, ctx, ActionSpectateGame))
	assert.False(t, e.Can(TypeGame, ctx, ActionViewGame))

	seated := activeRoomCtx("white", "white")
	assert.False(t, e.Can(TypeGame, seated, ActionSpectateGame))
	seated.Room.AllowSpectators = false
	assert.True(t, e.Can(TypeGame, seated, ActionViewGame))
}

func TestUserRules(t *testing.T) {
	e := NewEngine()

	user := &Context{Actor: &models.User{}}
	assert.True(t, e.Can(TypeUser, user, ActionCreateRoom))
	assert.True(t, e.Can(TypeUser, user, ActionListRooms))

	banned := &Context{Actor: &models.User{Banned: true}}
	assert.False(t, e.Can(TypeUser, banned, ActionCreateRoom))
	assert.False(t, e.Can(TypeUser, banned, ActionListRooms))

	admin := &models.User{IsAdmin: true}
	target := &models.User{}
	assert.True(t, e.Can(TypeUser, &Context{Actor: admin, Target: target}, ActionBanUser))
	assert.False(t, e.Can(TypeUser, &Context{Actor: target, Target: admin}, ActionBanUser))
	// Admins cannot ban each other.
	assert.False(t, e.Can(TypeUser, &Context{Actor: admin, Target: admin}, ActionBanUser))

	guest := &Context{Actor: &models.User{IsGuest: true}}
	assert.True(t, e.Can(TypeUser, guest, ActionClaimGuest))
	assert.False(t, e.Can(TypeUser, user, ActionClaimGuest))
}

func TestCanAllBatch(t *testing.T) {
	e := NewEngine()
	ctx := activeRoomCtx("white", "white")

	res := e.CanAll([]Check{
		{Key: "move", PolicyType: TypeGame, Action: ActionMakeMove, Ctx: ctx},
		{Key: "resign", PolicyType: TypeGame, Action: ActionResignGame, Ctx: ctx},
		{PolicyType: TypeGame, Action: "teleport", Ctx: ctx},
	})

	assert.True(t, res["move"])
	assert.True(t, res["resign"])
	assert.False(t, res["game:teleport"])
	assert.Len(t, res, 3)
}
