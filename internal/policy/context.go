package policy

import "kingside/internal/models"

// Field names a piece of context a rule depends on. Required fields are
// validated before the predicate runs; a context missing one denies instead
// of erroring.
type Field string

const (
	FieldActor  Field = "actor"
	FieldRoom   Field = "room"
	FieldTarget Field = "target"
	FieldMove   Field = "move"
)

// RoomView is the slice of room state an authorization decision may read.
// The coordinator copies it out under the room lock so the engine stays pure
// and never touches live room state.
type RoomView struct {
	Status     string
	Turn       string
	ActorColor string // seat held by the actor, "" if unseated
	MoveCount  int

	DrawOfferFrom string // "" when no offer is pending

	OpenSeat        bool
	BothSeated      bool
	AllowSpectators bool

	// Optional rating bounds for joining; zero means unbounded.
	RatingMin int
	RatingMax int
}

// Context is the ephemeral value object built per authorization check.
// It is never persisted.
type Context struct {
	Actor  *models.User
	Room   *RoomView
	Target *models.User
	Extra  map[string]interface{}
}

func (c *Context) has(f Field) bool {
	if c == nil {
		return false
	}
	switch f {
	case FieldActor:
		return c.Actor != nil
	case FieldRoom:
		return c.Room != nil
	case FieldTarget:
		return c.Target != nil
	case FieldMove:
		if c.Extra == nil {
			return false
		}
		from, _ := c.Extra["from"].(string)
		to, _ := c.Extra["to"].(string)
		return from != "" && to != ""
	default:
		return false
	}
}
