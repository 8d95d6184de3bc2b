package policy

// User-scoped actions, consulted by the HTTP routes.
const (
	ActionCreateRoom = "create_room"
	ActionListRooms  = "list_rooms"
	ActionBanUser    = "ban_user"
	ActionUnbanUser  = "unban_user"
	ActionClaimGuest = "claim_guest"
)

func userRules() map[string]rule {
	notBanned := func(c *Context) bool { return !c.Actor.Banned }

	adminOverTarget := func(c *Context) bool {
		return c.Actor.IsAdmin && !c.Target.IsAdmin
	}

	return map[string]rule{
		ActionCreateRoom: {requires: []Field{FieldActor}, allow: notBanned},
		ActionListRooms:  {requires: []Field{FieldActor}, allow: notBanned},
		ActionBanUser:    {requires: []Field{FieldActor, FieldTarget}, allow: adminOverTarget},
		ActionUnbanUser:  {requires: []Field{FieldActor, FieldTarget}, allow: adminOverTarget},
		ActionClaimGuest: {requires: []Field{FieldActor}, allow: func(c *Context) bool { return c.Actor.IsGuest }},
	}
}
