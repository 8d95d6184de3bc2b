package coordinator

import (
	"kingside/internal/models"
	"kingside/internal/room"
)

// Outbound message types. The error signal is requester-only by contract;
// everything else is either broadcast or requester-only as noted at the
// call sites.
const (
	MsgPlayerRole         = "playerRole"
	MsgSpectatorRole      = "spectatorRole"
	MsgBoardState         = "boardState"
	MsgGameStatus         = "gameStatus"
	MsgMoveHistory        = "moveHistory"
	MsgMoveMade           = "moveMade"
	MsgInvalidMove        = "invalidMove"
	MsgValidMoves         = "validMoves"
	MsgCheck              = "check"
	MsgCheckmate          = "checkmate"
	MsgGameOver           = "gameOver"
	MsgNewGameStarted     = "newGameStarted"
	MsgDrawOffered        = "drawOffered"
	MsgDrawDeclined       = "drawDeclined"
	MsgPlayerDisconnected = "playerDisconnected"
)

func playerRoleMsg(color room.Color, roomID string) map[string]interface{} {
	return map[string]interface{}{"type": MsgPlayerRole, "color": string(color), "room_id": roomID}
}

func spectatorRoleMsg(roomID string) map[string]interface{} {
	return map[string]interface{}{"type": MsgSpectatorRole, "room_id": roomID}
}

func boardStateMsg(snap room.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"type":       MsgBoardState,
		"fen":        snap.FEN,
		"turn":       string(snap.Turn),
		"move_count": snap.MoveCount,
	}
}

func gameStatusMsg(snap room.Snapshot) map[string]interface{} {
	msg := map[string]interface{}{
		"type":         MsgGameStatus,
		"status":       string(snap.Status),
		"turn":         string(snap.Turn),
		"move_count":   snap.MoveCount,
		"is_check":     snap.Check,
		"is_checkmate": snap.Checkmate,
		"seats":        snap.Seats,
		"spectators":   snap.Spectators,
	}
	if snap.DrawOfferFrom != "" {
		msg["draw_offer_from"] = string(snap.DrawOfferFrom)
	}
	return msg
}

func moveHistoryMsg(moves []models.MoveRecord) map[string]interface{} {
	return map[string]interface{}{"type": MsgMoveHistory, "moves": moves}
}

func moveMadeMsg(ap *room.AppliedMove) map[string]interface{} {
	return map[string]interface{}{
		"type":       MsgMoveMade,
		"move":       ap.Record,
		"fen":        ap.Record.FEN,
		"turn":       string(ap.NextTurn),
		"move_count": ap.Record.Number,
		"is_check":   ap.Check,
	}
}

func invalidMoveMsg(reason string) map[string]interface{} {
	return map[string]interface{}{"type": MsgInvalidMove, "message": reason}
}

func validMovesMsg(square string, moves []string) map[string]interface{} {
	if moves == nil {
		moves = []string{}
	}
	return map[string]interface{}{"type": MsgValidMoves, "square": square, "moves": moves}
}

func gameOverMsg(out *room.Outcome) map[string]interface{} {
	msg := map[string]interface{}{
		"type":   MsgGameOver,
		"result": out.Result,
		"reason": out.Reason,
	}
	if out.Winner != "" {
		msg["winner"] = string(out.Winner)
	}
	return msg
}

func drawOfferedMsg(from room.Color) map[string]interface{} {
	return map[string]interface{}{"type": MsgDrawOffered, "from": string(from)}
}

func drawDeclinedMsg(by room.Color, offeredBy room.Color) map[string]interface{} {
	return map[string]interface{}{"type": MsgDrawDeclined, "by": string(by), "offered_by": string(offeredBy)}
}

func playerDisconnectedMsg(color room.Color, username string) map[string]interface{} {
	msg := map[string]interface{}{"type": MsgPlayerDisconnected, "username": username}
	if color != "" {
		msg["color"] = string(color)
	}
	return msg
}

func checkMsg() map[string]interface{}     { return map[string]interface{}{"type": MsgCheck} }
func checkmateMsg() map[string]interface{} { return map[string]interface{}{"type": MsgCheckmate} }

func newGameStartedMsg(roomID string) map[string]interface{} {
	return map[string]interface{}{"type": MsgNewGameStarted, "room_id": roomID}
}
