package models

import (
	"time"

	"github.com/google/uuid"
)

// MoveRecord is one applied move as it appears in the durable move log and in
// the moveHistory payload sent to clients.
type MoveRecord struct {
	Number    int       `json:"number"`
	Color     string    `json:"color"`
	UCI       string    `json:"uci"`
	SAN       string    `json:"san"`
	FEN       string    `json:"fen"`
	Timestamp time.Time `json:"ts"`
}

// GameRecord mirrors one room's lifetime in the durable store. It is opened
// when the room becomes active and closed when the room reaches a terminal
// state; until then the in-memory room is the source of truth.
type GameRecord struct {
	ID          uuid.UUID  `json:"id"`
	WhiteID     uuid.UUID  `json:"white_id"`
	BlackID     uuid.UUID  `json:"black_id"`
	TimeControl string     `json:"time_control,omitempty"`
	StartFEN    string     `json:"start_fen"`
	FinalFEN    string     `json:"final_fen,omitempty"`
	Result      string     `json:"result,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	WhiteDelta  int        `json:"white_delta"`
	BlackDelta  int        `json:"black_delta"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

// RecordClose carries everything needed to close a GameRecord.
type RecordClose struct {
	Result     string
	Reason     string
	FinalFEN   string
	WhiteDelta int
	BlackDelta int
	EndTime    time.Time
}
