// Package rules wraps the chess rules library behind a small oracle surface.
// The rest of the coordinator treats positions as opaque FEN tokens and never
// reasons about chess itself: it hands the oracle a position and a candidate
// move and gets back either the updated position plus a normalized move
// record, or a rejection.
package rules

import (
	"errors"
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position token.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrIllegalMove is returned for structurally malformed or illegal moves.
// The position is unchanged when it is returned.
var ErrIllegalMove = errors.New("illegal move")

// Result tags for terminal positions.
const (
	ResultWhiteWin = "white_win"
	ResultBlackWin = "black_win"
	ResultDraw     = "draw"
)

// Reason tags for terminal positions detected by the oracle.
const (
	ReasonCheckmate            = "checkmate"
	ReasonStalemate            = "stalemate"
	ReasonThreefoldRepetition  = "threefold_repetition"
	ReasonInsufficientMaterial = "insufficient_material"
	ReasonFiftyMoveRule        = "fifty_move_rule"
)

// MoveRequest is a candidate move as received from a client.
type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// WellFormed reports whether the request has non-empty origin and destination
// squares. Legality is the oracle's business, shape is checked up front.
func (m MoveRequest) WellFormed() bool {
	return len(strings.TrimSpace(m.From)) == 2 && len(strings.TrimSpace(m.To)) == 2
}

// UCI renders the request in UCI notation, e.g. "e2e4" or "e7e8q".
func (m MoveRequest) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// Applied is the oracle's verdict on an accepted move.
type Applied struct {
	UCI string
	SAN string
	FEN string // position after the move

	Turn string // side to move after the move ("white"/"black")

	Check     bool
	Checkmate bool
	Stalemate bool

	Terminal bool
	Result   string // white_win/black_win/draw when Terminal
	Reason   string // checkmate/stalemate/threefold_repetition/... when Terminal
}

// Oracle validates and applies moves. It is stateless; every call
// reconstructs the game from the supplied position token.
type Oracle struct{}

func load(fen string) (*chess.Game, error) {
	if strings.TrimSpace(fen) == "" || fen == StartFEN {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("bad position token: %w", err)
	}
	return chess.NewGame(opt), nil
}

// Apply validates req against the position in fen and, if legal, returns the
// updated position plus a normalized move record. The input position is never
// mutated; a rejected move returns ErrIllegalMove.
func (Oracle) Apply(fen string, req MoveRequest) (*Applied, error) {
	if !req.WellFormed() {
		return nil, fmt.Errorf("%w: missing origin or destination", ErrIllegalMove)
	}
	game, err := load(fen)
	if err != nil {
		return nil, err
	}

	pos := game.Position()
	mv, err := chess.UCINotation{}.Decode(pos, req.UCI())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, req.UCI())
	}
	san := chess.AlgebraicNotation{}.Encode(pos, mv)
	if err := game.Move(mv, nil); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, req.UCI())
	}

	// Threefold repetition is claimable rather than automatic in the library;
	// the coordinator always claims it on behalf of the players.
	if game.Outcome() == chess.NoOutcome {
		for _, m := range game.EligibleDraws() {
			if m == chess.ThreefoldRepetition {
				_ = game.Draw(chess.ThreefoldRepetition)
				break
			}
		}
	}

	ap := &Applied{
		UCI:       req.UCI(),
		SAN:       san,
		FEN:       game.FEN(),
		Turn:      colorName(game.Position().Turn()),
		Check:     mv.HasTag(chess.Check),
		Checkmate: game.Method() == chess.Checkmate,
		Stalemate: game.Method() == chess.Stalemate,
	}
	if game.Outcome() != chess.NoOutcome {
		ap.Terminal = true
		ap.Result = resultName(game.Outcome())
		ap.Reason = reasonName(game.Method())
	}
	return ap, nil
}

// ValidTargets returns the destination squares reachable from the given
// square in the supplied position, UCI-style, deduplicated (promotion
// variants collapse into one target).
func (Oracle) ValidTargets(fen, square string) ([]string, error) {
	game, err := load(fen)
	if err != nil {
		return nil, err
	}
	sq := strings.ToLower(strings.TrimSpace(square))
	seen := make(map[string]bool)
	var targets []string
	for _, mv := range game.ValidMoves() {
		if mv.S1().String() != sq {
			continue
		}
		to := mv.S2().String()
		if !seen[to] {
			seen[to] = true
			targets = append(targets, to)
		}
	}
	return targets, nil
}

// Replay applies a UCI move sequence from the standard initial position and
// returns the resulting position token. Used to reconcile the durable move
// log against the authoritative position.
func (Oracle) Replay(uciMoves []string) (string, error) {
	game := chess.NewGame()
	for i, u := range uciMoves {
		if err := game.PushNotationMove(u, chess.UCINotation{}, nil); err != nil {
			return "", fmt.Errorf("replay failed at move %d (%s): %w", i+1, u, err)
		}
	}
	return game.FEN(), nil
}

func colorName(c chess.Color) string {
	if c == chess.White {
		return "white"
	}
	return "black"
}

func resultName(o chess.Outcome) string {
	switch o {
	case chess.WhiteWon:
		return ResultWhiteWin
	case chess.BlackWon:
		return ResultBlackWin
	default:
		return ResultDraw
	}
}

func reasonName(m chess.Method) string {
	switch m {
	case chess.Checkmate:
		return ReasonCheckmate
	case chess.Stalemate:
		return ReasonStalemate
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		return ReasonThreefoldRepetition
	case chess.InsufficientMaterial:
		return ReasonInsufficientMaterial
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		return ReasonFiftyMoveRule
	default:
		return ""
	}
}
