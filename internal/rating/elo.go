// Package rating computes post-game rating deltas. Plain Elo with a fixed
// K-factor: the deltas are stored on the closed game record so a player can
// always see why their rating moved.
package rating

import "math"

const (
	// KFactor controls rating volatility.
	KFactor = 32
	// Floor is the minimum rating a loss can leave a player with.
	Floor = 100
)

// Score values for the white player.
const (
	WhiteWins = 1.0
	BlackWins = 0.0
	Drawn     = 0.5
)

// Expected is the standard Elo expected score for a player rated `own`
// against an opponent rated `opp`.
func Expected(own, opp int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opp-own)/400.0))
}

// Deltas returns the (whiteDelta, blackDelta) pair for a finished game.
// whiteScore is 1 for a white win, 0 for a black win, 0.5 for a draw.
// Aborted games carry no deltas; callers skip this entirely.
func Deltas(whiteRating, blackRating int, whiteScore float64) (int, int) {
	expWhite := Expected(whiteRating, blackRating)
	whiteDelta := int(math.Round(KFactor * (whiteScore - expWhite)))
	blackDelta := int(math.Round(KFactor * ((1 - whiteScore) - (1 - expWhite))))

	// Never push a rating below the floor.
	if whiteRating+whiteDelta < Floor {
		whiteDelta = Floor - whiteRating
	}
	if blackRating+blackDelta < Floor {
		blackDelta = Floor - blackRating
	}
	return whiteDelta, blackDelta
}
