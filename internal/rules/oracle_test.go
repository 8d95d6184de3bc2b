package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOpeningMove(t *testing.T) {
	var o Oracle

	ap, err := o.Apply(StartFEN, MoveRequest{From: "e2", To: "e4"})
	require.NoError(t, err)

	assert.Equal(t, "e2e4", ap.UCI)
	assert.Equal(t, "e4", ap.SAN)
	assert.Equal(t, "black", ap.Turn)
	assert.False(t, ap.Check)
	assert.False(t, ap.Terminal)
	assert.NotEqual(t, StartFEN, ap.FEN)
}

func TestApplyRejectsIllegalMove(t *testing.T) {
	var o Oracle

	// A rook cannot jump over its own pawn from the initial position.
	_, err := o.Apply(StartFEN, MoveRequest{From: "a1", To: "a5"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalMove)

	// Out-of-turn moves are also just illegal at the rules level.
	_, err = o.Apply(StartFEN, MoveRequest{From: "e7", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestApplyRejectsMalformedRequest(t *testing.T) {
	var o Oracle

	_, err := o.Apply(StartFEN, MoveRequest{From: "e2"})
	assert.ErrorIs(t, err, ErrIllegalMove)

	_, err = o.Apply(StartFEN, MoveRequest{From: "zz", To: "e4"})
	assert.Error(t, err)
}

func TestFoolsMateEndsInCheckmate(t *testing.T) {
	var o Oracle

	fen := StartFEN
	moves := []MoveRequest{
		{From: "f2", To: "f3"},
		{From: "e7", To: "e5"},
		{From: "g2", To: "g4"},
	}
	for _, mv := range moves {
		ap, err := o.Apply(fen, mv)
		require.NoError(t, err)
		require.False(t, ap.Terminal)
		fen = ap.FEN
	}

	ap, err := o.Apply(fen, MoveRequest{From: "d8", To: "h4"})
	require.NoError(t, err)

	assert.Equal(t, "Qh4#", ap.SAN)
	assert.True(t, ap.Checkmate)
	assert.True(t, ap.Terminal)
	assert.Equal(t, ResultBlackWin, ap.Result)
	assert.Equal(t, ReasonCheckmate, ap.Reason)
}

func TestValidTargetsFromStart(t *testing.T) {
	var o Oracle

	targets, err := o.ValidTargets(StartFEN, "e2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e3", "e4"}, targets)

	// A square with no piece simply has no targets.
	targets, err = o.ValidTargets(StartFEN, "e4")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestReplayMatchesIncrementalApply(t *testing.T) {
	var o Oracle

	uci := []string{"e2e4", "e7e5", "g1f3", "b8c6"}

	fen := StartFEN
	for _, u := range uci {
		ap, err := o.Apply(fen, MoveRequest{From: u[:2], To: u[2:4]})
		require.NoError(t, err)
		fen = ap.FEN
	}

	replayed, err := o.Replay(uci)
	require.NoError(t, err)
	assert.Equal(t, fen, replayed)
}

func TestReplayRejectsBadSequence(t *testing.T) {
	var o Oracle

	_, err := o.Replay([]string{"e2e4", "e2e4"})
	assert.Error(t, err)
}
