package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"kingside/internal/models"
)

// InsertGameRecord opens the durable record for a room that became active.
func InsertGameRecord(ctx context.Context, rec *models.GameRecord) error {
	q := `
		INSERT INTO game_records (id, white_id, black_id, time_control, start_fen, status, start_time)
		VALUES ($1, $2, $3, $4, $5, 'in_progress', $6)
		ON CONFLICT (id) DO NOTHING
	`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, rec.ID, rec.WhiteID, rec.BlackID, rec.TimeControl, rec.StartFEN, rec.StartTime)
		return e
	})
	if err != nil {
		return fmt.Errorf("insert game record: %w", err)
	}
	return nil
}

// AppendGameMove appends one move to the durable move log. The (game_id,
// number) primary key makes replays idempotent.
func AppendGameMove(ctx context.Context, gameID uuid.UUID, mv models.MoveRecord) error {
	q := `
		INSERT INTO game_moves (game_id, number, color, uci, san, fen, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (game_id, number) DO NOTHING
	`
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, e := tx.Exec(ctx, q, gameID, mv.Number, mv.Color, mv.UCI, mv.SAN, mv.FEN, mv.Timestamp)
		return e
	})
	if err != nil {
		return fmt.Errorf("append game move: %w", err)
	}
	return nil
}

// CloseGameRecord finalizes the record and applies rating deltas to both
// players in the same transaction.
func CloseGameRecord(ctx context.Context, gameID uuid.UUID, cl models.RecordClose) error {
	err := pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		q := `
			UPDATE game_records
			SET status='completed', result=$1, reason=$2, final_fen=$3,
			    white_delta=$4, black_delta=$5, end_time=$6
			WHERE id=$7
		`
		if _, e := tx.Exec(ctx, q, cl.Result, cl.Reason, cl.FinalFEN, cl.WhiteDelta, cl.BlackDelta, cl.EndTime, gameID); e != nil {
			return e
		}
		if cl.WhiteDelta == 0 && cl.BlackDelta == 0 {
			return nil
		}
		upd := `
			UPDATE users SET rating = GREATEST(rating + d.delta, 100)
			FROM (
				SELECT white_id AS id, $1::int AS delta FROM game_records WHERE game_records.id=$3
				UNION ALL
				SELECT black_id, $2::int FROM game_records WHERE game_records.id=$3
			) d
			WHERE users.id = d.id
		`
		_, e := tx.Exec(ctx, upd, cl.WhiteDelta, cl.BlackDelta, gameID)
		return e
	})
	if err != nil {
		return fmt.Errorf("close game record: %w", err)
	}
	return nil
}

// LoadGameMoves returns the persisted move log, ordered.
func LoadGameMoves(ctx context.Context, gameID uuid.UUID) ([]models.MoveRecord, error) {
	q := `
		SELECT number, color, uci, san, fen, played_at
		FROM game_moves WHERE game_id=$1 ORDER BY number
	`
	rows, err := DB.Query(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MoveRecord
	for rows.Next() {
		var mv models.MoveRecord
		if err := rows.Scan(&mv.Number, &mv.Color, &mv.UCI, &mv.SAN, &mv.FEN, &mv.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}
