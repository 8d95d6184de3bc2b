package persist

import (
	"context"

	"github.com/google/uuid"

	"kingside/internal/database"
	"kingside/internal/models"
)

// PGStore adapts the database package to the RecordStore interface.
type PGStore struct{}

func (PGStore) CreateRecord(ctx context.Context, rec *models.GameRecord) error {
	return database.InsertGameRecord(ctx, rec)
}

func (PGStore) AppendMove(ctx context.Context, gameID uuid.UUID, mv models.MoveRecord) error {
	return database.AppendGameMove(ctx, gameID, mv)
}

func (PGStore) CloseRecord(ctx context.Context, gameID uuid.UUID, cl models.RecordClose) error {
	return database.CloseGameRecord(ctx, gameID, cl)
}
