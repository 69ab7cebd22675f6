package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
)

var ErrScoreUpdateNotFound = errors.New("score update not found")

// ScoreUpdateRepository is the append-only audit log of score actions.
type ScoreUpdateRepository interface {
	Append(ctx context.Context, update *models.ScoreUpdate) error
	// ListByMatch returns entries in insertion order.
	ListByMatch(ctx context.Context, matchID int) ([]*models.ScoreUpdate, error)
	MarkUndone(ctx context.Context, id string) error
}

type postgresScoreUpdateRepository struct {
	db *sql.DB
}

func NewPostgresScoreUpdateRepository(db *sql.DB) ScoreUpdateRepository {
	return &postgresScoreUpdateRepository{db: db}
}

func (r *postgresScoreUpdateRepository) Append(ctx context.Context, u *models.ScoreUpdate) error {
	query := `
		INSERT INTO score_updates
			(id, match_id, action, device, actor, score_a, score_b, hill_hill_confirmed, rev, undone, undoes_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.MatchID, u.Action, u.Device, u.Actor, u.Score.A, u.Score.B, u.Score.HillHillConfirmed,
		u.Rev, u.Undone, nullableString(u.UndoesID), u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append score update for match %d: %w", u.MatchID, err)
	}
	return nil
}

func (r *postgresScoreUpdateRepository) ListByMatch(ctx context.Context, matchID int) ([]*models.ScoreUpdate, error) {
	query := `
		SELECT id, match_id, action, device, actor, score_a, score_b, hill_hill_confirmed, rev, undone, undoes_id, created_at
		FROM score_updates
		WHERE match_id = $1
		ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query score updates for match %d: %w", matchID, err)
	}
	defer rows.Close()

	updates := make([]*models.ScoreUpdate, 0)
	for rows.Next() {
		u := &models.ScoreUpdate{}
		var undoesID sql.NullString
		if scanErr := rows.Scan(
			&u.ID, &u.MatchID, &u.Action, &u.Device, &u.Actor,
			&u.Score.A, &u.Score.B, &u.Score.HillHillConfirmed, &u.Rev, &u.Undone, &undoesID, &u.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan score update row: %w", scanErr)
		}
		u.UndoesID = undoesID.String
		updates = append(updates, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during score update rows iteration: %w", err)
	}
	return updates, nil
}

func (r *postgresScoreUpdateRepository) MarkUndone(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE score_updates SET undone = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark score update %s undone: %w", id, err)
	}
	return checkAffectedRows(result, ErrScoreUpdateNotFound)
}
