package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrPlayerNotFound        = errors.New("player not found")
	ErrPlayerVersionConflict = errors.New("player version conflict")
)

type PlayerRepository interface {
	Create(ctx context.Context, player *models.Player) error
	GetByID(ctx context.Context, id int) (*models.Player, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Player, error)
	// CompareAndSwap writes chip state, finalist flag, rating and withdrawal.
	CompareAndSwap(ctx context.Context, player *models.Player, expectedVersion int64) error
}

const playerColumns = `id, tournament_id, name, chip_count, matches_played, chip_history, is_finalist, rating, withdrawn, version, created_at`

type postgresPlayerRepository struct {
	db *sql.DB
}

func NewPostgresPlayerRepository(db *sql.DB) PlayerRepository {
	return &postgresPlayerRepository{db: db}
}

func scanPlayer(row rowScanner) (*models.Player, error) {
	p := &models.Player{}
	var history []byte
	err := row.Scan(&p.ID, &p.TournamentID, &p.Name, &p.ChipCount, &p.MatchesPlayed, &history,
		&p.IsFinalist, &p.Rating, &p.Withdrawn, &p.Version, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err = json.Unmarshal(history, &p.ChipHistory); err != nil {
			return nil, fmt.Errorf("failed to decode chip history of player %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func encodeChipHistory(history []models.ChipEntry) ([]byte, error) {
	if history == nil {
		history = []models.ChipEntry{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chip history: %w", err)
	}
	return b, nil
}

func (r *postgresPlayerRepository) Create(ctx context.Context, p *models.Player) error {
	history, err := encodeChipHistory(p.ChipHistory)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO players (tournament_id, name, chip_count, matches_played, chip_history, is_finalist, rating, withdrawn, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		p.TournamentID, p.Name, p.ChipCount, p.MatchesPlayed, history, p.IsFinalist, p.Rating, p.Withdrawn,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	p.Version = 0
	return nil
}

func (r *postgresPlayerRepository) GetByID(ctx context.Context, id int) (*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`
	p, err := scanPlayer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to scan player by id %d: %w", id, err)
	}
	return p, nil
}

func (r *postgresPlayerRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE tournament_id = $1 ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query players for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	players := make([]*models.Player, 0)
	for rows.Next() {
		p, scanErr := scanPlayer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan player row: %w", scanErr)
		}
		players = append(players, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during player rows iteration: %w", err)
	}
	return players, nil
}

func (r *postgresPlayerRepository) CompareAndSwap(ctx context.Context, p *models.Player, expectedVersion int64) error {
	history, err := encodeChipHistory(p.ChipHistory)
	if err != nil {
		return err
	}
	query := `
		UPDATE players
		SET chip_count = $1, matches_played = $2, chip_history = $3, is_finalist = $4,
		    rating = $5, withdrawn = $6, version = version + 1
		WHERE id = $7 AND version = $8
		RETURNING version`

	var newVersion int64
	err = r.db.QueryRowContext(ctx, query,
		p.ChipCount, p.MatchesPlayed, history, p.IsFinalist, p.Rating, p.Withdrawn, p.ID, expectedVersion,
	).Scan(&newVersion)
	if err == nil {
		p.Version = newVersion
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to update player %d: %w", p.ID, err)
	}
	exists, existsErr := rowExists(ctx, r.db, `SELECT EXISTS(SELECT 1 FROM players WHERE id = $1)`, p.ID)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return ErrPlayerNotFound
	}
	return ErrPlayerVersionConflict
}
