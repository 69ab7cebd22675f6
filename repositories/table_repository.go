package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrTableNotFound        = errors.New("table not found")
	ErrTableLabelConflict   = errors.New("table label already used in this tournament")
	ErrTableVersionConflict = errors.New("table version conflict")
	ErrTableInUse           = errors.New("table is in use")
)

type TableRepository interface {
	Create(ctx context.Context, table *models.Table) error
	GetByID(ctx context.Context, id int) (*models.Table, error)
	// ListByTournament returns tables ordered by label.
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Table, error)
	CompareAndSwap(ctx context.Context, table *models.Table, expectedVersion int64) error
	// Delete removes a table unless it is in use. Nothing cascades.
	Delete(ctx context.Context, id int) error
}

const tableColumns = `id, tournament_id, label, status, blocked_until, current_match_id, version, created_at`

type postgresTableRepository struct {
	db *sql.DB
}

func NewPostgresTableRepository(db *sql.DB) TableRepository {
	return &postgresTableRepository{db: db}
}

func scanTable(row rowScanner) (*models.Table, error) {
	t := &models.Table{}
	err := row.Scan(&t.ID, &t.TournamentID, &t.Label, &t.Status, &t.BlockedUntil, &t.CurrentMatchID, &t.Version, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *postgresTableRepository) Create(ctx context.Context, t *models.Table) error {
	query := `
		INSERT INTO tables (tournament_id, label, status, blocked_until, version)
		VALUES ($1, $2, $3, $4, 0)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, t.TournamentID, t.Label, t.Status, t.BlockedUntil).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if constraint, ok := constraintViolation(err); ok && constraint == "tables_tournament_label_key" {
			return ErrTableLabelConflict
		}
		return fmt.Errorf("failed to insert table: %w", err)
	}
	t.Version = 0
	return nil
}

func (r *postgresTableRepository) GetByID(ctx context.Context, id int) (*models.Table, error) {
	return getTable(ctx, r.db, id, false)
}

func getTable(ctx context.Context, exec SQLExecutor, id int, forUpdate bool) (*models.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM tables WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTable(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to scan table by id %d: %w", id, err)
	}
	return t, nil
}

func (r *postgresTableRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM tables WHERE tournament_id = $1 ORDER BY label ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	tables := make([]*models.Table, 0)
	for rows.Next() {
		t, scanErr := scanTable(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", scanErr)
		}
		tables = append(tables, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during table rows iteration: %w", err)
	}
	return tables, nil
}

func (r *postgresTableRepository) CompareAndSwap(ctx context.Context, t *models.Table, expectedVersion int64) error {
	return compareAndSwapTable(ctx, r.db, t, expectedVersion)
}

func compareAndSwapTable(ctx context.Context, exec SQLExecutor, t *models.Table, expectedVersion int64) error {
	query := `
		UPDATE tables
		SET status = $1, blocked_until = $2, current_match_id = $3, version = version + 1
		WHERE id = $4 AND version = $5
		RETURNING version`

	var newVersion int64
	err := exec.QueryRowContext(ctx, query, t.Status, t.BlockedUntil, t.CurrentMatchID, t.ID, expectedVersion).Scan(&newVersion)
	if err == nil {
		t.Version = newVersion
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to update table %d: %w", t.ID, err)
	}
	exists, existsErr := rowExists(ctx, exec, `SELECT EXISTS(SELECT 1 FROM tables WHERE id = $1)`, t.ID)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return ErrTableNotFound
	}
	return ErrTableVersionConflict
}

func (r *postgresTableRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tables WHERE id = $1 AND status <> 'in_use'`, id)
	if err != nil {
		return fmt.Errorf("failed to delete table %d: %w", id, err)
	}
	if err = checkAffectedRows(result, ErrTableInUse); !errors.Is(err, ErrTableInUse) {
		return err
	}
	exists, existsErr := rowExists(ctx, r.db, `SELECT EXISTS(SELECT 1 FROM tables WHERE id = $1)`, id)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return ErrTableNotFound
	}
	return ErrTableInUse
}
