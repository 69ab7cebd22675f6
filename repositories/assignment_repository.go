package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrTableNotAssignable = errors.New("table is not available for assignment")
	ErrTableNotInUse      = errors.New("table is not in use")
	ErrMatchNotReady      = errors.New("match is not ready")
	ErrMatchInProgress    = errors.New("match on this table is in progress")
	ErrPlayerBusy         = errors.New("player already has an assigned or active match")
)

// AssignParams describes one table claim. Now decides whether a block window is still open.
type AssignParams struct {
	MatchID     int
	ExpectedRev int64
	TableID     int
	Now         time.Time
}

// AssignmentRepository applies the writes that touch a match and a table together.
// Each call is all-or-nothing.
type AssignmentRepository interface {
	// Assign claims the table for the match: table available and unblocked, match
	// ready at ExpectedRev, neither player holding another assigned or active match.
	Assign(ctx context.Context, p AssignParams) (*models.Match, *models.Table, error)
	// Release frees an in-use table. An assigned (not yet started) match on it goes
	// back to ready; a started match keeps the table and the call fails.
	// The returned match is nil when no match row was changed.
	Release(ctx context.Context, tableID int) (*models.Table, *models.Match, error)
}

type postgresAssignmentRepository struct {
	db *sql.DB
}

func NewPostgresAssignmentRepository(db *sql.DB) AssignmentRepository {
	return &postgresAssignmentRepository{db: db}
}

func (r *postgresAssignmentRepository) Assign(ctx context.Context, p AssignParams) (match *models.Match, table *models.Table, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	table, err = getTable(ctx, tx, p.TableID, true)
	if err != nil {
		return nil, nil, err
	}
	if !table.IsAssignable(p.Now) {
		err = ErrTableNotAssignable
		return nil, nil, err
	}

	match, err = scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, p.MatchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrMatchNotFound
			return nil, nil, err
		}
		err = fmt.Errorf("failed to lock match %d: %w", p.MatchID, err)
		return nil, nil, err
	}
	if match.Rev != p.ExpectedRev {
		err = ErrMatchRevisionConflict
		return nil, nil, err
	}
	if match.State != models.MatchStateReady || !match.HasBothPlayers() {
		err = ErrMatchNotReady
		return nil, nil, err
	}

	// Advisory locks serialize claims that share a player across different tables.
	players := match.Players()
	sort.Ints(players)
	for _, playerID := range players {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(playerID)); err != nil {
			err = fmt.Errorf("failed to lock player %d: %w", playerID, err)
			return nil, nil, err
		}
	}
	var busy bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM matches
			WHERE tournament_id = $1 AND id <> $2 AND state IN ('assigned', 'active')
			  AND (player_a = ANY($3) OR player_b = ANY($3)))`,
		match.TournamentID, match.ID, intsToInt64(players),
	).Scan(&busy)
	if err != nil {
		err = fmt.Errorf("failed to check player availability: %w", err)
		return nil, nil, err
	}
	if busy {
		err = ErrPlayerBusy
		return nil, nil, err
	}

	match.State = models.MatchStateAssigned
	match.TableID = models.IntPtr(table.ID)
	if err = compareAndSwapMatch(ctx, tx, match, p.ExpectedRev); err != nil {
		return nil, nil, err
	}
	expectedVersion := table.Version
	table.Status = models.TableStatusInUse
	table.CurrentMatchID = models.IntPtr(match.ID)
	if err = compareAndSwapTable(ctx, tx, table, expectedVersion); err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("failed to commit assignment: %w", err)
		return nil, nil, err
	}
	return match, table, nil
}

func (r *postgresAssignmentRepository) Release(ctx context.Context, tableID int) (table *models.Table, match *models.Match, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	table, err = getTable(ctx, tx, tableID, true)
	if err != nil {
		return nil, nil, err
	}
	if table.Status != models.TableStatusInUse || table.CurrentMatchID == nil {
		err = ErrTableNotInUse
		return nil, nil, err
	}

	current, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, *table.CurrentMatchID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("failed to lock match %d: %w", *table.CurrentMatchID, err)
		return nil, nil, err
	}
	err = nil
	if current != nil && current.TableID != nil && *current.TableID == table.ID {
		switch current.State {
		case models.MatchStateActive:
			err = ErrMatchInProgress
			return nil, nil, err
		case models.MatchStateAssigned:
			current.State = models.MatchStateReady
			current.TableID = nil
			if err = compareAndSwapMatch(ctx, tx, current, current.Rev); err != nil {
				return nil, nil, err
			}
			match = current
		}
	}

	expectedVersion := table.Version
	table.Status = models.TableStatusAvailable
	table.CurrentMatchID = nil
	if err = compareAndSwapTable(ctx, tx, table, expectedVersion); err != nil {
		return nil, nil, err
	}
	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("failed to commit table release: %w", err)
		return nil, nil, err
	}
	return table, match, nil
}
