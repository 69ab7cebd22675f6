package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound         = errors.New("match not found")
	ErrMatchRevisionConflict = errors.New("match revision conflict")
	ErrMatchPositionConflict = errors.New("match position already taken in this bracket round")
	ErrMatchLinksImmutable   = errors.New("match links already set")
)

// MatchFilter narrows ListByTournament. Zero value lists everything.
type MatchFilter struct {
	States []models.MatchState
	Round  *int
}

func (f MatchFilter) matches(m *models.Match) bool {
	if f.Round != nil && m.Round != *f.Round {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if m.State == s {
			return true
		}
	}
	return false
}

type MatchRepository interface {
	// CreateBatch inserts all matches atomically and assigns their IDs.
	CreateBatch(ctx context.Context, matches []*models.Match) error
	// SetLinks stores generation-time edges; a second call for the same match fails.
	SetLinks(ctx context.Context, links map[int]models.MatchLinks) error
	GetByID(ctx context.Context, id int) (*models.Match, error)
	ListByIDs(ctx context.Context, ids []int) ([]*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int, filter MatchFilter) ([]*models.Match, error)
	// CompareAndSwap writes the mutable fields of match if the stored rev equals
	// expectedRev. On success match.Rev is expectedRev+1.
	CompareAndSwap(ctx context.Context, match *models.Match, expectedRev int64) error
}

const matchColumns = `id, tournament_id, bracket, round, position, state, player_a, player_b, winner_id, table_id,
	score_a, score_b, hill_hill_confirmed, score_points, consecutive_undos, race_to, walkover, rev, dependencies,
	winner_to_match_id, winner_to_slot, loser_to_match_id, loser_to_slot, created_at, started_at, completed_at`

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func scanMatch(row rowScanner) (*models.Match, error) {
	m := &models.Match{}
	var (
		deps                     pq.Int64Array
		points                   pq.Int64Array
		winnerToID, winnerToSlot sql.NullInt64
		loserToID, loserToSlot   sql.NullInt64
	)
	err := row.Scan(
		&m.ID, &m.TournamentID, &m.Bracket, &m.Round, &m.Position, &m.State,
		&m.PlayerA, &m.PlayerB, &m.WinnerID, &m.TableID,
		&m.Score.A, &m.Score.B, &m.Score.HillHillConfirmed, &points, &m.UndoStack.Undos, &m.RaceTo, &m.Walkover, &m.Rev, &deps,
		&winnerToID, &winnerToSlot, &loserToID, &loserToSlot,
		&m.CreatedAt, &m.StartedAt, &m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Dependencies = int64sToInt(deps)
	m.UndoStack.Points = pointsFromArray(points)
	if winnerToID.Valid {
		m.WinnerTo = &models.Feed{MatchID: int(winnerToID.Int64), Slot: models.Slot(winnerToSlot.Int64)}
	}
	if loserToID.Valid {
		m.LoserTo = &models.Feed{MatchID: int(loserToID.Int64), Slot: models.Slot(loserToSlot.Int64)}
	}
	return m, nil
}

func scanMatches(rows *sql.Rows) ([]*models.Match, error) {
	defer rows.Close()
	matches := make([]*models.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) CreateBatch(ctx context.Context, matches []*models.Match) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	query := `
		INSERT INTO matches
			(tournament_id, bracket, round, position, state, player_a, player_b, winner_id,
			 score_a, score_b, race_to, walkover, rev, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13)
		RETURNING id, created_at`

	for _, m := range matches {
		err = tx.QueryRowContext(ctx, query,
			m.TournamentID, m.Bracket, m.Round, m.Position, m.State, m.PlayerA, m.PlayerB, m.WinnerID,
			m.Score.A, m.Score.B, m.RaceTo, m.Walkover, m.CompletedAt,
		).Scan(&m.ID, &m.CreatedAt)
		if err != nil {
			err = r.handleMatchError(err)
			return err
		}
		m.Rev = 0
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match batch: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) SetLinks(ctx context.Context, links map[int]models.MatchLinks) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollbackOnError(tx, &err)

	query := `
		UPDATE matches
		SET dependencies = $1, winner_to_match_id = $2, winner_to_slot = $3,
		    loser_to_match_id = $4, loser_to_slot = $5, linked = TRUE
		WHERE id = $6 AND linked = FALSE`

	for matchID, l := range links {
		var wID, wSlot, lID, lSlot sql.NullInt64
		if l.WinnerTo != nil {
			wID = sql.NullInt64{Int64: int64(l.WinnerTo.MatchID), Valid: true}
			wSlot = sql.NullInt64{Int64: int64(l.WinnerTo.Slot), Valid: true}
		}
		if l.LoserTo != nil {
			lID = sql.NullInt64{Int64: int64(l.LoserTo.MatchID), Valid: true}
			lSlot = sql.NullInt64{Int64: int64(l.LoserTo.Slot), Valid: true}
		}
		var result sql.Result
		result, err = tx.ExecContext(ctx, query, intsToInt64(l.Dependencies), wID, wSlot, lID, lSlot, matchID)
		if err != nil {
			err = fmt.Errorf("failed to set links for match %d: %w", matchID, err)
			return err
		}
		if err = checkAffectedRows(result, ErrMatchLinksImmutable); err != nil {
			var exists bool
			exists, err = rowExists(ctx, tx, `SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`, matchID)
			if err == nil && !exists {
				err = ErrMatchNotFound
			} else if err == nil {
				err = ErrMatchLinksImmutable
			}
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match links: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return m, nil
}

func (r *postgresMatchRepository) ListByIDs(ctx context.Context, ids []int) ([]*models.Match, error) {
	if len(ids) == 0 {
		return []*models.Match{}, nil
	}
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = ANY($1) ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, intsToInt64(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query matches by ids: %w", err)
	}
	return scanMatches(rows)
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, tournamentID int, filter MatchFilter) ([]*models.Match, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1`)

	args := []interface{}{tournamentID}
	placeholderIndex := 2

	if filter.Round != nil {
		queryBuilder.WriteString(" AND round = $")
		queryBuilder.WriteString(strconv.Itoa(placeholderIndex))
		args = append(args, *filter.Round)
		placeholderIndex++
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, s := range filter.States {
			states[i] = string(s)
		}
		queryBuilder.WriteString(" AND state = ANY($")
		queryBuilder.WriteString(strconv.Itoa(placeholderIndex))
		queryBuilder.WriteString(")")
		args = append(args, pq.Array(states))
	}
	queryBuilder.WriteString(" ORDER BY id ASC")

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %d: %w", tournamentID, err)
	}
	return scanMatches(rows)
}

func (r *postgresMatchRepository) CompareAndSwap(ctx context.Context, m *models.Match, expectedRev int64) error {
	return compareAndSwapMatch(ctx, r.db, m, expectedRev)
}

func compareAndSwapMatch(ctx context.Context, exec SQLExecutor, m *models.Match, expectedRev int64) error {
	query := `
		UPDATE matches
		SET state = $1, player_a = $2, player_b = $3, winner_id = $4, table_id = $5,
		    score_a = $6, score_b = $7, hill_hill_confirmed = $8, walkover = $9,
		    started_at = $10, completed_at = $11, score_points = $12, consecutive_undos = $13, rev = rev + 1
		WHERE id = $14 AND rev = $15
		RETURNING rev`

	var newRev int64
	err := exec.QueryRowContext(ctx, query,
		m.State, m.PlayerA, m.PlayerB, m.WinnerID, m.TableID,
		m.Score.A, m.Score.B, m.Score.HillHillConfirmed, m.Walkover,
		m.StartedAt, m.CompletedAt, pointsToArray(m.UndoStack.Points), m.UndoStack.Undos, m.ID, expectedRev,
	).Scan(&newRev)
	if err == nil {
		m.Rev = newRev
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to update match %d: %w", m.ID, err)
	}
	exists, existsErr := rowExists(ctx, exec, `SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`, m.ID)
	if existsErr != nil {
		return existsErr
	}
	if !exists {
		return ErrMatchNotFound
	}
	return ErrMatchRevisionConflict
}

func (r *postgresMatchRepository) handleMatchError(err error) error {
	if err == nil {
		return nil
	}
	if constraint, ok := constraintViolation(err); ok && constraint == "matches_position_key" {
		return ErrMatchPositionConflict
	}
	return fmt.Errorf("failed to insert match: %w", err)
}
