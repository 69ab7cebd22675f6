package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"golang.org/x/sync/errgroup"
)

const (
	queueBasePriority = 1000
	queueRoundWeight  = 10
	queueReadyBonus   = 500
)

type QueueEntry struct {
	Match    *models.Match `json:"match"`
	Priority int           `json:"priority"`
	CanStart bool          `json:"can_start"`
}

type Assignment struct {
	Match *models.Match `json:"match"`
	Table *models.Table `json:"table"`
}

// AssignmentRefusal is a pairing the store rejected. It is reported as is: the
// caller decides whether to recompute and try again.
type AssignmentRefusal struct {
	MatchID int    `json:"match_id"`
	TableID int    `json:"table_id"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

type AssignmentBatch struct {
	Assigned []Assignment        `json:"assigned"`
	Refused  []AssignmentRefusal `json:"refused"`
}

type ReleaseResult struct {
	Table *models.Table `json:"table"`
	// Reverted is the assigned match sent back to ready, if there was one.
	Reverted     *models.Match `json:"reverted,omitempty"`
	AutoAssigned *Assignment   `json:"auto_assigned,omitempty"`
}

type QueueService interface {
	RefreshQueue(ctx context.Context, tournamentID int) ([]QueueEntry, error)
	AssignNext(ctx context.Context, queue []QueueEntry, tables []*models.Table) (*AssignmentBatch, error)
	AssignAvailable(ctx context.Context, tournamentID int) (*AssignmentBatch, error)
	StartMatch(ctx context.Context, matchID int, expectedRev int64) (*models.Match, error)
	ReleaseTable(ctx context.Context, tableID int) (*ReleaseResult, error)
}

type queueService struct {
	matches     repositories.MatchRepository
	tables      repositories.TableRepository
	assignments repositories.AssignmentRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewQueueService(
	matches repositories.MatchRepository,
	tables repositories.TableRepository,
	assignments repositories.AssignmentRepository,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) QueueService {
	return &queueService{
		matches:     matches,
		tables:      tables,
		assignments: assignments,
		notifier:    notifierOrNoop(notifier),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// ComputeQueue ranks eligible matches. Earlier rounds come first; a match whose
// players are all free gets a large bonus. Ties break on position, bracket, then ID.
func ComputeQueue(eligible []*models.Match, busyPlayers map[int]bool) []QueueEntry {
	queue := make([]QueueEntry, 0, len(eligible))
	for _, m := range eligible {
		canStart := true
		for _, p := range m.Players() {
			if busyPlayers[p] {
				canStart = false
				break
			}
		}
		priority := queueBasePriority - m.Round*queueRoundWeight
		if canStart {
			priority += queueReadyBonus
		}
		queue = append(queue, QueueEntry{Match: m, Priority: priority, CanStart: canStart})
	}

	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Match.Position != b.Match.Position {
			return a.Match.Position < b.Match.Position
		}
		if a.Match.Bracket != b.Match.Bracket {
			return a.Match.Bracket < b.Match.Bracket
		}
		return a.Match.ID < b.Match.ID
	})
	return queue
}

func (s *queueService) RefreshQueue(ctx context.Context, tournamentID int) ([]QueueEntry, error) {
	var ready, busy []*models.Match

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ready, err = s.matches.ListByTournament(gctx, tournamentID, repositories.MatchFilter{
			States: []models.MatchState{models.MatchStateReady},
		})
		return err
	})
	g.Go(func() error {
		var err error
		busy, err = s.matches.ListByTournament(gctx, tournamentID, repositories.MatchFilter{
			States: []models.MatchState{models.MatchStateAssigned, models.MatchStateActive},
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, mapRepositoryError(err)
	}

	busyPlayers := make(map[int]bool)
	for _, m := range busy {
		for _, p := range m.Players() {
			busyPlayers[p] = true
		}
	}
	eligible := ready[:0]
	for _, m := range ready {
		if m.HasBothPlayers() {
			eligible = append(eligible, m)
		}
	}

	queue := ComputeQueue(eligible, busyPlayers)
	s.metrics.QueueLength(len(queue))
	return queue, nil
}

// AssignNext pairs the queue with the tables greedily. Each pairing is one
// attempt: a refused pairing consumes both sides for this batch.
func (s *queueService) AssignNext(ctx context.Context, queue []QueueEntry, tables []*models.Table) (*AssignmentBatch, error) {
	now := s.now()
	free := make([]*models.Table, 0, len(tables))
	for _, t := range tables {
		if t.IsAssignable(now) {
			free = append(free, t)
		}
	}
	sort.SliceStable(free, func(i, j int) bool {
		if free[i].Label != free[j].Label {
			return free[i].Label < free[j].Label
		}
		return free[i].ID < free[j].ID
	})

	batch := &AssignmentBatch{Assigned: []Assignment{}, Refused: []AssignmentRefusal{}}
	claimed := make(map[int]bool)
	next := 0
	for _, entry := range queue {
		if next == len(free) {
			break
		}
		if !entry.CanStart || sharesClaimedPlayer(entry.Match, claimed) {
			continue
		}
		table := free[next]
		next++

		a, err := s.assign(ctx, entry.Match, table, now)
		if err != nil {
			if !isAssignmentRefusal(err) {
				return batch, err
			}
			batch.Refused = append(batch.Refused, AssignmentRefusal{
				MatchID: entry.Match.ID,
				TableID: table.ID,
				Reason:  err.Error(),
				Err:     err,
			})
			continue
		}
		for _, p := range entry.Match.Players() {
			claimed[p] = true
		}
		batch.Assigned = append(batch.Assigned, *a)
	}
	return batch, nil
}

func sharesClaimedPlayer(m *models.Match, claimed map[int]bool) bool {
	for _, p := range m.Players() {
		if claimed[p] {
			return true
		}
	}
	return false
}

// isAssignmentRefusal separates rejected claims from store failures.
func isAssignmentRefusal(err error) bool {
	return !errors.Is(err, ErrInternal)
}

func (s *queueService) assign(ctx context.Context, m *models.Match, table *models.Table, now time.Time) (*Assignment, error) {
	match, claimedTable, err := s.assignments.Assign(ctx, repositories.AssignParams{
		MatchID:     m.ID,
		ExpectedRev: m.Rev,
		TableID:     table.ID,
		Now:         now,
	})
	if err != nil {
		s.metrics.Assignment(false)
		if errors.Is(err, repositories.ErrTableNotAssignable) && table.Status == models.TableStatusMaintenance {
			return nil, ErrTableNotAvailable
		}
		err = mapRepositoryError(err)
		if isConflict(err) {
			s.metrics.Conflict("assign")
		}
		s.logger.Info("Assignment refused",
			slog.Int("match_id", m.ID),
			slog.Int("table_id", table.ID),
			slog.Any("error", err),
		)
		return nil, err
	}

	s.metrics.Assignment(true)
	s.logger.Info("Match assigned",
		slog.Int("match_id", match.ID),
		slog.Int("table_id", claimedTable.ID),
		slog.String("label", claimedTable.Label),
	)
	a := &Assignment{Match: match, Table: claimedTable}
	_ = s.notifier.Notify(ctx, events.New(events.MatchAssigned, match.TournamentID, a).WithMatch(match.ID))
	return a, nil
}

func (s *queueService) AssignAvailable(ctx context.Context, tournamentID int) (*AssignmentBatch, error) {
	queue, err := s.RefreshQueue(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		return &AssignmentBatch{Assigned: []Assignment{}, Refused: []AssignmentRefusal{}}, nil
	}
	tables, err := s.tables.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return s.AssignNext(ctx, queue, tables)
}

func (s *queueService) StartMatch(ctx context.Context, matchID int, expectedRev int64) (*models.Match, error) {
	match, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if match.Rev != expectedRev {
		s.metrics.Conflict("start")
		return nil, ErrRevisionConflict
	}
	if match.State != models.MatchStateAssigned {
		return nil, fmt.Errorf("%w: state is %s", ErrMatchNotAssigned, match.State)
	}

	started := s.now().UTC()
	match.State = models.MatchStateActive
	match.StartedAt = &started
	if err = s.matches.CompareAndSwap(ctx, match, expectedRev); err != nil {
		err = mapRepositoryError(err)
		if isConflict(err) {
			s.metrics.Conflict("start")
		}
		return nil, err
	}

	s.logger.Info("Match started", slog.Int("match_id", match.ID), slog.Int64("rev", match.Rev))
	_ = s.notifier.Notify(ctx, events.New(events.MatchStarted, match.TournamentID, match).WithMatch(match.ID))
	return match, nil
}

// ReleaseTable frees the table, then makes one attempt to put the best
// startable match on it. A failed attempt is logged and does not fail the release.
func (s *queueService) ReleaseTable(ctx context.Context, tableID int) (*ReleaseResult, error) {
	table, reverted, err := s.assignments.Release(ctx, tableID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	s.logger.Info("Table released", slog.Int("table_id", table.ID), slog.String("label", table.Label))
	result := &ReleaseResult{Table: table, Reverted: reverted}
	_ = s.notifier.Notify(ctx, events.New(events.TableReleased, table.TournamentID, ReleaseResult{
		Table:    table.Clone(),
		Reverted: reverted.Clone(),
	}))

	queue, err := s.RefreshQueue(ctx, table.TournamentID)
	if err != nil {
		s.logger.Warn("Auto-assign skipped, queue unavailable", slog.Int("table_id", table.ID), slog.Any("error", err))
		return result, nil
	}
	for _, entry := range queue {
		// A match sent back by this release is not put straight back on the table.
		if !entry.CanStart || (reverted != nil && entry.Match.ID == reverted.ID) {
			continue
		}
		a, assignErr := s.assign(ctx, entry.Match, table, s.now())
		if assignErr != nil {
			s.logger.Warn("Auto-assign failed",
				slog.Int("table_id", table.ID),
				slog.Int("match_id", entry.Match.ID),
				slog.Any("error", assignErr),
			)
			return result, nil
		}
		result.Table = a.Table
		result.AutoAssigned = a
		return result, nil
	}
	return result, nil
}
