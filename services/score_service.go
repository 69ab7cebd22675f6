package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/google/uuid"
)

// MaxUndoDepth is how many undos may follow each other without an increment in between.
const MaxUndoDepth = 3

const (
	WarningHillHill   = "hill_hill"
	WarningMatchPoint = "match_point"
)

type IncrementInput struct {
	MatchID     int         `json:"match_id"`
	Player      models.Slot `json:"player"`
	Device      string      `json:"device"`
	Actor       string      `json:"actor"`
	ExpectedRev int64       `json:"expected_rev"`
	Confirmed   bool        `json:"confirmed"`
}

type ScoreResult struct {
	Match    *models.Match `json:"match"`
	Score    models.Score  `json:"score"`
	Rev      int64         `json:"rev"`
	Warnings []string      `json:"warnings"`
	// RequiresConfirmation is set when the point would create hill-hill. Nothing was written.
	RequiresConfirmation bool `json:"requires_confirmation"`
	Completed            bool `json:"completed"`
}

type UndoInput struct {
	MatchID     int    `json:"match_id"`
	Device      string `json:"device"`
	Actor       string `json:"actor"`
	ExpectedRev int64  `json:"expected_rev"`
}

type UndoResult struct {
	Match   *models.Match `json:"match"`
	Score   models.Score  `json:"score"`
	Rev     int64         `json:"rev"`
	CanUndo bool          `json:"can_undo"`
}

type ScoreHistory struct {
	MatchID int `json:"match_id"`
	// Entries are newest first.
	Entries []*models.ScoreUpdate `json:"entries"`
	CanUndo bool                  `json:"can_undo"`
}

type ScoreService interface {
	Increment(ctx context.Context, in IncrementInput) (*ScoreResult, error)
	Undo(ctx context.Context, in UndoInput) (*UndoResult, error)
	History(ctx context.Context, matchID int) (*ScoreHistory, error)
}

type scoreService struct {
	matches   repositories.MatchRepository
	updates   repositories.ScoreUpdateRepository
	completer Completer
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewScoreService(
	matches repositories.MatchRepository,
	updates repositories.ScoreUpdateRepository,
	completer Completer,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) ScoreService {
	return &scoreService{
		matches:   matches,
		updates:   updates,
		completer: completer,
		notifier:  notifierOrNoop(notifier),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// loadForScoring checks the revision before the state so a stale client always
// learns that it is stale first.
func (s *scoreService) loadForScoring(ctx context.Context, matchID int, expectedRev int64, op string) (*models.Match, error) {
	match, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if match.Rev != expectedRev {
		s.metrics.Conflict(op)
		return nil, fmt.Errorf("%w: expected rev %d, current rev %d", ErrRevisionConflict, expectedRev, match.Rev)
	}
	switch match.State {
	case models.MatchStateActive:
		return match, nil
	case models.MatchStateCompleted:
		return nil, ErrMatchCompleted
	}
	return nil, fmt.Errorf("%w: state is %s", ErrMatchNotActive, match.State)
}

func (s *scoreService) Increment(ctx context.Context, in IncrementInput) (*ScoreResult, error) {
	if in.Player != models.SlotA && in.Player != models.SlotB {
		return nil, fmt.Errorf("%w: player must be %d or %d, got %d", ErrValidationFailed, models.SlotA, models.SlotB, in.Player)
	}
	action := incrementAction(in.Player)

	match, err := s.loadForScoring(ctx, in.MatchID, in.ExpectedRev, "increment")
	if err != nil {
		return nil, err
	}

	next := match.Score
	if action == models.ScoreActionIncrementA {
		next.A++
	} else {
		next.B++
	}

	hillHill := next.A == match.RaceTo-1 && next.B == match.RaceTo-1
	if hillHill && !match.Score.HillHillConfirmed {
		if !in.Confirmed {
			return &ScoreResult{
				Match:                match,
				Score:                match.Score,
				Rev:                  match.Rev,
				Warnings:             []string{WarningHillHill},
				RequiresConfirmation: true,
			}, nil
		}
		next.HillHillConfirmed = true
	}

	tableID := match.TableID
	completed := next.A >= match.RaceTo || next.B >= match.RaceTo
	match.Score = next
	match.UndoStack.Push(in.Player)
	if completed {
		finished := s.now().UTC()
		winner := match.PlayerInSlot(in.Player)
		match.State = models.MatchStateCompleted
		match.WinnerID = models.IntPtr(*winner)
		match.CompletedAt = &finished
		match.TableID = nil
	}

	if err = s.matches.CompareAndSwap(ctx, match, in.ExpectedRev); err != nil {
		err = mapRepositoryError(err)
		if isConflict(err) {
			s.metrics.Conflict("increment")
		}
		return nil, err
	}
	s.metrics.ScoreUpdate(string(action))

	s.appendAudit(ctx, &models.ScoreUpdate{
		MatchID: match.ID,
		Action:  action,
		Device:  in.Device,
		Actor:   in.Actor,
		Score:   match.Score,
		Rev:     match.Rev,
	})

	result := &ScoreResult{
		Match:     match,
		Score:     match.Score,
		Rev:       match.Rev,
		Warnings:  scoreWarnings(match),
		Completed: completed,
	}
	// The completion pipeline below adds warnings to result; subscribers get the state as written.
	published := *result
	published.Match = match.Clone()
	published.Warnings = append([]string(nil), result.Warnings...)
	_ = s.notifier.Notify(ctx, events.New(events.ScoreUpdated, match.TournamentID, published).WithMatch(match.ID))

	if completed {
		s.metrics.MatchCompleted()
		s.logger.Info("Match completed",
			slog.Int("match_id", match.ID),
			slog.Int("winner_id", *match.WinnerID),
			slog.Int("score_a", match.Score.A),
			slog.Int("score_b", match.Score.B),
		)
		if s.completer != nil {
			result.Warnings = append(result.Warnings, s.completer.Complete(ctx, match.Clone(), tableID)...)
		}
	}
	return result, nil
}

func scoreWarnings(m *models.Match) []string {
	warnings := []string{}
	if m.State == models.MatchStateCompleted {
		return warnings
	}
	target := m.RaceTo - 1
	switch {
	case m.Score.A == target && m.Score.B == target:
		warnings = append(warnings, WarningHillHill)
	case m.Score.A == target || m.Score.B == target:
		warnings = append(warnings, WarningMatchPoint)
	}
	return warnings
}

func (s *scoreService) Undo(ctx context.Context, in UndoInput) (*UndoResult, error) {
	match, err := s.loadForScoring(ctx, in.MatchID, in.ExpectedRev, "undo")
	if err != nil {
		return nil, err
	}
	if match.UndoStack.Undos >= MaxUndoDepth {
		return nil, ErrUndoLimitReached
	}

	before := match.Score
	slot, ok := match.UndoStack.Pop()
	if !ok {
		return nil, ErrNothingToUndo
	}
	if slot == models.SlotA {
		match.Score.A--
	} else {
		match.Score.B--
	}
	if match.Score.A < 0 || match.Score.B < 0 {
		return nil, fmt.Errorf("%w: undo stack of match %d does not match its score", ErrInternal, match.ID)
	}

	if err = s.matches.CompareAndSwap(ctx, match, in.ExpectedRev); err != nil {
		err = mapRepositoryError(err)
		if isConflict(err) {
			s.metrics.Conflict("undo")
		}
		return nil, err
	}
	s.metrics.ScoreUpdate(string(models.ScoreActionUndo))

	s.recordUndo(ctx, match, in, incrementAction(slot), before)

	result := &UndoResult{
		Match:   match,
		Score:   match.Score,
		Rev:     match.Rev,
		CanUndo: canUndo(match),
	}
	published := *result
	published.Match = match.Clone()
	_ = s.notifier.Notify(ctx, events.New(events.ScoreUpdated, match.TournamentID, published).WithMatch(match.ID))
	return result, nil
}

// recordUndo writes the audit entry of an undo and marks the increment it reversed.
// The increment is found by the score it produced; when its own entry was never
// stored the undo is recorded without a link.
func (s *scoreService) recordUndo(ctx context.Context, match *models.Match, in UndoInput, undone models.ScoreAction, before models.Score) {
	var target *models.ScoreUpdate
	entries, err := s.updates.ListByMatch(ctx, match.ID)
	if err != nil {
		s.auditFailed(match.ID, "list", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Action == undone && !e.Undone && e.Score.A == before.A && e.Score.B == before.B {
			target = e
			break
		}
	}

	u := &models.ScoreUpdate{
		MatchID: match.ID,
		Action:  models.ScoreActionUndo,
		Device:  in.Device,
		Actor:   in.Actor,
		Score:   match.Score,
		Rev:     match.Rev,
	}
	if target != nil {
		u.UndoesID = target.ID
	}
	s.appendAudit(ctx, u)
	if target == nil {
		return
	}
	if err = s.updates.MarkUndone(ctx, target.ID); err != nil {
		s.auditFailed(match.ID, "mark_undone", err)
	}
}

func (s *scoreService) History(ctx context.Context, matchID int) (*ScoreHistory, error) {
	match, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	entries, err := s.updates.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	newestFirst := make([]*models.ScoreUpdate, len(entries))
	for i, e := range entries {
		newestFirst[len(entries)-1-i] = e
	}
	return &ScoreHistory{
		MatchID: matchID,
		Entries: newestFirst,
		CanUndo: match.State == models.MatchStateActive && canUndo(match),
	}, nil
}

func canUndo(m *models.Match) bool {
	return len(m.UndoStack.Points) > 0 && m.UndoStack.Undos < MaxUndoDepth
}

func incrementAction(slot models.Slot) models.ScoreAction {
	if slot == models.SlotA {
		return models.ScoreActionIncrementA
	}
	return models.ScoreActionIncrementB
}

// appendAudit never fails the caller.
func (s *scoreService) appendAudit(ctx context.Context, u *models.ScoreUpdate) {
	u.ID = uuid.NewString()
	u.CreatedAt = s.now().UTC()
	if err := s.updates.Append(ctx, u); err != nil {
		s.auditFailed(u.MatchID, string(u.Action), err)
	}
}

func (s *scoreService) auditFailed(matchID int, action string, err error) {
	s.metrics.AuditFailure()
	s.logger.Warn("Score audit write failed",
		slog.Int("match_id", matchID),
		slog.String("action", action),
		slog.Any("error", err),
	)
}
