package services

import (
	"context"
	"testing"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, matches []*models.Match, bracket models.Bracket, round, position int) *models.Match {
	t.Helper()
	for _, m := range matches {
		if m.Bracket == bracket && m.Round == round && m.Position == position {
			return m
		}
	}
	t.Fatalf("no match at %q round %d position %d", bracket, round, position)
	return nil
}

func TestGenerateBracketEightPlayers(t *testing.T) {
	e := newEngine(t)
	tr := e.tournament(t, models.FormatSingleElim, 2)
	g := e.generate(t, tr, 101, 102, 103, 104, 105, 106, 107, 108)

	require.Len(t, g.Matches, 7)
	for _, m := range g.Matches {
		if m.Round == 1 {
			assert.Equal(t, models.MatchStateReady, m.State)
			assert.Empty(t, m.Dependencies)
			assert.NotNil(t, m.WinnerTo)
		} else {
			assert.Equal(t, models.MatchStatePending, m.State)
			assert.Len(t, m.Dependencies, 2)
		}
	}
	first := at(t, g.Matches, models.BracketNone, 1, 0)
	assert.Equal(t, 101, *first.PlayerA)
	assert.Equal(t, 108, *first.PlayerB)
	assert.Equal(t, 1, e.events.count(events.BracketGenerated))

	_, err := e.brackets.GenerateBracket(context.Background(), tr.ID, tr.Bracket, []int{1, 2})
	assert.ErrorIs(t, err, ErrBracketExists)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCompletingFirstRoundReadiesSecondRound(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatSingleElim, 2)
	e.generate(t, tr, 101, 102, 103, 104, 105, 106, 107, 108)
	e.addTables(t, tr.ID, "T1", "T2", "T3", "T4")

	batch, err := e.queue.AssignAvailable(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, batch.Assigned, 4)

	all := e.matchesIn(t, tr.ID)
	r1p0 := at(t, all, models.BracketNone, 1, 0)
	r1p1 := at(t, all, models.BracketNone, 1, 1)

	e.startAndWin(t, r1p0.ID, models.SlotA)
	semi := at(t, e.matchesIn(t, tr.ID), models.BracketNone, 2, 0)
	assert.Equal(t, models.MatchStatePending, semi.State)
	require.NotNil(t, semi.PlayerA)
	assert.Equal(t, 101, *semi.PlayerA)
	assert.Nil(t, semi.PlayerB)

	e.startAndWin(t, r1p1.ID, models.SlotA)
	all = e.matchesIn(t, tr.ID)
	semi = at(t, all, models.BracketNone, 2, 0)
	assert.Equal(t, 104, *semi.PlayerB)
	// The table freed by the second result takes the semi-final straight away.
	assert.Equal(t, models.MatchStateAssigned, semi.State)
	assert.Equal(t, models.MatchStatePending, at(t, all, models.BracketNone, 2, 1).State)
	assert.Equal(t, 1, e.events.count(events.MatchReady))
}

func TestSingleEliminationPlaysToChampion(t *testing.T) {
	e := newEngine(t)
	tr := e.tournament(t, models.FormatSingleElim, 2)
	e.generate(t, tr, 101, 102, 103, 104, 105, 106, 107, 108)
	e.addTables(t, tr.ID, "T1", "T2")

	e.playOut(t, tr.ID)

	all := e.matchesIn(t, tr.ID)
	for _, m := range all {
		assert.Equal(t, models.MatchStateCompleted, m.State, "match %d", m.ID)
		assert.Nil(t, m.TableID)
	}
	final := at(t, all, models.BracketNone, 3, 0)
	assert.Equal(t, 101, *final.WinnerID)
	assert.Equal(t, 102, *final.PlayerB)

	tables, err := e.tables.ListTables(context.Background(), tr.ID)
	require.NoError(t, err)
	for _, tb := range tables {
		assert.Equal(t, models.TableStatusAvailable, tb.Status)
		assert.Nil(t, tb.CurrentMatchID)
	}
}

func TestByesAdvanceTopSeeds(t *testing.T) {
	e := newEngine(t)
	tr := e.tournament(t, models.FormatSingleElim, 3)
	g := e.generate(t, tr, 1, 2, 3, 4, 5, 6)

	require.Len(t, g.Matches, 7)
	bye := at(t, g.Matches, models.BracketNone, 1, 0)
	assert.True(t, bye.Walkover)
	assert.Equal(t, models.MatchStateCompleted, bye.State)
	assert.NotNil(t, bye.CompletedAt)
	assert.Equal(t, 1, *bye.WinnerID)

	semi := at(t, g.Matches, models.BracketNone, 2, 0)
	assert.Equal(t, models.MatchStatePending, semi.State)
	assert.Equal(t, 1, *semi.PlayerA)
	assert.Equal(t, 2, *at(t, g.Matches, models.BracketNone, 2, 1).PlayerA)

	ready := e.matchesIn(t, tr.ID, models.MatchStateReady)
	require.Len(t, ready, 2)
	assert.Equal(t, 4, *ready[0].PlayerA)
	assert.Equal(t, 5, *ready[0].PlayerB)
}

func TestDoubleEliminationPlaysThroughLosersBracket(t *testing.T) {
	e := newEngine(t)
	tr := e.tournament(t, models.FormatDoubleElim, 1)
	g := e.generate(t, tr, 1, 2, 3, 4)
	require.Len(t, g.Matches, 6)
	e.addTables(t, tr.ID, "T1", "T2")

	e.playOut(t, tr.ID)

	all := e.matchesIn(t, tr.ID)
	for _, m := range all {
		assert.Equal(t, models.MatchStateCompleted, m.State, "match %d", m.ID)
	}
	l1 := at(t, all, models.BracketLosers, 1, 0)
	assert.Equal(t, []int{4, 3}, l1.Players())
	l2 := at(t, all, models.BracketLosers, 2, 0)
	assert.Equal(t, []int{4, 2}, l2.Players())
	grandFinal := at(t, all, models.BracketNone, 3, 0)
	assert.Equal(t, []int{1, 4}, grandFinal.Players())
	assert.Equal(t, 1, *grandFinal.WinnerID)
}

func TestRoundRobinMatchesAreReadyAtOnce(t *testing.T) {
	e := newEngine(t)
	tr := e.tournament(t, models.FormatRoundRobin, 2)
	g := e.generate(t, tr, 1, 2, 3, 4)

	require.Len(t, g.Matches, 6)
	for _, m := range g.Matches {
		assert.Equal(t, models.MatchStateReady, m.State)
	}

	stored, err := e.brackets.GetTournament(context.Background(), tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Bracket.Legs)
}

func TestGenerateBracketValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)

	_, err := e.brackets.GenerateBracket(ctx, tr.ID, tr.Bracket, []int{1, 2})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = e.brackets.GenerateBracket(ctx, tr.ID, models.BracketConfig{Format: models.FormatDoubleElim, RaceTo: 3}, []int{1, 2, 3, 4, 5, 6})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = e.brackets.GenerateBracket(ctx, tr.ID, models.BracketConfig{Format: models.FormatSingleElim, RaceTo: 0}, []int{1, 2})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = e.brackets.GenerateBracket(ctx, 999, models.BracketConfig{Format: models.FormatSingleElim, RaceTo: 3}, []int{1, 2})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateChipMatch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	a := e.player(t, tr.ID, "Shane", 0)
	b := e.player(t, tr.ID, "Fedor", 0)
	c := e.player(t, tr.ID, "Jayson", 0)

	first, err := e.brackets.CreateChipMatch(ctx, tr.ID, a.ID, b.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateReady, first.State)
	assert.Equal(t, 3, first.RaceTo)
	assert.Equal(t, 0, first.Position)

	second, err := e.brackets.CreateChipMatch(ctx, tr.ID, a.ID, c.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 5, second.RaceTo)

	_, err = e.brackets.CreateChipMatch(ctx, tr.ID, a.ID, a.ID, 0)
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = e.brackets.CreateChipMatch(ctx, tr.ID, a.ID, 999, 0)
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	_, err = e.chips.WithdrawPlayer(ctx, c.ID)
	require.NoError(t, err)
	_, err = e.brackets.CreateChipMatch(ctx, tr.ID, b.ID, c.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	elim := e.tournament(t, models.FormatSingleElim, 3)
	_, err = e.brackets.CreateChipMatch(ctx, elim.ID, a.ID, b.ID, 0)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestOnMatchCompletedRejectsOpenMatch(t *testing.T) {
	e := newEngine(t)
	m := e.activeMatch(t, 3)
	_, err := e.brackets.OnMatchCompleted(context.Background(), m)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
