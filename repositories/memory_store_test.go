package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyMatch(tournamentID, round, position, a, b int) *models.Match {
	return &models.Match{
		TournamentID: tournamentID,
		Round:        round,
		Position:     position,
		State:        models.MatchStateReady,
		PlayerA:      models.IntPtr(a),
		PlayerB:      models.IntPtr(b),
		RaceTo:       5,
	}
}

func TestMemoryMatchCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Matches()

	m := readyMatch(1, 1, 0, 10, 11)
	require.NoError(t, repo.CreateBatch(ctx, []*models.Match{m}))
	require.Equal(t, int64(0), m.Rev)

	m.Score.A = 1
	m.UndoStack.Push(models.SlotA)
	require.NoError(t, repo.CompareAndSwap(ctx, m, 0))
	assert.Equal(t, int64(1), m.Rev)

	stale := m.Clone()
	stale.Score.B = 1
	err := repo.CompareAndSwap(ctx, stale, 0)
	assert.ErrorIs(t, err, ErrMatchRevisionConflict)

	got, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Score.A)
	assert.Equal(t, 0, got.Score.B)
	assert.Equal(t, []models.Slot{models.SlotA}, got.UndoStack.Points)
	assert.Equal(t, int64(1), got.Rev)

	got.UndoStack.Points[0] = models.SlotB
	again, err := repo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlotA, again.UndoStack.Points[0], "reads do not share the stored stack")

	missing := &models.Match{ID: 999}
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, missing, 0), ErrMatchNotFound)
}

func TestMemoryMatchLinksAreWrittenOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Matches()

	m1 := readyMatch(1, 1, 0, 1, 2)
	m2 := &models.Match{TournamentID: 1, Round: 2, Position: 0, State: models.MatchStatePending, RaceTo: 5}
	require.NoError(t, repo.CreateBatch(ctx, []*models.Match{m1, m2}))

	links := map[int]models.MatchLinks{
		m1.ID: {WinnerTo: &models.Feed{MatchID: m2.ID, Slot: models.SlotA}},
		m2.ID: {Dependencies: []int{m1.ID}},
	}
	require.NoError(t, repo.SetLinks(ctx, links))

	got, err := repo.GetByID(ctx, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{m1.ID}, got.Dependencies)

	err = repo.SetLinks(ctx, map[int]models.MatchLinks{m2.ID: {}})
	assert.ErrorIs(t, err, ErrMatchLinksImmutable)
}

func TestMemoryMatchPositionConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Matches()

	err := repo.CreateBatch(ctx, []*models.Match{readyMatch(1, 1, 0, 1, 2), readyMatch(1, 1, 0, 3, 4)})
	assert.ErrorIs(t, err, ErrMatchPositionConflict)

	list, err := repo.ListByTournament(ctx, 1, MatchFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryTableLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tables := store.Tables()

	t1 := &models.Table{TournamentID: 1, Label: "T1", Status: models.TableStatusAvailable}
	require.NoError(t, tables.Create(ctx, t1))
	assert.ErrorIs(t, tables.Create(ctx, &models.Table{TournamentID: 1, Label: "T1", Status: models.TableStatusAvailable}), ErrTableLabelConflict)
	require.NoError(t, tables.Create(ctx, &models.Table{TournamentID: 2, Label: "T1", Status: models.TableStatusAvailable}))

	t1.Status = models.TableStatusMaintenance
	require.NoError(t, tables.CompareAndSwap(ctx, t1, 0))
	assert.Equal(t, int64(1), t1.Version)
	assert.ErrorIs(t, tables.CompareAndSwap(ctx, t1, 0), ErrTableVersionConflict)

	require.NoError(t, tables.Delete(ctx, t1.ID))
	assert.ErrorIs(t, tables.Delete(ctx, t1.ID), ErrTableNotFound)
}

func TestMemoryAssignAndRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	m := readyMatch(1, 1, 0, 1, 2)
	require.NoError(t, store.Matches().CreateBatch(ctx, []*models.Match{m}))
	table := &models.Table{TournamentID: 1, Label: "A", Status: models.TableStatusAvailable}
	require.NoError(t, store.Tables().Create(ctx, table))

	assigned, claimed, err := store.Assignments().Assign(ctx, AssignParams{MatchID: m.ID, ExpectedRev: 0, TableID: table.ID, Now: now})
	require.NoError(t, err)
	assert.Equal(t, models.MatchStateAssigned, assigned.State)
	assert.Equal(t, table.ID, *assigned.TableID)
	assert.Equal(t, int64(1), assigned.Rev)
	assert.Equal(t, models.TableStatusInUse, claimed.Status)
	assert.Equal(t, m.ID, *claimed.CurrentMatchID)

	assert.ErrorIs(t, store.Tables().Delete(ctx, table.ID), ErrTableInUse)

	freed, released, err := store.Assignments().Release(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TableStatusAvailable, freed.Status)
	assert.Nil(t, freed.CurrentMatchID)
	require.NotNil(t, released)
	assert.Equal(t, models.MatchStateReady, released.State)
	assert.Nil(t, released.TableID)

	_, _, err = store.Assignments().Release(ctx, table.ID)
	assert.ErrorIs(t, err, ErrTableNotInUse)
}

func TestMemoryAssignRefusals(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("blocked table", func(t *testing.T) {
		store := NewMemoryStore()
		m := readyMatch(1, 1, 0, 1, 2)
		require.NoError(t, store.Matches().CreateBatch(ctx, []*models.Match{m}))
		until := now.Add(time.Hour)
		table := &models.Table{TournamentID: 1, Label: "A", Status: models.TableStatusAvailable, BlockedUntil: &until}
		require.NoError(t, store.Tables().Create(ctx, table))

		_, _, err := store.Assignments().Assign(ctx, AssignParams{MatchID: m.ID, TableID: table.ID, Now: now})
		assert.ErrorIs(t, err, ErrTableNotAssignable)

		_, _, err = store.Assignments().Assign(ctx, AssignParams{MatchID: m.ID, TableID: table.ID, Now: until.Add(time.Second)})
		assert.NoError(t, err)
	})

	t.Run("stale revision", func(t *testing.T) {
		store := NewMemoryStore()
		m := readyMatch(1, 1, 0, 1, 2)
		require.NoError(t, store.Matches().CreateBatch(ctx, []*models.Match{m}))
		table := &models.Table{TournamentID: 1, Label: "A", Status: models.TableStatusAvailable}
		require.NoError(t, store.Tables().Create(ctx, table))

		_, _, err := store.Assignments().Assign(ctx, AssignParams{MatchID: m.ID, ExpectedRev: 3, TableID: table.ID, Now: now})
		assert.ErrorIs(t, err, ErrMatchRevisionConflict)

		got, err := store.Tables().GetByID(ctx, table.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TableStatusAvailable, got.Status)
	})

	t.Run("busy player", func(t *testing.T) {
		store := NewMemoryStore()
		m1 := readyMatch(1, 1, 0, 1, 2)
		m2 := readyMatch(1, 1, 1, 2, 3)
		require.NoError(t, store.Matches().CreateBatch(ctx, []*models.Match{m1, m2}))
		a := &models.Table{TournamentID: 1, Label: "A", Status: models.TableStatusAvailable}
		b := &models.Table{TournamentID: 1, Label: "B", Status: models.TableStatusAvailable}
		require.NoError(t, store.Tables().Create(ctx, a))
		require.NoError(t, store.Tables().Create(ctx, b))

		_, _, err := store.Assignments().Assign(ctx, AssignParams{MatchID: m1.ID, TableID: a.ID, Now: now})
		require.NoError(t, err)
		_, _, err = store.Assignments().Assign(ctx, AssignParams{MatchID: m2.ID, TableID: b.ID, Now: now})
		assert.ErrorIs(t, err, ErrPlayerBusy)
	})
}

func TestMemoryAssignConcurrentClaimsOneTable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	const contenders = 8
	matches := make([]*models.Match, contenders)
	for i := range matches {
		matches[i] = readyMatch(1, 1, i, 100+2*i, 101+2*i)
	}
	require.NoError(t, store.Matches().CreateBatch(ctx, matches))
	table := &models.Table{TournamentID: 1, Label: "A", Status: models.TableStatusAvailable}
	require.NoError(t, store.Tables().Create(ctx, table))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for _, m := range matches {
		wg.Add(1)
		go func(matchID int) {
			defer wg.Done()
			_, _, err := store.Assignments().Assign(ctx, AssignParams{MatchID: matchID, TableID: table.ID, Now: now})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrTableNotAssignable)
		}(m.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assigned, err := store.Matches().ListByTournament(ctx, 1, MatchFilter{States: []models.MatchState{models.MatchStateAssigned}})
	require.NoError(t, err)
	assert.Len(t, assigned, 1)
}

func TestMemoryPlayerCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	players := NewMemoryStore().Players()

	p := &models.Player{TournamentID: 1, Name: "Ana"}
	require.NoError(t, players.Create(ctx, p))

	p.ChipCount = 3
	require.NoError(t, players.CompareAndSwap(ctx, p, 0))
	p.ChipCount = 6
	assert.ErrorIs(t, players.CompareAndSwap(ctx, p, 0), ErrPlayerVersionConflict)

	got, err := players.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ChipCount)
	assert.Equal(t, "Ana", got.Name)
}

func TestMemoryScoreUpdatesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	updates := NewMemoryStore().ScoreUpdates()

	for i, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, updates.Append(ctx, &models.ScoreUpdate{ID: id, MatchID: 7, Action: models.ScoreActionIncrementA, Rev: int64(i + 1)}))
	}
	require.NoError(t, updates.MarkUndone(ctx, "u2"))
	assert.ErrorIs(t, updates.MarkUndone(ctx, "nope"), ErrScoreUpdateNotFound)

	list, err := updates.ListByMatch(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "u1", list[0].ID)
	assert.True(t, list[1].Undone)
	assert.Equal(t, "u3", list[2].ID)
}
