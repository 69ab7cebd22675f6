package services

import (
	"context"
	"testing"
	"time"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chipConfig = models.ChipConfig{WinnerChips: 3, LoserChips: 1}

func TestAwardChips(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	winner := e.player(t, tr.ID, "Winner", 0)
	loser := e.player(t, tr.ID, "Loser", 0)
	_, err := e.chips.AdjustChips(ctx, winner.ID, 5, "carried over from qualifier")
	require.NoError(t, err)

	award, err := e.chips.AwardChips(ctx, 42, winner.ID, loser.ID, chipConfig)
	require.NoError(t, err)
	assert.Equal(t, 8, award.Winner.ChipCount)
	assert.Equal(t, 1, award.Winner.MatchesPlayed)
	assert.Equal(t, 1, award.Loser.ChipCount)
	assert.True(t, award.Winner.HasEntryFor(models.MatchRef(42)))

	_, err = e.chips.AwardChips(ctx, 42, winner.ID, loser.ID, chipConfig)
	assert.ErrorIs(t, err, ErrChipsAlreadyAwarded)
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := e.repos.Players.GetByID(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.ChipCount, "a repeated award changes nothing")
}

func TestAwardChipsFinishesPartialAward(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	winner := e.player(t, tr.ID, "Winner", 0)
	loser := e.player(t, tr.ID, "Loser", 0)

	// Simulate a crash after the winner was credited.
	stored, err := e.repos.Players.GetByID(ctx, winner.ID)
	require.NoError(t, err)
	stored.ChipCount = 3
	stored.MatchesPlayed = 1
	stored.ChipHistory = append(stored.ChipHistory, models.ChipEntry{MatchRef: models.MatchRef(7), ChipsEarned: 3, CreatedAt: time.Now()})
	require.NoError(t, e.repos.Players.CompareAndSwap(ctx, stored, stored.Version))

	award, err := e.chips.AwardChips(ctx, 7, winner.ID, loser.ID, chipConfig)
	require.NoError(t, err)
	assert.Equal(t, 3, award.Winner.ChipCount)
	assert.Equal(t, 1, award.Loser.ChipCount)
}

func TestAwardChipsValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	p := e.player(t, tr.ID, "Solo", 0)
	q := e.player(t, tr.ID, "Other", 0)

	_, err := e.chips.AwardChips(ctx, 1, p.ID, p.ID, chipConfig)
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = e.chips.AwardChips(ctx, 1, p.ID, q.ID, models.ChipConfig{WinnerChips: 1, LoserChips: 2})
	assert.ErrorIs(t, err, ErrValidationFailed)
	_, err = e.chips.AwardChips(ctx, 1, p.ID, 999, chipConfig)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestAdjustChips(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	p := e.player(t, tr.ID, "Player", 0)

	_, err := e.chips.AdjustChips(ctx, p.ID, 4, "late registration bonus")
	require.NoError(t, err)

	_, err = e.chips.AdjustChips(ctx, p.ID, -10, "penalty")
	assert.ErrorIs(t, err, ErrValidationFailed)
	unchanged, err := e.repos.Players.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, unchanged.ChipCount)
	assert.Len(t, unchanged.ChipHistory, 1)

	_, err = e.chips.AdjustChips(ctx, p.ID, -1, "   ")
	assert.ErrorIs(t, err, ErrValidationFailed)

	adjusted, err := e.chips.AdjustChips(ctx, p.ID, -4, "slow play")
	require.NoError(t, err)
	assert.Equal(t, 0, adjusted.ChipCount)
	require.Len(t, adjusted.ChipHistory, 2)
	for _, entry := range adjusted.ChipHistory {
		assert.True(t, models.IsManualRef(entry.MatchRef))
		assert.NotEmpty(t, entry.Reason)
	}
	assert.Equal(t, 0, adjusted.MatchesPlayed)
}

func TestStandingsOrder(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	a := e.player(t, tr.ID, "A", 0)
	b := e.player(t, tr.ID, "B", 0)
	c := e.player(t, tr.ID, "C", 0)
	d := e.player(t, tr.ID, "D", 0)

	_, err := e.chips.AwardChips(ctx, 1, b.ID, a.ID, chipConfig)
	require.NoError(t, err)
	_, err = e.chips.AdjustChips(ctx, c.ID, 3, "seeded")
	require.NoError(t, err)
	_, err = e.chips.AdjustChips(ctx, d.ID, 1, "seeded")
	require.NoError(t, err)

	standings, err := e.chips.GetStandings(ctx, tr.ID)
	require.NoError(t, err)
	order := make([]int, len(standings))
	for i, s := range standings {
		order[i] = s.Player.ID
		assert.Equal(t, i+1, s.Rank)
	}
	// C and B both have 3 chips; C has played fewer matches. D and A both have 1; D has played fewer.
	if diff := cmp.Diff([]int{c.ID, b.ID, d.ID, a.ID}, order); diff != "" {
		t.Errorf("standings mismatch (-want +got):\n%s", diff)
	}
}

type cutoffField struct {
	e  *engine
	tr *models.Tournament
	// A leads with 10 chips, B, C and D share 8, E has 2.
	a, b, c, d, x *models.Player
}

func newCutoffField(t *testing.T) *cutoffField {
	t.Helper()
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	f := &cutoffField{
		e:  e,
		tr: tr,
		a:  e.player(t, tr.ID, "A", 1200),
		b:  e.player(t, tr.ID, "B", 1500),
		c:  e.player(t, tr.ID, "C", 1700),
		d:  e.player(t, tr.ID, "D", 1600),
		x:  e.player(t, tr.ID, "E", 1900),
	}
	for p, chips := range map[*models.Player]int{f.a: 10, f.b: 8, f.c: 8, f.d: 8, f.x: 2} {
		_, err := e.chips.AdjustChips(ctx, p.ID, chips, "group stage")
		require.NoError(t, err)
	}
	return f
}

func finalistIDs(cutoff *FinalsCutoff) []int {
	ids := make([]int, len(cutoff.Finalists))
	for i, p := range cutoff.Finalists {
		ids[i] = p.ID
	}
	return ids
}

func TestFinalsCutoffRatingTiebreak(t *testing.T) {
	f := newCutoffField(t)
	cutoff, err := f.e.chips.ApplyFinalsCutoff(context.Background(), f.tr.ID, models.CutoffConfig{FinalsCount: 2, Tiebreaker: models.TiebreakerRating})
	require.NoError(t, err)

	assert.Equal(t, []int{f.a.ID, f.c.ID}, finalistIDs(cutoff))
	assert.True(t, cutoff.TiebreakApplied)
	assert.Equal(t, 8, cutoff.BoundaryChips)
	assert.Len(t, cutoff.Eliminated, 3)

	stored, err := f.e.repos.Players.GetByID(context.Background(), f.x.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.IsFinalist)
	assert.False(t, *stored.IsFinalist)
}

func TestFinalsCutoffHeadToHeadTiebreak(t *testing.T) {
	f := newCutoffField(t)
	ctx := context.Background()
	done := time.Now()
	result := func(position, winner, loser int) *models.Match {
		return &models.Match{
			TournamentID: f.tr.ID, Round: 1, Position: position, State: models.MatchStateCompleted, RaceTo: 3,
			PlayerA: models.IntPtr(winner), PlayerB: models.IntPtr(loser), WinnerID: models.IntPtr(winner), CompletedAt: &done,
		}
	}
	require.NoError(t, f.e.repos.Matches.CreateBatch(ctx, []*models.Match{
		result(0, f.d.ID, f.b.ID),
		result(1, f.d.ID, f.c.ID),
		result(2, f.b.ID, f.c.ID),
		result(3, f.c.ID, f.a.ID),
	}))

	cutoff, err := f.e.chips.ApplyFinalsCutoff(ctx, f.tr.ID, models.CutoffConfig{FinalsCount: 3, Tiebreaker: models.TiebreakerHeadToHead})
	require.NoError(t, err)
	assert.Equal(t, []int{f.a.ID, f.d.ID, f.b.ID}, finalistIDs(cutoff))
}

func TestFinalsCutoffRandomTiebreakIsReproducible(t *testing.T) {
	f := newCutoffField(t)
	ctx := context.Background()
	cfg := models.CutoffConfig{FinalsCount: 2, Tiebreaker: models.TiebreakerRandom, Seed: 20261016}

	first, err := f.e.chips.ApplyFinalsCutoff(ctx, f.tr.ID, cfg)
	require.NoError(t, err)
	before, err := f.e.repos.Players.ListByTournament(ctx, f.tr.ID)
	require.NoError(t, err)

	second, err := f.e.chips.ApplyFinalsCutoff(ctx, f.tr.ID, cfg)
	require.NoError(t, err)
	after, err := f.e.repos.Players.ListByTournament(ctx, f.tr.ID)
	require.NoError(t, err)

	assert.Equal(t, finalistIDs(first), finalistIDs(second))
	assert.Equal(t, f.a.ID, finalistIDs(first)[0])
	for i := range before {
		assert.Equal(t, before[i].Version, after[i].Version, "a repeated cutoff writes nothing")
	}
}

func TestFinalsCutoffWithoutTies(t *testing.T) {
	f := newCutoffField(t)
	cutoff, err := f.e.chips.ApplyFinalsCutoff(context.Background(), f.tr.ID, models.CutoffConfig{FinalsCount: 4, Tiebreaker: models.TiebreakerRating})
	require.NoError(t, err)
	assert.False(t, cutoff.TiebreakApplied)
	assert.ElementsMatch(t, []int{f.a.ID, f.b.ID, f.c.ID, f.d.ID}, finalistIDs(cutoff))
}

func TestFinalsCutoffCapacity(t *testing.T) {
	f := newCutoffField(t)
	ctx := context.Background()

	_, err := f.e.chips.ApplyFinalsCutoff(ctx, f.tr.ID, models.CutoffConfig{FinalsCount: 6, Tiebreaker: models.TiebreakerRating})
	assert.ErrorIs(t, err, ErrCapacity)

	_, err = f.e.chips.WithdrawPlayer(ctx, f.x.ID)
	require.NoError(t, err)
	_, err = f.e.chips.WithdrawPlayer(ctx, f.x.ID)
	assert.ErrorIs(t, err, ErrPlayerWithdrawn)
	_, err = f.e.chips.ApplyFinalsCutoff(ctx, f.tr.ID, models.CutoffConfig{FinalsCount: 5, Tiebreaker: models.TiebreakerRating})
	assert.ErrorIs(t, err, ErrNotEnoughFinalists)

	_, err = f.e.chips.ApplyFinalsCutoff(ctx, f.tr.ID, models.CutoffConfig{FinalsCount: 0, Tiebreaker: models.TiebreakerRating})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

// contendedPlayers loses compare-and-swaps to a concurrent writer while conflicts remain.
type contendedPlayers struct {
	repositories.PlayerRepository
	conflicts int
}

func (c *contendedPlayers) CompareAndSwap(ctx context.Context, p *models.Player, expectedVersion int64) error {
	if c.conflicts > 0 {
		c.conflicts--
		return repositories.ErrPlayerVersionConflict
	}
	return c.PlayerRepository.CompareAndSwap(ctx, p, expectedVersion)
}

func newContendedEngine(t *testing.T) (*engine, *contendedPlayers) {
	t.Helper()
	repos := repositories.NewMemoryRepositories()
	contended := &contendedPlayers{PlayerRepository: repos.Players}
	repos.Players = contended
	return newEngineWith(repos, discardLogger()), contended
}

func TestAwardChipsOutlastsContention(t *testing.T) {
	e, contended := newContendedEngine(t)
	tr := e.tournament(t, models.FormatChip, 3)
	winner := e.player(t, tr.ID, "Winner", 0)
	loser := e.player(t, tr.ID, "Loser", 0)

	contended.conflicts = playerWriteAttempts + 2
	award, err := e.chips.AwardChips(context.Background(), 11, winner.ID, loser.ID, chipConfig)
	require.NoError(t, err)
	assert.Equal(t, 3, award.Winner.ChipCount)
	assert.Equal(t, 1, award.Loser.ChipCount)
	assert.Zero(t, contended.conflicts)

	// Operator adjustments keep their bound.
	contended.conflicts = playerWriteAttempts
	_, err = e.chips.AdjustChips(context.Background(), winner.ID, 1, "bonus")
	assert.ErrorIs(t, err, ErrRevisionConflict)
}

func TestAwardChipsStopsWithContext(t *testing.T) {
	e, contended := newContendedEngine(t)
	tr := e.tournament(t, models.FormatChip, 3)
	winner := e.player(t, tr.ID, "Winner", 0)
	loser := e.player(t, tr.ID, "Loser", 0)

	contended.conflicts = 1 << 30
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.chips.AwardChips(ctx, 11, winner.ID, loser.ID, chipConfig)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconcileAwardsAppliesMissingAwards(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	a := e.player(t, tr.ID, "A", 0)
	b := e.player(t, tr.ID, "B", 0)
	c := e.player(t, tr.ID, "C", 0)

	done := time.Now()
	require.NoError(t, e.repos.Matches.CreateBatch(ctx, []*models.Match{
		{
			TournamentID: tr.ID, Round: 1, Position: 0, State: models.MatchStateCompleted, RaceTo: 3,
			PlayerA: models.IntPtr(a.ID), PlayerB: models.IntPtr(b.ID), WinnerID: models.IntPtr(a.ID), CompletedAt: &done,
		},
		{
			TournamentID: tr.ID, Round: 1, Position: 1, State: models.MatchStateCompleted, RaceTo: 3, Walkover: true,
			PlayerA: models.IntPtr(c.ID), WinnerID: models.IntPtr(c.ID), CompletedAt: &done,
		},
	}))
	matches := e.matchesIn(t, tr.ID, models.MatchStateCompleted)
	require.Len(t, matches, 2)

	// The loser's side was already credited before the failure.
	_, err := e.chips.AwardChips(ctx, matches[0].ID, a.ID, b.ID, chipConfig)
	require.NoError(t, err)
	stored, err := e.repos.Players.GetByID(ctx, a.ID)
	require.NoError(t, err)
	stored.ChipCount, stored.MatchesPlayed, stored.ChipHistory = 0, 0, nil
	require.NoError(t, e.repos.Players.CompareAndSwap(ctx, stored, stored.Version))

	applied, err := e.chips.ReconcileAwards(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	winner, err := e.repos.Players.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, winner.ChipCount)
	loser, err := e.repos.Players.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, loser.ChipCount, "the credited side is not paid twice")

	applied, err = e.chips.ReconcileAwards(ctx, tr.ID)
	require.NoError(t, err)
	assert.Zero(t, applied)

	rr := e.tournament(t, models.FormatRoundRobin, 3)
	applied, err = e.chips.ReconcileAwards(ctx, rr.ID)
	require.NoError(t, err)
	assert.Zero(t, applied)
}
