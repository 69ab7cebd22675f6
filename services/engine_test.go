package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engine struct {
	repos    repositories.Repositories
	brackets BracketService
	tables   TableService
	queue    QueueService
	chips    ChipService
	scores   ScoreService
	events   *recordingNotifier
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	return newEngineWith(repositories.NewMemoryRepositories(), discardLogger())
}

func newEngineWith(repos repositories.Repositories, logger *slog.Logger) *engine {
	rec := &recordingNotifier{}
	e := newEngineNotifying(repos, logger, rec)
	e.events = rec
	return e
}

// newEngineNotifying wires every service to n. The returned engine records no events.
func newEngineNotifying(repos repositories.Repositories, logger *slog.Logger, n Notifier) *engine {
	b := NewBracketService(repos.Tournaments, repos.Matches, repos.Players, n, nil, logger)
	q := NewQueueService(repos.Matches, repos.Tables, repos.Assignments, n, nil, logger)
	c := NewChipService(repos.Players, repos.Matches, repos.Tournaments, n, nil, logger)
	pipeline := NewCompletionPipeline(repos.Tournaments, b, c, q, n, logger)
	return &engine{
		repos:    repos,
		brackets: b,
		tables:   NewTableService(repos.Tournaments, repos.Tables, n, nil, logger),
		queue:    q,
		chips:    c,
		scores:   NewScoreService(repos.Matches, repos.ScoreUpdates, pipeline, n, nil, logger),
		events:   &recordingNotifier{},
	}
}

func (e *engine) tournament(t *testing.T, format models.Format, raceTo int) *models.Tournament {
	t.Helper()
	tr, err := e.brackets.CreateTournament(context.Background(), CreateTournamentInput{
		Name:    "Friday 9-ball",
		Bracket: models.BracketConfig{Format: format, RaceTo: raceTo},
		Chips:   models.ChipConfig{WinnerChips: 3, LoserChips: 1},
	})
	require.NoError(t, err)
	return tr
}

func (e *engine) generate(t *testing.T, tr *models.Tournament, playerIDs ...int) *GeneratedBracket {
	t.Helper()
	g, err := e.brackets.GenerateBracket(context.Background(), tr.ID, tr.Bracket, playerIDs)
	require.NoError(t, err)
	return g
}

func (e *engine) addTables(t *testing.T, tournamentID int, labels ...string) []*models.Table {
	t.Helper()
	out := make([]*models.Table, 0, len(labels))
	for _, l := range labels {
		tb, err := e.tables.CreateTable(context.Background(), tournamentID, l)
		require.NoError(t, err)
		out = append(out, tb)
	}
	return out
}

func (e *engine) player(t *testing.T, tournamentID int, name string, rating int) *models.Player {
	t.Helper()
	p, err := e.chips.RegisterPlayer(context.Background(), RegisterPlayerInput{TournamentID: tournamentID, Name: name, Rating: rating})
	require.NoError(t, err)
	return p
}

func (e *engine) match(t *testing.T, id int) *models.Match {
	t.Helper()
	m, err := e.brackets.GetMatch(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (e *engine) matchesIn(t *testing.T, tournamentID int, states ...models.MatchState) []*models.Match {
	t.Helper()
	list, err := e.brackets.ListMatches(context.Background(), tournamentID, repositories.MatchFilter{States: states})
	require.NoError(t, err)
	return list
}

func (e *engine) start(t *testing.T, matchID int) *models.Match {
	t.Helper()
	m := e.match(t, matchID)
	started, err := e.queue.StartMatch(context.Background(), m.ID, m.Rev)
	require.NoError(t, err)
	return started
}

// startAndWin starts an assigned match and scores for one side until it wins.
func (e *engine) startAndWin(t *testing.T, matchID int, slot models.Slot) *ScoreResult {
	t.Helper()
	rev := e.start(t, matchID).Rev
	for {
		res, err := e.scores.Increment(context.Background(), IncrementInput{
			MatchID: matchID, Player: slot, Device: "tablet-1", Actor: "td", ExpectedRev: rev, Confirmed: true,
		})
		require.NoError(t, err)
		require.False(t, res.RequiresConfirmation)
		rev = res.Rev
		if res.Completed {
			return res
		}
	}
}

// playOut assigns and plays every match of the tournament, side A always winning.
func (e *engine) playOut(t *testing.T, tournamentID int) {
	t.Helper()
	for i := 0; i < 100; i++ {
		_, err := e.queue.AssignAvailable(context.Background(), tournamentID)
		require.NoError(t, err)
		assigned := e.matchesIn(t, tournamentID, models.MatchStateAssigned)
		if len(assigned) == 0 {
			return
		}
		for _, m := range assigned {
			e.startAndWin(t, m.ID, models.SlotA)
		}
	}
	t.Fatal("tournament did not finish")
}

// activeMatch returns a started match between two fresh players of a chip tournament.
func (e *engine) activeMatch(t *testing.T, raceTo int) *models.Match {
	t.Helper()
	tr := e.tournament(t, models.FormatChip, raceTo)
	a := e.player(t, tr.ID, "Efren", 0)
	b := e.player(t, tr.ID, "Earl", 0)
	e.addTables(t, tr.ID, "T1")
	m, err := e.brackets.CreateChipMatch(context.Background(), tr.ID, a.ID, b.ID, 0)
	require.NoError(t, err)
	batch, err := e.queue.AssignAvailable(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Len(t, batch.Assigned, 1)
	return e.start(t, m.ID)
}
