package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// playerWriteAttempts bounds the compare-and-swap retries of operator-driven player writes.
// Chip awards are not bounded; they retry until their context ends.
const playerWriteAttempts = 3

const (
	awardRetryInitialInterval = 5 * time.Millisecond
	awardRetryMaxInterval     = 250 * time.Millisecond
)

type RegisterPlayerInput struct {
	TournamentID int    `json:"tournament_id"`
	Name         string `json:"name"`
	Rating       int    `json:"rating"`
}

type ChipAward struct {
	MatchID     int            `json:"match_id"`
	Winner      *models.Player `json:"winner"`
	Loser       *models.Player `json:"loser"`
	WinnerChips int            `json:"winner_chips"`
	LoserChips  int            `json:"loser_chips"`
}

type Standing struct {
	Rank   int            `json:"rank"`
	Player *models.Player `json:"player"`
}

type FinalsCutoff struct {
	TournamentID int              `json:"tournament_id"`
	Finalists    []*models.Player `json:"finalists"`
	Eliminated   []*models.Player `json:"eliminated"`
	// BoundaryChips is the chip count of the last finalist.
	BoundaryChips   int               `json:"boundary_chips"`
	TiebreakApplied bool              `json:"tiebreak_applied"`
	Tiebreaker      models.Tiebreaker `json:"tiebreaker"`
}

type ChipService interface {
	RegisterPlayer(ctx context.Context, in RegisterPlayerInput) (*models.Player, error)
	AwardChips(ctx context.Context, matchID, winnerID, loserID int, cfg models.ChipConfig) (*ChipAward, error)
	GetStandings(ctx context.Context, tournamentID int) ([]Standing, error)
	AdjustChips(ctx context.Context, playerID, delta int, reason string) (*models.Player, error)
	ApplyFinalsCutoff(ctx context.Context, tournamentID int, cfg models.CutoffConfig) (*FinalsCutoff, error)
	WithdrawPlayer(ctx context.Context, playerID int) (*models.Player, error)
	ReconcileAwards(ctx context.Context, tournamentID int) (int, error)
}

type chipService struct {
	players     repositories.PlayerRepository
	matches     repositories.MatchRepository
	tournaments repositories.TournamentRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewChipService(
	players repositories.PlayerRepository,
	matches repositories.MatchRepository,
	tournaments repositories.TournamentRepository,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) ChipService {
	return &chipService{
		players:     players,
		matches:     matches,
		tournaments: tournaments,
		notifier:    notifierOrNoop(notifier),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *chipService) RegisterPlayer(ctx context.Context, in RegisterPlayerInput) (*models.Player, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: player name is required", ErrValidationFailed)
	}
	if _, err := s.tournaments.GetByID(ctx, in.TournamentID); err != nil {
		return nil, mapRepositoryError(err)
	}

	player := &models.Player{
		TournamentID: in.TournamentID,
		Name:         name,
		Rating:       in.Rating,
		ChipHistory:  []models.ChipEntry{},
	}
	if err := s.players.Create(ctx, player); err != nil {
		return nil, mapRepositoryError(err)
	}
	s.logger.Info("Player registered", slog.Int("player_id", player.ID), slog.Int("tournament_id", player.TournamentID))
	return player, nil
}

// AwardChips credits both players of a completed match once. A repeated call
// only fills in a side that is still missing its entry, so a partially applied
// award can be finished; when both sides already hold it the call conflicts.
func (s *chipService) AwardChips(ctx context.Context, matchID, winnerID, loserID int, cfg models.ChipConfig) (*ChipAward, error) {
	if err := cfg.Validate(); err != nil {
		return nil, mapRepositoryError(err)
	}
	if winnerID == loserID {
		return nil, fmt.Errorf("%w: winner and loser are the same player", ErrValidationFailed)
	}

	ref := models.MatchRef(matchID)
	winner, err := s.players.GetByID(ctx, winnerID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	loser, err := s.players.GetByID(ctx, loserID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if winner.HasEntryFor(ref) && loser.HasEntryFor(ref) {
		return nil, ErrChipsAlreadyAwarded
	}

	credit := func(chips int) func(*models.Player) (bool, error) {
		return func(p *models.Player) (bool, error) {
			if p.HasEntryFor(ref) {
				return false, nil
			}
			p.ChipCount += chips
			p.MatchesPlayed++
			p.ChipHistory = append(p.ChipHistory, models.ChipEntry{
				MatchRef:    ref,
				ChipsEarned: chips,
				CreatedAt:   s.now().UTC(),
			})
			return true, nil
		}
	}
	if winner, err = s.awardPlayer(ctx, winnerID, credit(cfg.WinnerChips)); err != nil {
		return nil, err
	}
	if loser, err = s.awardPlayer(ctx, loserID, credit(cfg.LoserChips)); err != nil {
		return nil, err
	}

	award := &ChipAward{
		MatchID:     matchID,
		Winner:      winner,
		Loser:       loser,
		WinnerChips: cfg.WinnerChips,
		LoserChips:  cfg.LoserChips,
	}
	s.metrics.ChipsAwarded(cfg.WinnerChips + cfg.LoserChips)
	s.logger.Info("Chips awarded",
		slog.Int("match_id", matchID),
		slog.Int("winner_id", winnerID),
		slog.Int("loser_id", loserID),
	)
	_ = s.notifier.Notify(ctx, events.New(events.ChipsAwarded, winner.TournamentID, award).WithMatch(matchID))
	return award, nil
}

// updatePlayer re-reads and re-applies mutate on a lost race, up to playerWriteAttempts times.
func (s *chipService) updatePlayer(ctx context.Context, playerID int, mutate func(*models.Player) (bool, error)) (*models.Player, error) {
	for attempt := 1; ; attempt++ {
		player, err := s.tryUpdatePlayer(ctx, playerID, mutate)
		if err == nil || !isConflict(err) || attempt == playerWriteAttempts {
			return player, err
		}
	}
}

// awardPlayer applies a chip credit, retrying lost races with backoff until ctx ends.
func (s *chipService) awardPlayer(ctx context.Context, playerID int, mutate func(*models.Player) (bool, error)) (*models.Player, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = awardRetryInitialInterval
	b.MaxInterval = awardRetryMaxInterval
	b.MaxElapsedTime = 0

	var player *models.Player
	err := backoff.Retry(func() error {
		p, err := s.tryUpdatePlayer(ctx, playerID, mutate)
		if err != nil {
			if isConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		player = p
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: chip award for player %d not applied: %w", ErrInterrupted, playerID, ctxErr)
		}
		return nil, err
	}
	return player, nil
}

// tryUpdatePlayer is one read-modify-write. mutate reports whether it changed
// anything; unchanged players are not written.
func (s *chipService) tryUpdatePlayer(ctx context.Context, playerID int, mutate func(*models.Player) (bool, error)) (*models.Player, error) {
	player, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	expected := player.Version
	changed, err := mutate(player)
	if err != nil {
		return nil, err
	}
	if !changed {
		return player, nil
	}
	if err = s.players.CompareAndSwap(ctx, player, expected); err != nil {
		err = mapRepositoryError(err)
		if isConflict(err) {
			s.metrics.Conflict("player")
		}
		return nil, err
	}
	return player, nil
}

// ReconcileAwards applies the chip award of every completed chip match that is
// still missing one on either side. It returns how many awards it applied.
func (s *chipService) ReconcileAwards(ctx context.Context, tournamentID int) (int, error) {
	tournament, err := s.tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	if tournament.Bracket.Format != models.FormatChip {
		return 0, nil
	}
	completed, err := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{
		States: []models.MatchState{models.MatchStateCompleted},
	})
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	players, err := s.players.ListByTournament(ctx, tournamentID)
	if err != nil {
		return 0, mapRepositoryError(err)
	}
	byID := make(map[int]*models.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	applied := 0
	for _, m := range completed {
		loser := m.LoserID()
		if m.Walkover || loser == nil {
			continue
		}
		ref := models.MatchRef(m.ID)
		w, l := byID[*m.WinnerID], byID[*loser]
		if w != nil && l != nil && w.HasEntryFor(ref) && l.HasEntryFor(ref) {
			continue
		}
		if _, err = s.AwardChips(ctx, m.ID, *m.WinnerID, *loser, tournament.Chips); err != nil {
			if errors.Is(err, ErrChipsAlreadyAwarded) {
				continue
			}
			return applied, err
		}
		applied++
		s.logger.Warn("Missing chip award applied", slog.Int("match_id", m.ID), slog.Int("tournament_id", tournamentID))
	}
	return applied, nil
}

func (s *chipService) GetStandings(ctx context.Context, tournamentID int) ([]Standing, error) {
	players, err := s.players.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	sortStandings(players)

	standings := make([]Standing, len(players))
	for i, p := range players {
		standings[i] = Standing{Rank: i + 1, Player: p}
	}
	return standings, nil
}

// sortStandings orders by chips descending, then fewer matches played, then ID.
func sortStandings(players []*models.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.ChipCount != b.ChipCount {
			return a.ChipCount > b.ChipCount
		}
		if a.MatchesPlayed != b.MatchesPlayed {
			return a.MatchesPlayed < b.MatchesPlayed
		}
		return a.ID < b.ID
	})
}

func (s *chipService) AdjustChips(ctx context.Context, playerID, delta int, reason string) (*models.Player, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required for manual adjustments", ErrValidationFailed)
	}
	ref := models.ManualRef(uuid.NewString())

	player, err := s.updatePlayer(ctx, playerID, func(p *models.Player) (bool, error) {
		if p.ChipCount+delta < 0 {
			return false, fmt.Errorf("%w: adjustment of %d would leave %d chips", ErrValidationFailed, delta, p.ChipCount+delta)
		}
		p.ChipCount += delta
		p.ChipHistory = append(p.ChipHistory, models.ChipEntry{
			MatchRef:    ref,
			ChipsEarned: delta,
			Reason:      reason,
			CreatedAt:   s.now().UTC(),
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Chips adjusted",
		slog.Int("player_id", playerID),
		slog.Int("delta", delta),
		slog.String("reason", reason),
	)
	return player, nil
}

// ApplyFinalsCutoff marks the top FinalsCount non-withdrawn players as finalists.
// Players level on chips at the boundary are ordered by the configured
// tiebreaker and then by ID. Running it twice with the same input changes nothing.
func (s *chipService) ApplyFinalsCutoff(ctx context.Context, tournamentID int, cfg models.CutoffConfig) (*FinalsCutoff, error) {
	if err := cfg.Validate(); err != nil {
		return nil, mapRepositoryError(err)
	}
	players, err := s.players.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	eligible := make([]*models.Player, 0, len(players))
	for _, p := range players {
		if !p.Withdrawn {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) < cfg.FinalsCount {
		return nil, fmt.Errorf("%w: %d eligible, %d requested", ErrNotEnoughFinalists, len(eligible), cfg.FinalsCount)
	}
	sortStandings(eligible)

	boundary := eligible[cfg.FinalsCount-1].ChipCount
	var above, tied, below []*models.Player
	for _, p := range eligible {
		switch {
		case p.ChipCount > boundary:
			above = append(above, p)
		case p.ChipCount == boundary:
			tied = append(tied, p)
		default:
			below = append(below, p)
		}
	}

	slots := cfg.FinalsCount - len(above)
	tiebreak := len(tied) > slots
	if tiebreak {
		if err = s.breakTies(ctx, tournamentID, tied, cfg); err != nil {
			return nil, err
		}
	}

	finalist := make(map[int]bool, cfg.FinalsCount)
	for _, p := range above {
		finalist[p.ID] = true
	}
	for _, p := range tied[:slots] {
		finalist[p.ID] = true
	}

	cutoff := &FinalsCutoff{
		TournamentID:    tournamentID,
		Finalists:       make([]*models.Player, 0, cfg.FinalsCount),
		Eliminated:      make([]*models.Player, 0, len(players)-cfg.FinalsCount),
		BoundaryChips:   boundary,
		TiebreakApplied: tiebreak,
		Tiebreaker:      cfg.Tiebreaker,
	}
	ordered := append(append(append([]*models.Player{}, above...), tied...), below...)
	for _, p := range players {
		if p.Withdrawn {
			ordered = append(ordered, p)
		}
	}
	for _, p := range ordered {
		want := finalist[p.ID]
		updated, updateErr := s.updatePlayer(ctx, p.ID, func(current *models.Player) (bool, error) {
			if current.IsFinalist != nil && *current.IsFinalist == want {
				return false, nil
			}
			current.IsFinalist = &want
			return true, nil
		})
		if updateErr != nil {
			return nil, updateErr
		}
		if want {
			cutoff.Finalists = append(cutoff.Finalists, updated)
		} else {
			cutoff.Eliminated = append(cutoff.Eliminated, updated)
		}
	}

	s.logger.Info("Finals cutoff applied",
		slog.Int("tournament_id", tournamentID),
		slog.Int("finalists", len(cutoff.Finalists)),
		slog.Int("boundary_chips", boundary),
		slog.Bool("tiebreak", tiebreak),
	)
	_ = s.notifier.Notify(ctx, events.New(events.FinalsSelected, tournamentID, cutoff))
	return cutoff, nil
}

// breakTies reorders tied in place, best first.
func (s *chipService) breakTies(ctx context.Context, tournamentID int, tied []*models.Player, cfg models.CutoffConfig) error {
	sort.SliceStable(tied, func(i, j int) bool { return tied[i].ID < tied[j].ID })

	switch cfg.Tiebreaker {
	case models.TiebreakerRating:
		sort.SliceStable(tied, func(i, j int) bool { return tied[i].Rating > tied[j].Rating })
	case models.TiebreakerRandom:
		rng := rand.New(rand.NewSource(cfg.Seed))
		rng.Shuffle(len(tied), func(i, j int) { tied[i], tied[j] = tied[j], tied[i] })
	case models.TiebreakerHeadToHead:
		wins, err := s.headToHeadWins(ctx, tournamentID, tied)
		if err != nil {
			return err
		}
		sort.SliceStable(tied, func(i, j int) bool { return wins[tied[i].ID] > wins[tied[j].ID] })
	default:
		return fmt.Errorf("%w: unknown tiebreaker %q", ErrValidationFailed, cfg.Tiebreaker)
	}
	return nil
}

// headToHeadWins counts, for each tied player, completed wins against other tied players.
func (s *chipService) headToHeadWins(ctx context.Context, tournamentID int, tied []*models.Player) (map[int]int, error) {
	group := make(map[int]bool, len(tied))
	for _, p := range tied {
		group[p.ID] = true
	}
	completed, err := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{
		States: []models.MatchState{models.MatchStateCompleted},
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	wins := make(map[int]int, len(tied))
	for _, m := range completed {
		loser := m.LoserID()
		if m.Walkover || m.WinnerID == nil || loser == nil {
			continue
		}
		if group[*m.WinnerID] && group[*loser] {
			wins[*m.WinnerID]++
		}
	}
	return wins, nil
}

func (s *chipService) WithdrawPlayer(ctx context.Context, playerID int) (*models.Player, error) {
	player, err := s.updatePlayer(ctx, playerID, func(p *models.Player) (bool, error) {
		if p.Withdrawn {
			return false, ErrPlayerWithdrawn
		}
		p.Withdrawn = true
		if p.IsFinalist != nil && *p.IsFinalist {
			no := false
			p.IsFinalist = &no
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Player withdrawn", slog.Int("player_id", playerID))
	return player, nil
}
