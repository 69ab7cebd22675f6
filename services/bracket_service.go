package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

// matchWriteAttempts bounds the retries of bracket bookkeeping writes that race
// with other completions feeding the same match.
const matchWriteAttempts = 5

type CreateTournamentInput struct {
	Name    string               `json:"name"`
	Bracket models.BracketConfig `json:"bracket"`
	Chips   models.ChipConfig    `json:"chips"`
}

type GeneratedBracket struct {
	TournamentID int             `json:"tournament_id"`
	Format       models.Format   `json:"format"`
	Matches      []*models.Match `json:"matches"`
}

// Advancement lists what a completion changed downstream.
type Advancement struct {
	Ready     []*models.Match `json:"ready"`
	Walkovers []*models.Match `json:"walkovers"`
}

type BracketService interface {
	CreateTournament(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error)
	GetTournament(ctx context.Context, id int) (*models.Tournament, error)
	ListTournaments(ctx context.Context) ([]*models.Tournament, error)
	GenerateBracket(ctx context.Context, tournamentID int, cfg models.BracketConfig, playerIDs []int) (*GeneratedBracket, error)
	CreateChipMatch(ctx context.Context, tournamentID, playerA, playerB, raceTo int) (*models.Match, error)
	OnMatchCompleted(ctx context.Context, match *models.Match) (*Advancement, error)
	GetMatch(ctx context.Context, id int) (*models.Match, error)
	ListMatches(ctx context.Context, tournamentID int, filter repositories.MatchFilter) ([]*models.Match, error)
}

type bracketService struct {
	tournaments repositories.TournamentRepository
	matches     repositories.MatchRepository
	players     repositories.PlayerRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	// dependents caches the reverse edges per tournament. Links never change
	// after generation, so an entry stays valid until the bracket is rebuilt.
	dependentsMu sync.RWMutex
	dependents   map[int]brackets.DependentsIndex
}

func NewBracketService(
	tournaments repositories.TournamentRepository,
	matches repositories.MatchRepository,
	players repositories.PlayerRepository,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) BracketService {
	return &bracketService{
		tournaments: tournaments,
		matches:     matches,
		players:     players,
		notifier:    notifierOrNoop(notifier),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
		dependents:  make(map[int]brackets.DependentsIndex),
	}
}

func (s *bracketService) CreateTournament(ctx context.Context, in CreateTournamentInput) (*models.Tournament, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tournament name is required", ErrValidationFailed)
	}
	if in.Bracket.Format == models.FormatRoundRobin && in.Bracket.Legs == 0 {
		in.Bracket.Legs = 1
	}
	if err := in.Bracket.Validate(); err != nil {
		return nil, mapRepositoryError(err)
	}
	if err := in.Chips.Validate(); err != nil {
		return nil, mapRepositoryError(err)
	}

	t := &models.Tournament{Name: name, Bracket: in.Bracket, Chips: in.Chips}
	if err := s.tournaments.Create(ctx, t); err != nil {
		return nil, mapRepositoryError(err)
	}
	s.logger.Info("Tournament created", slog.Int("tournament_id", t.ID), slog.String("format", string(t.Bracket.Format)))
	return t, nil
}

func (s *bracketService) GetTournament(ctx context.Context, id int) (*models.Tournament, error) {
	t, err := s.tournaments.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return t, nil
}

func (s *bracketService) ListTournaments(ctx context.Context) ([]*models.Tournament, error) {
	list, err := s.tournaments.List(ctx)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return list, nil
}

// GenerateBracket persists a bracket in two passes: the matches first, so that
// they have IDs, then the dependency and advancement edges between them.
func (s *bracketService) GenerateBracket(ctx context.Context, tournamentID int, cfg models.BracketConfig, playerIDs []int) (*GeneratedBracket, error) {
	if cfg.Format == models.FormatRoundRobin && cfg.Legs == 0 {
		cfg.Legs = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, mapRepositoryError(err)
	}
	tournament, err := s.tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	existing, err := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{})
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if len(existing) > 0 {
		return nil, ErrBracketExists
	}

	generator, err := brackets.NewGenerator(cfg.Format)
	if err != nil {
		if errors.Is(err, brackets.ErrNoBracket) {
			return nil, fmt.Errorf("%w: %s tournaments have no generated bracket, create chip matches instead", ErrValidationFailed, cfg.Format)
		}
		return nil, mapRepositoryError(err)
	}
	generated, err := generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
		TournamentID: tournamentID,
		Config:       cfg,
		PlayerIDs:    playerIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	s.logger.Info("Generating bracket",
		slog.Int("tournament_id", tournamentID),
		slog.String("generator", generator.GetName()),
		slog.Int("players", len(playerIDs)),
		slog.Int("matches", len(generated)),
	)

	completedAt := s.now().UTC()
	matches := brackets.ToMatches(tournamentID, cfg.RaceTo, generated)
	for _, m := range matches {
		if m.State == models.MatchStateCompleted {
			m.CompletedAt = &completedAt
		}
	}
	if err = s.matches.CreateBatch(ctx, matches); err != nil {
		return nil, mapRepositoryError(err)
	}

	links, err := brackets.ComputeLinks(cfg.Format, matches)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}
	if err = s.matches.SetLinks(ctx, links); err != nil {
		return nil, mapRepositoryError(err)
	}
	for _, m := range matches {
		l := links[m.ID]
		m.Dependencies, m.WinnerTo, m.LoserTo = l.Dependencies, l.WinnerTo, l.LoserTo
	}
	s.forgetDependents(tournamentID)

	for _, m := range matches {
		if m.State != models.MatchStatePending || len(m.Dependencies) > 0 || !m.HasBothPlayers() {
			continue
		}
		expected := m.Rev
		m.State = models.MatchStateReady
		if err = s.matches.CompareAndSwap(ctx, m, expected); err != nil {
			return nil, mapRepositoryError(err)
		}
	}
	for _, m := range matches {
		if !m.Walkover {
			continue
		}
		if _, err = s.OnMatchCompleted(ctx, m); err != nil {
			return nil, err
		}
	}

	tournament.Bracket = cfg
	if err = s.tournaments.Update(ctx, tournament); err != nil {
		return nil, mapRepositoryError(err)
	}

	stored, err := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{})
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	result := &GeneratedBracket{TournamentID: tournamentID, Format: cfg.Format, Matches: stored}
	_ = s.notifier.Notify(ctx, events.New(events.BracketGenerated, tournamentID, result))
	return result, nil
}

// CreateChipMatch adds a pairing outside any bracket. It is ready at once.
func (s *bracketService) CreateChipMatch(ctx context.Context, tournamentID, playerA, playerB, raceTo int) (*models.Match, error) {
	tournament, err := s.tournaments.GetByID(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if f := tournament.Bracket.Format; f != models.FormatChip && f != models.FormatRoundRobin {
		return nil, fmt.Errorf("%w: ad-hoc matches need a chip or round robin tournament, got %s", ErrValidationFailed, f)
	}
	if playerA == playerB {
		return nil, fmt.Errorf("%w: a player cannot play themselves", ErrValidationFailed)
	}
	if raceTo <= 0 {
		raceTo = tournament.Bracket.RaceTo
	}
	for _, id := range []int{playerA, playerB} {
		p, getErr := s.players.GetByID(ctx, id)
		if getErr != nil {
			return nil, mapRepositoryError(getErr)
		}
		if p.TournamentID != tournamentID {
			return nil, fmt.Errorf("%w: player %d is not in tournament %d", ErrValidationFailed, id, tournamentID)
		}
		if p.Withdrawn {
			return nil, fmt.Errorf("%w: player %d", ErrPlayerWithdrawn, id)
		}
	}

	round := 1
	for attempt := 1; ; attempt++ {
		existing, listErr := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{Round: &round})
		if listErr != nil {
			return nil, mapRepositoryError(listErr)
		}
		position := 0
		for _, m := range existing {
			if m.Bracket == models.BracketNone && m.Position >= position {
				position = m.Position + 1
			}
		}

		match := &models.Match{
			TournamentID: tournamentID,
			Round:        round,
			Position:     position,
			State:        models.MatchStateReady,
			PlayerA:      models.IntPtr(playerA),
			PlayerB:      models.IntPtr(playerB),
			RaceTo:       raceTo,
		}
		err = s.matches.CreateBatch(ctx, []*models.Match{match})
		if errors.Is(err, repositories.ErrMatchPositionConflict) && attempt < matchWriteAttempts {
			continue
		}
		if errors.Is(err, repositories.ErrMatchPositionConflict) {
			return nil, fmt.Errorf("%w: could not reserve a match position", ErrConflict)
		}
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		if err = s.matches.SetLinks(ctx, map[int]models.MatchLinks{match.ID: {Dependencies: []int{}}}); err != nil {
			return nil, mapRepositoryError(err)
		}
		match.Dependencies = []int{}

		s.logger.Info("Chip match created",
			slog.Int("match_id", match.ID),
			slog.Int("player_a", playerA),
			slog.Int("player_b", playerB),
		)
		_ = s.notifier.Notify(ctx, events.New(events.MatchReady, tournamentID, match).WithMatch(match.ID))
		return match, nil
	}
}

// OnMatchCompleted moves the winner and the loser along the advancement edges,
// then re-examines only the direct dependents of the match.
func (s *bracketService) OnMatchCompleted(ctx context.Context, match *models.Match) (*Advancement, error) {
	adv := &Advancement{Ready: []*models.Match{}, Walkovers: []*models.Match{}}
	if match.State != models.MatchStateCompleted || match.WinnerID == nil {
		return nil, fmt.Errorf("%w: match %d is not completed", ErrInvalidTransition, match.ID)
	}

	if match.WinnerTo != nil {
		if err := s.placePlayer(ctx, *match.WinnerTo, *match.WinnerID); err != nil {
			return nil, err
		}
	}
	if loser := match.LoserID(); match.LoserTo != nil && loser != nil {
		if err := s.placePlayer(ctx, *match.LoserTo, *loser); err != nil {
			return nil, err
		}
	}

	dependents, err := s.dependentsOf(ctx, match.TournamentID)
	if err != nil {
		return nil, err
	}
	for _, id := range dependents.Of(match.ID) {
		promoted, walkover, promoteErr := s.promote(ctx, id)
		if promoteErr != nil {
			return nil, promoteErr
		}
		if promoted != nil {
			adv.Ready = append(adv.Ready, promoted)
			_ = s.notifier.Notify(ctx, events.New(events.MatchReady, promoted.TournamentID, promoted).WithMatch(promoted.ID))
		}
		if walkover != nil {
			adv.Walkovers = append(adv.Walkovers, walkover)
			_ = s.notifier.Notify(ctx, events.New(events.MatchCompleted, walkover.TournamentID, walkover).WithMatch(walkover.ID))
			next, nextErr := s.OnMatchCompleted(ctx, walkover)
			if nextErr != nil {
				return nil, nextErr
			}
			adv.Ready = append(adv.Ready, next.Ready...)
			adv.Walkovers = append(adv.Walkovers, next.Walkovers...)
		}
	}
	return adv, nil
}

// placePlayer writes a player into the slot a feed points at. Placing the same
// player twice is a no-op.
func (s *bracketService) placePlayer(ctx context.Context, feed models.Feed, playerID int) error {
	for attempt := 1; ; attempt++ {
		target, err := s.matches.GetByID(ctx, feed.MatchID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if current := target.PlayerInSlot(feed.Slot); current != nil {
			if *current == playerID {
				return nil
			}
			return fmt.Errorf("%w: slot %d of match %d already holds player %d", ErrInternal, feed.Slot, target.ID, *current)
		}

		expected := target.Rev
		target.SetPlayer(feed.Slot, playerID)
		err = s.matches.CompareAndSwap(ctx, target, expected)
		if err == nil {
			return nil
		}
		err = mapRepositoryError(err)
		if !isConflict(err) || attempt == matchWriteAttempts {
			return err
		}
		s.metrics.Conflict("advance")
	}
}

// promote re-evaluates a pending match. It returns the match if it became
// ready, or the completed match if it was decided by walkover.
func (s *bracketService) promote(ctx context.Context, matchID int) (ready, walkover *models.Match, err error) {
	for attempt := 1; ; attempt++ {
		m, getErr := s.matches.GetByID(ctx, matchID)
		if getErr != nil {
			return nil, nil, mapRepositoryError(getErr)
		}
		if m.State != models.MatchStatePending {
			return nil, nil, nil
		}
		deps, listErr := s.matches.ListByIDs(ctx, m.Dependencies)
		if listErr != nil {
			return nil, nil, mapRepositoryError(listErr)
		}

		expected := m.Rev
		switch {
		case brackets.Eligible(m, deps):
			m.State = models.MatchStateReady
		case allCompleted(deps) && len(m.Players()) == 1:
			finished := s.now().UTC()
			m.State = models.MatchStateCompleted
			m.Walkover = true
			m.WinnerID = models.IntPtr(m.Players()[0])
			m.CompletedAt = &finished
		case allCompleted(deps) && len(m.Players()) == 0:
			s.logger.Warn("Match has no players after all sources completed", slog.Int("match_id", m.ID))
			return nil, nil, nil
		default:
			return nil, nil, nil
		}

		err = s.matches.CompareAndSwap(ctx, m, expected)
		if err == nil {
			if m.Walkover {
				s.logger.Info("Match decided by walkover", slog.Int("match_id", m.ID), slog.Int("winner_id", *m.WinnerID))
				return nil, m, nil
			}
			return m, nil, nil
		}
		err = mapRepositoryError(err)
		if !isConflict(err) || attempt == matchWriteAttempts {
			return nil, nil, err
		}
		s.metrics.Conflict("advance")
	}
}

func allCompleted(deps []*models.Match) bool {
	for _, d := range deps {
		if d.State != models.MatchStateCompleted {
			return false
		}
	}
	return true
}

func (s *bracketService) dependentsOf(ctx context.Context, tournamentID int) (brackets.DependentsIndex, error) {
	s.dependentsMu.RLock()
	idx, ok := s.dependents[tournamentID]
	s.dependentsMu.RUnlock()
	if ok {
		return idx, nil
	}

	all, err := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{})
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	idx = brackets.NewDependentsIndex(all)

	s.dependentsMu.Lock()
	s.dependents[tournamentID] = idx
	s.dependentsMu.Unlock()
	return idx, nil
}

func (s *bracketService) forgetDependents(tournamentID int) {
	s.dependentsMu.Lock()
	delete(s.dependents, tournamentID)
	s.dependentsMu.Unlock()
}

func (s *bracketService) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	m, err := s.matches.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return m, nil
}

func (s *bracketService) ListMatches(ctx context.Context, tournamentID int, filter repositories.MatchFilter) ([]*models.Match, error) {
	if _, err := s.tournaments.GetByID(ctx, tournamentID); err != nil {
		return nil, mapRepositoryError(err)
	}
	list, err := s.matches.ListByTournament(ctx, tournamentID, filter)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return list, nil
}
