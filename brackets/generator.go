package brackets

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrNotEnoughPlayers     = errors.New("not enough players to generate a bracket")
	ErrDuplicatePlayer      = errors.New("player listed more than once")
	ErrUnsupportedFieldSize = errors.New("field size not supported by this format")
	ErrNoBracket            = errors.New("format has no generated bracket")
)

type GenerateBracketParams struct {
	TournamentID int
	Config       models.BracketConfig
	// PlayerIDs are in seed order: index 0 is the top seed.
	PlayerIDs []int
}

// BracketMatch is a generated match before it has a persistent identity.
// A bye carries a single player in PlayerA and is stored already completed.
type BracketMatch struct {
	Bracket  models.Bracket
	Round    int
	Position int

	PlayerA *int
	PlayerB *int

	IsBye bool
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error)

	GetName() string
}

// NewGenerator returns the generator for a bracket-shaped format.
func NewGenerator(format models.Format) (BracketGenerator, error) {
	switch format {
	case models.FormatSingleElim, models.FormatModifiedSingleElim:
		return NewSingleEliminationGenerator(), nil
	case models.FormatDoubleElim:
		return NewDoubleEliminationGenerator(), nil
	case models.FormatRoundRobin:
		return NewRoundRobinGenerator(), nil
	case models.FormatChip:
		return nil, ErrNoBracket
	}
	return nil, fmt.Errorf("%w: unknown format %q", models.ErrInvalidConfig, format)
}

// ToMatches turns generated matches into unsaved match records.
func ToMatches(tournamentID int, raceTo int, generated []*BracketMatch) []*models.Match {
	out := make([]*models.Match, 0, len(generated))
	for _, bm := range generated {
		m := &models.Match{
			TournamentID: tournamentID,
			Bracket:      bm.Bracket,
			Round:        bm.Round,
			Position:     bm.Position,
			State:        models.MatchStatePending,
			PlayerA:      copyID(bm.PlayerA),
			PlayerB:      copyID(bm.PlayerB),
			RaceTo:       raceTo,
		}
		if bm.IsBye {
			m.State = models.MatchStateCompleted
			m.Walkover = true
			m.WinnerID = copyID(bm.PlayerA)
		}
		out = append(out, m)
	}
	return out
}

func copyID(id *int) *int {
	if id == nil {
		return nil
	}
	return models.IntPtr(*id)
}

func checkPlayers(ids []int, min int) error {
	if len(ids) < min {
		return fmt.Errorf("%w: got %d, need at least %d", ErrNotEnoughPlayers, len(ids), min)
	}
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicatePlayer, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// bracketRounds returns the smallest k with 2^k >= n.
func bracketRounds(n int) int {
	k := 0
	for 1<<k < n {
		k++
	}
	return k
}
