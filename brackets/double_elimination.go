package brackets

import (
	"context"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
)

type DoubleEliminationGenerator struct{}

func NewDoubleEliminationGenerator() BracketGenerator {
	return &DoubleEliminationGenerator{}
}

func (g *DoubleEliminationGenerator) GetName() string {
	return "DoubleElimination"
}

// GenerateBracket lays out the winners bracket (seeded like single elimination),
// 2(k-1) losers rounds and the grand final for a field of 2^k players.
func (g *DoubleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	n := len(params.PlayerIDs)
	if err := checkPlayers(params.PlayerIDs, 4); err != nil {
		return nil, err
	}
	if n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: double elimination needs a power of two, got %d", ErrUnsupportedFieldSize, n)
	}
	k := bracketRounds(n)

	matches := eliminationTree(params.PlayerIDs, models.BracketWinners)
	for r := 1; r <= losersRounds(k); r++ {
		for p := 0; p < losersRoundSize(n, r); p++ {
			matches = append(matches, &BracketMatch{Bracket: models.BracketLosers, Round: r, Position: p})
		}
	}
	matches = append(matches, &BracketMatch{Bracket: models.BracketNone, Round: grandFinalRound(k), Position: 0})
	return matches, nil
}

func losersRounds(k int) int {
	return 2 * (k - 1)
}

// losersRoundSize is N/4 for L1 and L2, N/8 for L3 and L4, and so on.
func losersRoundSize(n, r int) int {
	return n >> ((r+1)/2 + 1)
}

func grandFinalRound(k int) int {
	return losersRounds(k) + 1
}
