package brackets

import (
	"context"
	"sort"

	"github.com/Dosada05/tournament-engine/models"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

// GenerateBracket builds the full tree. Round 1 pairs seeds the standard way
// (1v8, 4v5, 2v7, 3v6 for eight); missing low seeds become byes for the top seeds.
func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	if err := checkPlayers(params.PlayerIDs, 2); err != nil {
		return nil, err
	}
	return eliminationTree(params.PlayerIDs, models.BracketNone), nil
}

func eliminationTree(playerIDs []int, bracket models.Bracket) []*BracketMatch {
	numRounds := bracketRounds(len(playerIDs))
	size := 1 << numRounds
	order := seedOrder(size)

	matches := make([]*BracketMatch, 0, size-1)
	for p := 0; p < size/2; p++ {
		bm := &BracketMatch{Bracket: bracket, Round: 1, Position: p}
		seedA, seedB := order[2*p], order[2*p+1]
		if seedA <= len(playerIDs) {
			bm.PlayerA = models.IntPtr(playerIDs[seedA-1])
		}
		if seedB <= len(playerIDs) {
			bm.PlayerB = models.IntPtr(playerIDs[seedB-1])
		}
		if bm.PlayerB == nil {
			bm.IsBye = true
		}
		matches = append(matches, bm)
	}
	for r := 2; r <= numRounds; r++ {
		for p := 0; p < size>>r; p++ {
			matches = append(matches, &BracketMatch{Bracket: bracket, Round: r, Position: p})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Round != matches[j].Round {
			return matches[i].Round < matches[j].Round
		}
		return matches[i].Position < matches[j].Position
	})
	return matches
}

// seedOrder lists seeds by bracket line for a power-of-two size: [1 8 4 5 2 7 3 6] for 8.
func seedOrder(size int) []int {
	order := []int{1}
	for len(order) < size {
		n := len(order)*2 + 1
		next := make([]int, 0, len(order)*2)
		for _, s := range order {
			next = append(next, s, n-s)
		}
		order = next
	}
	return order
}
