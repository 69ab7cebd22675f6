package brackets

import (
	"context"

	"github.com/Dosada05/tournament-engine/models"
)

type RoundRobinGenerator struct{}

func NewRoundRobinGenerator() BracketGenerator {
	return &RoundRobinGenerator{}
}

func (g *RoundRobinGenerator) GetName() string {
	return "RoundRobin"
}

// GenerateBracket schedules every pairing with the circle method, so each round
// gives every player at most one match. With two legs the second half repeats the
// first with sides swapped.
func (g *RoundRobinGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) ([]*BracketMatch, error) {
	if err := checkPlayers(params.PlayerIDs, 2); err != nil {
		return nil, err
	}
	legs := params.Config.Legs
	if legs < 1 {
		legs = 1
	}

	// A nil slot is the resting player of an odd field.
	slots := make([]*int, 0, len(params.PlayerIDs)+1)
	for _, id := range params.PlayerIDs {
		slots = append(slots, models.IntPtr(id))
	}
	if len(slots)%2 == 1 {
		slots = append(slots, nil)
	}
	n := len(slots)
	roundsPerLeg := n - 1

	matches := make([]*BracketMatch, 0, legs*roundsPerLeg*n/2)
	for leg := 0; leg < legs; leg++ {
		rotation := append([]*int(nil), slots...)
		for r := 0; r < roundsPerLeg; r++ {
			position := 0
			for i := 0; i < n/2; i++ {
				a, b := rotation[i], rotation[n-1-i]
				if a == nil || b == nil {
					continue
				}
				if leg == 1 {
					a, b = b, a
				}
				matches = append(matches, &BracketMatch{
					Round:    leg*roundsPerLeg + r + 1,
					Position: position,
					PlayerA:  a,
					PlayerB:  b,
				})
				position++
			}
			rotation = rotate(rotation)
		}
	}
	return matches, nil
}

// rotate keeps the first slot fixed and turns the rest one step clockwise.
func rotate(slots []*int) []*int {
	n := len(slots)
	out := make([]*int, n)
	out[0] = slots[0]
	out[1] = slots[n-1]
	copy(out[2:], slots[1:n-1])
	return out
}
