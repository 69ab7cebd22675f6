package brackets

// CrossoverPattern maps a drop-in position of the losers bracket to the winners
// bracket match whose loser enters there. Every pattern is its own inverse.
type CrossoverPattern string

const (
	CrossoverStraight      CrossoverPattern = "straight"
	CrossoverReversed      CrossoverPattern = "reversed"
	CrossoverSwappedHalves CrossoverPattern = "swapped_halves"
)

// crossoverTable holds the pattern of each drop-in round (index 0 is L2) per field size.
var crossoverTable = map[int][]CrossoverPattern{
	4:   {CrossoverStraight},
	8:   {CrossoverReversed, CrossoverStraight},
	16:  {CrossoverReversed, CrossoverSwappedHalves, CrossoverStraight},
	32:  {CrossoverReversed, CrossoverSwappedHalves, CrossoverReversed, CrossoverStraight},
	64:  {CrossoverReversed, CrossoverSwappedHalves, CrossoverReversed, CrossoverSwappedHalves, CrossoverStraight},
	128: {CrossoverReversed, CrossoverSwappedHalves, CrossoverReversed, CrossoverSwappedHalves, CrossoverReversed, CrossoverStraight},
}

// CrossoverFor returns the pattern used by the given drop-in round (1 = L2, 2 = L4, ...).
func CrossoverFor(fieldSize, dropIn int) CrossoverPattern {
	if patterns, ok := crossoverTable[fieldSize]; ok && dropIn >= 1 && dropIn <= len(patterns) {
		return patterns[dropIn-1]
	}
	if dropIn%2 == 1 {
		return CrossoverReversed
	}
	return CrossoverSwappedHalves
}

// Apply maps position p of a round with m matches.
func (c CrossoverPattern) Apply(p, m int) int {
	switch c {
	case CrossoverReversed:
		return m - 1 - p
	case CrossoverSwappedHalves:
		if m < 2 {
			return p
		}
		return (p + m/2) % m
	}
	return p
}
