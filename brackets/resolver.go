package brackets

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Dosada05/tournament-engine/models"
)

var (
	ErrCircularDependency = errors.New("circular dependency between matches")
	ErrMissingSourceMatch = errors.New("bracket is missing a source match")
)

// Feeds are the advancement edges leaving one match.
type Feeds struct {
	WinnerTo *models.Feed
	LoserTo  *models.Feed
}

type matchKey struct {
	bracket  models.Bracket
	round    int
	position int
}

type bracketIndex struct {
	byKey     map[matchKey]*models.Match
	roundSize map[models.Bracket]map[int]int
	maxRound  map[models.Bracket]int
}

func indexMatches(matches []*models.Match) bracketIndex {
	idx := bracketIndex{
		byKey:     make(map[matchKey]*models.Match, len(matches)),
		roundSize: make(map[models.Bracket]map[int]int),
		maxRound:  make(map[models.Bracket]int),
	}
	for _, m := range matches {
		idx.byKey[matchKey{m.Bracket, m.Round, m.Position}] = m
		if idx.roundSize[m.Bracket] == nil {
			idx.roundSize[m.Bracket] = make(map[int]int)
		}
		idx.roundSize[m.Bracket][m.Round]++
		if m.Round > idx.maxRound[m.Bracket] {
			idx.maxRound[m.Bracket] = m.Round
		}
	}
	return idx
}

func (idx bracketIndex) lookup(bracket models.Bracket, round, position int) (int, error) {
	m, ok := idx.byKey[matchKey{bracket, round, position}]
	if !ok {
		return 0, fmt.Errorf("%w: bracket=%q round=%d position=%d", ErrMissingSourceMatch, bracket, round, position)
	}
	return m.ID, nil
}

func (idx bracketIndex) pair(bracket models.Bracket, round, p int) ([]int, error) {
	a, err := idx.lookup(bracket, round, 2*p)
	if err != nil {
		return nil, err
	}
	b, err := idx.lookup(bracket, round, 2*p+1)
	if err != nil {
		return nil, err
	}
	return []int{a, b}, nil
}

func (idx bracketIndex) feed(bracket models.Bracket, round, position int, slot models.Slot) (*models.Feed, error) {
	id, err := idx.lookup(bracket, round, position)
	if err != nil {
		return nil, err
	}
	return &models.Feed{MatchID: id, Slot: slot}, nil
}

// fieldSize is the number of players entering the winners bracket.
func (idx bracketIndex) fieldSize() int {
	return 2 * idx.roundSize[models.BracketWinners][1]
}

func slotFor(position int) models.Slot {
	if position%2 == 0 {
		return models.SlotA
	}
	return models.SlotB
}

// ComputeDependencies returns, for every match, the IDs of the matches that must
// complete before it can be played.
func ComputeDependencies(format models.Format, matches []*models.Match) (map[int][]int, error) {
	idx := indexMatches(matches)
	deps := make(map[int][]int, len(matches))

	var err error
	switch format {
	case models.FormatSingleElim, models.FormatModifiedSingleElim:
		err = singleEliminationDependencies(idx, matches, deps)
	case models.FormatDoubleElim:
		err = doubleEliminationDependencies(idx, matches, deps)
	case models.FormatRoundRobin, models.FormatChip:
		for _, m := range matches {
			deps[m.ID] = []int{}
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", models.ErrInvalidConfig, format)
	}
	if err != nil {
		return nil, err
	}
	if err = CheckAcyclic(deps); err != nil {
		return nil, err
	}
	return deps, nil
}

func singleEliminationDependencies(idx bracketIndex, matches []*models.Match, deps map[int][]int) error {
	for _, m := range matches {
		if m.Round == 1 {
			deps[m.ID] = []int{}
			continue
		}
		src, err := idx.pair(m.Bracket, m.Round-1, m.Position)
		if err != nil {
			return err
		}
		deps[m.ID] = src
	}
	return nil
}

func doubleEliminationDependencies(idx bracketIndex, matches []*models.Match, deps map[int][]int) error {
	fieldSize := idx.fieldSize()
	for _, m := range matches {
		var (
			src []int
			err error
		)
		switch {
		case m.Bracket == models.BracketWinners && m.Round == 1:
			src = []int{}
		case m.Bracket == models.BracketWinners:
			src, err = idx.pair(models.BracketWinners, m.Round-1, m.Position)
		case m.Bracket == models.BracketLosers && m.Round == 1:
			src, err = idx.pair(models.BracketWinners, 1, m.Position)
		case m.Bracket == models.BracketLosers && m.Round%2 == 1:
			src, err = idx.pair(models.BracketLosers, m.Round-1, m.Position)
		case m.Bracket == models.BracketLosers:
			src, err = dropInSources(idx, fieldSize, m)
		default:
			src, err = grandFinalSources(idx)
		}
		if err != nil {
			return err
		}
		deps[m.ID] = src
	}
	return nil
}

// dropInSources: even losers round r takes the winner of L(r-1) at the same
// position and the loser of W(r/2+1) at the crossed-over position.
func dropInSources(idx bracketIndex, fieldSize int, m *models.Match) ([]int, error) {
	survivor, err := idx.lookup(models.BracketLosers, m.Round-1, m.Position)
	if err != nil {
		return nil, err
	}
	winnersRound := m.Round/2 + 1
	size := idx.roundSize[models.BracketWinners][winnersRound]
	q := CrossoverFor(fieldSize, m.Round/2).Apply(m.Position, size)
	dropped, err := idx.lookup(models.BracketWinners, winnersRound, q)
	if err != nil {
		return nil, err
	}
	return []int{survivor, dropped}, nil
}

func grandFinalSources(idx bracketIndex) ([]int, error) {
	wf, err := idx.lookup(models.BracketWinners, idx.maxRound[models.BracketWinners], 0)
	if err != nil {
		return nil, err
	}
	lf, err := idx.lookup(models.BracketLosers, idx.maxRound[models.BracketLosers], 0)
	if err != nil {
		return nil, err
	}
	return []int{wf, lf}, nil
}

// ComputeFeeds returns where the winner and the loser of each match go next.
// Matches without an onward edge are absent from the result.
func ComputeFeeds(format models.Format, matches []*models.Match) (map[int]Feeds, error) {
	idx := indexMatches(matches)
	feeds := make(map[int]Feeds)

	switch format {
	case models.FormatSingleElim, models.FormatModifiedSingleElim:
		final := idx.maxRound[models.BracketNone]
		for _, m := range matches {
			if m.Round == final {
				continue
			}
			to, err := idx.feed(m.Bracket, m.Round+1, m.Position/2, slotFor(m.Position))
			if err != nil {
				return nil, err
			}
			feeds[m.ID] = Feeds{WinnerTo: to}
		}
	case models.FormatDoubleElim:
		for _, m := range matches {
			f, err := doubleEliminationFeeds(idx, m)
			if err != nil {
				return nil, err
			}
			if f.WinnerTo != nil || f.LoserTo != nil {
				feeds[m.ID] = f
			}
		}
	case models.FormatRoundRobin, models.FormatChip:
	default:
		return nil, fmt.Errorf("%w: unknown format %q", models.ErrInvalidConfig, format)
	}
	return feeds, nil
}

func doubleEliminationFeeds(idx bracketIndex, m *models.Match) (Feeds, error) {
	var (
		f   Feeds
		err error
	)
	winnersFinal := idx.maxRound[models.BracketWinners]
	losersFinal := idx.maxRound[models.BracketLosers]
	grandFinal := idx.maxRound[models.BracketNone]

	switch m.Bracket {
	case models.BracketWinners:
		if m.Round == winnersFinal {
			f.WinnerTo, err = idx.feed(models.BracketNone, grandFinal, 0, models.SlotA)
		} else {
			f.WinnerTo, err = idx.feed(models.BracketWinners, m.Round+1, m.Position/2, slotFor(m.Position))
		}
		if err != nil {
			return f, err
		}
		if m.Round == 1 {
			f.LoserTo, err = idx.feed(models.BracketLosers, 1, m.Position/2, slotFor(m.Position))
		} else {
			dropRound := 2 * (m.Round - 1)
			size := idx.roundSize[models.BracketWinners][m.Round]
			p := CrossoverFor(idx.fieldSize(), m.Round-1).Apply(m.Position, size)
			f.LoserTo, err = idx.feed(models.BracketLosers, dropRound, p, models.SlotB)
		}
	case models.BracketLosers:
		switch {
		case m.Round == losersFinal:
			f.WinnerTo, err = idx.feed(models.BracketNone, grandFinal, 0, models.SlotB)
		case m.Round%2 == 1:
			f.WinnerTo, err = idx.feed(models.BracketLosers, m.Round+1, m.Position, models.SlotA)
		default:
			f.WinnerTo, err = idx.feed(models.BracketLosers, m.Round+1, m.Position/2, slotFor(m.Position))
		}
	}
	return f, err
}

// ComputeLinks combines dependencies and feeds into the records written by the
// second generation pass.
func ComputeLinks(format models.Format, matches []*models.Match) (map[int]models.MatchLinks, error) {
	deps, err := ComputeDependencies(format, matches)
	if err != nil {
		return nil, err
	}
	feeds, err := ComputeFeeds(format, matches)
	if err != nil {
		return nil, err
	}
	links := make(map[int]models.MatchLinks, len(matches))
	for _, m := range matches {
		f := feeds[m.ID]
		links[m.ID] = models.MatchLinks{Dependencies: deps[m.ID], WinnerTo: f.WinnerTo, LoserTo: f.LoserTo}
	}
	return links, nil
}

// Eligible reports whether a match can be played: every dependency completed
// and both players known.
func Eligible(m *models.Match, deps []*models.Match) bool {
	if !m.HasBothPlayers() {
		return false
	}
	for _, d := range deps {
		if d.State != models.MatchStateCompleted {
			return false
		}
	}
	return true
}

// CheckAcyclic rejects dependency sets that contain a cycle.
func CheckAcyclic(deps map[int][]int) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[int]int, len(deps))

	ids := make([]int, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var visit func(id int) error
	visit = func(id int) error {
		switch state[id] {
		case inProgress:
			return fmt.Errorf("%w: match %d", ErrCircularDependency, id)
		case done:
			return nil
		}
		state[id] = inProgress
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// DependentsIndex maps a match to the matches that depend on it directly.
type DependentsIndex map[int][]int

func NewDependentsIndex(matches []*models.Match) DependentsIndex {
	idx := make(DependentsIndex)
	for _, m := range matches {
		for _, dep := range m.Dependencies {
			idx[dep] = append(idx[dep], m.ID)
		}
	}
	for id := range idx {
		sort.Ints(idx[id])
	}
	return idx
}

func (d DependentsIndex) Of(matchID int) []int {
	return d[matchID]
}
