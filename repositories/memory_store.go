package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/tournament-engine/models"
)

// MemoryStore is a versioned in-process backend. Each collection has its own lock;
// operations that span tables and matches take the table lock first.
type MemoryStore struct {
	now func() time.Time

	tournamentsMu sync.RWMutex
	tournaments   map[int]*models.Tournament
	tournamentSeq int

	matchesMu sync.RWMutex
	matches   map[int]*models.Match
	linked    map[int]bool
	matchSeq  int

	tablesMu sync.RWMutex
	tables   map[int]*models.Table
	tableSeq int

	playersMu sync.RWMutex
	players   map[int]*models.Player
	playerSeq int

	updatesMu sync.RWMutex
	updates   map[int][]*models.ScoreUpdate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		tournaments: make(map[int]*models.Tournament),
		matches:     make(map[int]*models.Match),
		linked:      make(map[int]bool),
		tables:      make(map[int]*models.Table),
		players:     make(map[int]*models.Player),
		updates:     make(map[int][]*models.ScoreUpdate),
	}
}

func (s *MemoryStore) Tournaments() TournamentRepository   { return (*memoryTournaments)(s) }
func (s *MemoryStore) Matches() MatchRepository            { return (*memoryMatches)(s) }
func (s *MemoryStore) Tables() TableRepository             { return (*memoryTables)(s) }
func (s *MemoryStore) Assignments() AssignmentRepository   { return (*memoryAssignments)(s) }
func (s *MemoryStore) Players() PlayerRepository           { return (*memoryPlayers)(s) }
func (s *MemoryStore) ScoreUpdates() ScoreUpdateRepository { return (*memoryScoreUpdates)(s) }

// --- tournaments ---

type memoryTournaments MemoryStore

func (r *memoryTournaments) Create(_ context.Context, t *models.Tournament) error {
	r.tournamentsMu.Lock()
	defer r.tournamentsMu.Unlock()
	r.tournamentSeq++
	t.ID = r.tournamentSeq
	t.CreatedAt = r.now()
	c := *t
	r.tournaments[t.ID] = &c
	return nil
}

func (r *memoryTournaments) GetByID(_ context.Context, id int) (*models.Tournament, error) {
	r.tournamentsMu.RLock()
	defer r.tournamentsMu.RUnlock()
	t, ok := r.tournaments[id]
	if !ok {
		return nil, ErrTournamentNotFound
	}
	c := *t
	return &c, nil
}

func (r *memoryTournaments) Update(_ context.Context, t *models.Tournament) error {
	r.tournamentsMu.Lock()
	defer r.tournamentsMu.Unlock()
	stored, ok := r.tournaments[t.ID]
	if !ok {
		return ErrTournamentNotFound
	}
	c := *t
	c.CreatedAt = stored.CreatedAt
	r.tournaments[t.ID] = &c
	return nil
}

func (r *memoryTournaments) List(_ context.Context) ([]*models.Tournament, error) {
	r.tournamentsMu.RLock()
	defer r.tournamentsMu.RUnlock()
	out := make([]*models.Tournament, 0, len(r.tournaments))
	for _, t := range r.tournaments {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- matches ---

type memoryMatches MemoryStore

func (r *memoryMatches) CreateBatch(_ context.Context, matches []*models.Match) error {
	r.matchesMu.Lock()
	defer r.matchesMu.Unlock()

	type positionKey struct {
		tournamentID int
		bracket      models.Bracket
		round        int
		position     int
	}
	taken := make(map[positionKey]bool, len(r.matches)+len(matches))
	for _, m := range r.matches {
		taken[positionKey{m.TournamentID, m.Bracket, m.Round, m.Position}] = true
	}
	for _, m := range matches {
		k := positionKey{m.TournamentID, m.Bracket, m.Round, m.Position}
		if taken[k] {
			return ErrMatchPositionConflict
		}
		taken[k] = true
	}

	now := r.now()
	for _, m := range matches {
		r.matchSeq++
		m.ID = r.matchSeq
		m.Rev = 0
		m.CreatedAt = now
		r.matches[m.ID] = m.Clone()
	}
	return nil
}

func (r *memoryMatches) SetLinks(_ context.Context, links map[int]models.MatchLinks) error {
	r.matchesMu.Lock()
	defer r.matchesMu.Unlock()

	for id := range links {
		if _, ok := r.matches[id]; !ok {
			return ErrMatchNotFound
		}
		if r.linked[id] {
			return ErrMatchLinksImmutable
		}
	}
	for id, l := range links {
		m := r.matches[id]
		m.Dependencies = append([]int{}, l.Dependencies...)
		m.WinnerTo, m.LoserTo = nil, nil
		if l.WinnerTo != nil {
			f := *l.WinnerTo
			m.WinnerTo = &f
		}
		if l.LoserTo != nil {
			f := *l.LoserTo
			m.LoserTo = &f
		}
		r.linked[id] = true
	}
	return nil
}

func (r *memoryMatches) GetByID(_ context.Context, id int) (*models.Match, error) {
	r.matchesMu.RLock()
	defer r.matchesMu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (r *memoryMatches) ListByIDs(_ context.Context, ids []int) ([]*models.Match, error) {
	r.matchesMu.RLock()
	defer r.matchesMu.RUnlock()
	out := make([]*models.Match, 0, len(ids))
	for _, id := range ids {
		if m, ok := r.matches[id]; ok {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryMatches) ListByTournament(_ context.Context, tournamentID int, filter MatchFilter) ([]*models.Match, error) {
	r.matchesMu.RLock()
	defer r.matchesMu.RUnlock()
	out := make([]*models.Match, 0)
	for _, m := range r.matches {
		if m.TournamentID == tournamentID && filter.matches(m) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryMatches) CompareAndSwap(_ context.Context, m *models.Match, expectedRev int64) error {
	r.matchesMu.Lock()
	defer r.matchesMu.Unlock()
	return r.casLocked(m, expectedRev)
}

func (r *memoryMatches) casLocked(m *models.Match, expectedRev int64) error {
	stored, ok := r.matches[m.ID]
	if !ok {
		return ErrMatchNotFound
	}
	if stored.Rev != expectedRev {
		return ErrMatchRevisionConflict
	}
	next := stored.Clone()
	next.State = m.State
	next.PlayerA = m.PlayerA
	next.PlayerB = m.PlayerB
	next.WinnerID = m.WinnerID
	next.TableID = m.TableID
	next.Score = m.Score
	next.UndoStack = m.UndoStack
	next.Walkover = m.Walkover
	next.StartedAt = m.StartedAt
	next.CompletedAt = m.CompletedAt
	next.Rev = expectedRev + 1
	r.matches[m.ID] = next.Clone()
	m.Rev = next.Rev
	return nil
}

// --- tables ---

type memoryTables MemoryStore

func (r *memoryTables) Create(_ context.Context, t *models.Table) error {
	r.tablesMu.Lock()
	defer r.tablesMu.Unlock()
	for _, existing := range r.tables {
		if existing.TournamentID == t.TournamentID && existing.Label == t.Label {
			return ErrTableLabelConflict
		}
	}
	r.tableSeq++
	t.ID = r.tableSeq
	t.Version = 0
	t.CreatedAt = r.now()
	r.tables[t.ID] = t.Clone()
	return nil
}

func (r *memoryTables) GetByID(_ context.Context, id int) (*models.Table, error) {
	r.tablesMu.RLock()
	defer r.tablesMu.RUnlock()
	t, ok := r.tables[id]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t.Clone(), nil
}

func (r *memoryTables) ListByTournament(_ context.Context, tournamentID int) ([]*models.Table, error) {
	r.tablesMu.RLock()
	defer r.tablesMu.RUnlock()
	out := make([]*models.Table, 0)
	for _, t := range r.tables {
		if t.TournamentID == tournamentID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memoryTables) CompareAndSwap(_ context.Context, t *models.Table, expectedVersion int64) error {
	r.tablesMu.Lock()
	defer r.tablesMu.Unlock()
	return r.casLocked(t, expectedVersion)
}

func (r *memoryTables) casLocked(t *models.Table, expectedVersion int64) error {
	stored, ok := r.tables[t.ID]
	if !ok {
		return ErrTableNotFound
	}
	if stored.Version != expectedVersion {
		return ErrTableVersionConflict
	}
	next := stored.Clone()
	next.Status = t.Status
	next.BlockedUntil = t.BlockedUntil
	next.CurrentMatchID = t.CurrentMatchID
	next.Version = expectedVersion + 1
	r.tables[t.ID] = next.Clone()
	t.Version = next.Version
	return nil
}

func (r *memoryTables) Delete(_ context.Context, id int) error {
	r.tablesMu.Lock()
	defer r.tablesMu.Unlock()
	t, ok := r.tables[id]
	if !ok {
		return ErrTableNotFound
	}
	if t.Status == models.TableStatusInUse {
		return ErrTableInUse
	}
	delete(r.tables, id)
	return nil
}

// --- assignments ---

type memoryAssignments MemoryStore

func (r *memoryAssignments) Assign(_ context.Context, p AssignParams) (*models.Match, *models.Table, error) {
	r.tablesMu.Lock()
	defer r.tablesMu.Unlock()
	r.matchesMu.Lock()
	defer r.matchesMu.Unlock()

	table, ok := r.tables[p.TableID]
	if !ok {
		return nil, nil, ErrTableNotFound
	}
	if !table.IsAssignable(p.Now) {
		return nil, nil, ErrTableNotAssignable
	}
	match, ok := r.matches[p.MatchID]
	if !ok {
		return nil, nil, ErrMatchNotFound
	}
	if match.Rev != p.ExpectedRev {
		return nil, nil, ErrMatchRevisionConflict
	}
	if match.State != models.MatchStateReady || !match.HasBothPlayers() {
		return nil, nil, ErrMatchNotReady
	}
	for _, other := range r.matches {
		if other.ID == match.ID || other.TournamentID != match.TournamentID {
			continue
		}
		if other.State != models.MatchStateAssigned && other.State != models.MatchStateActive {
			continue
		}
		if sharesPlayer(match, other) {
			return nil, nil, ErrPlayerBusy
		}
	}

	nextMatch := match.Clone()
	nextMatch.State = models.MatchStateAssigned
	nextMatch.TableID = models.IntPtr(table.ID)
	if err := (*memoryMatches)(r).casLocked(nextMatch, p.ExpectedRev); err != nil {
		return nil, nil, err
	}
	nextTable := table.Clone()
	nextTable.Status = models.TableStatusInUse
	nextTable.CurrentMatchID = models.IntPtr(match.ID)
	if err := (*memoryTables)(r).casLocked(nextTable, table.Version); err != nil {
		return nil, nil, err
	}
	return r.matches[match.ID].Clone(), r.tables[table.ID].Clone(), nil
}

func (r *memoryAssignments) Release(_ context.Context, tableID int) (*models.Table, *models.Match, error) {
	r.tablesMu.Lock()
	defer r.tablesMu.Unlock()
	r.matchesMu.Lock()
	defer r.matchesMu.Unlock()

	table, ok := r.tables[tableID]
	if !ok {
		return nil, nil, ErrTableNotFound
	}
	if table.Status != models.TableStatusInUse || table.CurrentMatchID == nil {
		return nil, nil, ErrTableNotInUse
	}

	var released *models.Match
	if current, ok := r.matches[*table.CurrentMatchID]; ok && current.TableID != nil && *current.TableID == table.ID {
		switch current.State {
		case models.MatchStateActive:
			return nil, nil, ErrMatchInProgress
		case models.MatchStateAssigned:
			next := current.Clone()
			next.State = models.MatchStateReady
			next.TableID = nil
			if err := (*memoryMatches)(r).casLocked(next, current.Rev); err != nil {
				return nil, nil, err
			}
			released = r.matches[current.ID].Clone()
		}
	}

	next := table.Clone()
	next.Status = models.TableStatusAvailable
	next.CurrentMatchID = nil
	if err := (*memoryTables)(r).casLocked(next, table.Version); err != nil {
		return nil, nil, err
	}
	return r.tables[tableID].Clone(), released, nil
}

func sharesPlayer(a, b *models.Match) bool {
	for _, x := range a.Players() {
		for _, y := range b.Players() {
			if x == y {
				return true
			}
		}
	}
	return false
}

// --- players ---

type memoryPlayers MemoryStore

func (r *memoryPlayers) Create(_ context.Context, p *models.Player) error {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	r.playerSeq++
	p.ID = r.playerSeq
	p.Version = 0
	p.CreatedAt = r.now()
	if p.ChipHistory == nil {
		p.ChipHistory = []models.ChipEntry{}
	}
	r.players[p.ID] = p.Clone()
	return nil
}

func (r *memoryPlayers) GetByID(_ context.Context, id int) (*models.Player, error) {
	r.playersMu.RLock()
	defer r.playersMu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return p.Clone(), nil
}

func (r *memoryPlayers) ListByTournament(_ context.Context, tournamentID int) ([]*models.Player, error) {
	r.playersMu.RLock()
	defer r.playersMu.RUnlock()
	out := make([]*models.Player, 0)
	for _, p := range r.players {
		if p.TournamentID == tournamentID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryPlayers) CompareAndSwap(_ context.Context, p *models.Player, expectedVersion int64) error {
	r.playersMu.Lock()
	defer r.playersMu.Unlock()
	stored, ok := r.players[p.ID]
	if !ok {
		return ErrPlayerNotFound
	}
	if stored.Version != expectedVersion {
		return ErrPlayerVersionConflict
	}
	next := p.Clone()
	next.TournamentID = stored.TournamentID
	next.Name = stored.Name
	next.CreatedAt = stored.CreatedAt
	next.Version = expectedVersion + 1
	r.players[p.ID] = next
	p.Version = next.Version
	return nil
}

// --- score updates ---

type memoryScoreUpdates MemoryStore

func (r *memoryScoreUpdates) Append(_ context.Context, u *models.ScoreUpdate) error {
	r.updatesMu.Lock()
	defer r.updatesMu.Unlock()
	c := *u
	r.updates[u.MatchID] = append(r.updates[u.MatchID], &c)
	return nil
}

func (r *memoryScoreUpdates) ListByMatch(_ context.Context, matchID int) ([]*models.ScoreUpdate, error) {
	r.updatesMu.RLock()
	defer r.updatesMu.RUnlock()
	entries := r.updates[matchID]
	out := make([]*models.ScoreUpdate, len(entries))
	for i, u := range entries {
		c := *u
		out[i] = &c
	}
	return out, nil
}

func (r *memoryScoreUpdates) MarkUndone(_ context.Context, id string) error {
	r.updatesMu.Lock()
	defer r.updatesMu.Unlock()
	for _, entries := range r.updates {
		for _, u := range entries {
			if u.ID == id {
				u.Undone = true
				return nil
			}
		}
	}
	return ErrScoreUpdateNotFound
}
