package models

import "time"

type MatchState string

const (
	MatchStatePending   MatchState = "pending"
	MatchStateReady     MatchState = "ready"
	MatchStateAssigned  MatchState = "assigned"
	MatchStateActive    MatchState = "active"
	MatchStateCompleted MatchState = "completed"
)

func (s MatchState) Valid() bool {
	switch s {
	case MatchStatePending, MatchStateReady, MatchStateAssigned, MatchStateActive, MatchStateCompleted:
		return true
	}
	return false
}

// Bracket identifies the sub-bracket a match belongs to. Empty means no sub-bracket
// (single elimination, round robin, chip matches and the double-elimination grand final).
type Bracket string

const (
	BracketNone    Bracket = ""
	BracketWinners Bracket = "winners"
	BracketLosers  Bracket = "losers"
)

// Slot is the side of a match a player occupies (1 or 2).
type Slot int

const (
	SlotA Slot = 1
	SlotB Slot = 2
)

// Feed is an advancement edge: the result of one match populates a slot of another.
type Feed struct {
	MatchID int  `json:"match_id"`
	Slot    Slot `json:"slot"`
}

// MatchLinks are written once, in the second pass of bracket generation.
type MatchLinks struct {
	Dependencies []int `json:"dependencies"`
	WinnerTo     *Feed `json:"winner_to,omitempty"`
	LoserTo      *Feed `json:"loser_to,omitempty"`
}

type Score struct {
	A                 int  `json:"a"`
	B                 int  `json:"b"`
	HillHillConfirmed bool `json:"hill_hill_confirmed"`
}

// UndoStack is the undo state of a match. It is stored with the score and
// changes in the same compare-and-swap.
type UndoStack struct {
	// Points holds the side credited by each standing point, oldest first.
	Points []Slot `json:"points"`
	// Undos counts the undos since the last increment.
	Undos int `json:"consecutive_undos"`
}

// Push records a point for slot and ends any run of undos.
func (u *UndoStack) Push(slot Slot) {
	u.Points = append(u.Points, slot)
	u.Undos = 0
}

// Pop removes the most recent point and counts the undo.
func (u *UndoStack) Pop() (Slot, bool) {
	if len(u.Points) == 0 {
		return 0, false
	}
	last := u.Points[len(u.Points)-1]
	u.Points = u.Points[:len(u.Points)-1]
	u.Undos++
	return last, true
}

type Match struct {
	ID           int        `json:"id" db:"id"`
	TournamentID int        `json:"tournament_id" db:"tournament_id"`
	Bracket      Bracket    `json:"bracket,omitempty" db:"bracket"`
	Round        int        `json:"round" db:"round"`
	Position     int        `json:"position" db:"position"`
	State        MatchState `json:"state" db:"state"`
	PlayerA      *int       `json:"player_a,omitempty" db:"player_a"`
	PlayerB      *int       `json:"player_b,omitempty" db:"player_b"`
	WinnerID     *int       `json:"winner_id,omitempty" db:"winner_id"`
	TableID      *int       `json:"table_id,omitempty" db:"table_id"`
	Score        Score      `json:"score" db:"-"`
	UndoStack    UndoStack  `json:"undo_stack" db:"-"`
	RaceTo       int        `json:"race_to" db:"race_to"`
	Walkover     bool       `json:"walkover" db:"walkover"`
	Rev          int64      `json:"rev" db:"rev"`

	Dependencies []int `json:"dependencies" db:"dependencies"`
	WinnerTo     *Feed `json:"winner_to,omitempty" db:"-"`
	LoserTo      *Feed `json:"loser_to,omitempty" db:"-"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a deep copy so callers can mutate a candidate before a compare-and-swap.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.PlayerA = cloneInt(m.PlayerA)
	c.PlayerB = cloneInt(m.PlayerB)
	c.WinnerID = cloneInt(m.WinnerID)
	c.TableID = cloneInt(m.TableID)
	if m.UndoStack.Points != nil {
		c.UndoStack.Points = append([]Slot(nil), m.UndoStack.Points...)
	}
	if m.Dependencies != nil {
		c.Dependencies = append([]int(nil), m.Dependencies...)
	}
	if m.WinnerTo != nil {
		f := *m.WinnerTo
		c.WinnerTo = &f
	}
	if m.LoserTo != nil {
		f := *m.LoserTo
		c.LoserTo = &f
	}
	c.StartedAt = cloneTime(m.StartedAt)
	c.CompletedAt = cloneTime(m.CompletedAt)
	return &c
}

func (m *Match) HasBothPlayers() bool {
	return m.PlayerA != nil && m.PlayerB != nil
}

// Players returns the populated player IDs of the match.
func (m *Match) Players() []int {
	ids := make([]int, 0, 2)
	if m.PlayerA != nil {
		ids = append(ids, *m.PlayerA)
	}
	if m.PlayerB != nil {
		ids = append(ids, *m.PlayerB)
	}
	return ids
}

// LoserID is only meaningful for completed matches that were not walkovers.
func (m *Match) LoserID() *int {
	if m.WinnerID == nil || !m.HasBothPlayers() {
		return nil
	}
	if *m.PlayerA == *m.WinnerID {
		return cloneInt(m.PlayerB)
	}
	return cloneInt(m.PlayerA)
}

// PlayerInSlot returns the player occupying the given slot.
func (m *Match) PlayerInSlot(slot Slot) *int {
	if slot == SlotA {
		return m.PlayerA
	}
	return m.PlayerB
}

// SetPlayer places a player in the given slot.
func (m *Match) SetPlayer(slot Slot, playerID int) {
	id := playerID
	if slot == SlotA {
		m.PlayerA = &id
	} else {
		m.PlayerB = &id
	}
}

// Links returns the generation-time edges of the match.
func (m *Match) Links() MatchLinks {
	return MatchLinks{Dependencies: m.Dependencies, WinnerTo: m.WinnerTo, LoserTo: m.LoserTo}
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func IntPtr(v int) *int { return &v }
