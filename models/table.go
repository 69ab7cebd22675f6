package models

import "time"

type TableStatus string

const (
	TableStatusAvailable   TableStatus = "available"
	TableStatusInUse       TableStatus = "in_use"
	TableStatusMaintenance TableStatus = "maintenance"
)

type Table struct {
	ID             int         `json:"id" db:"id"`
	TournamentID   int         `json:"tournament_id" db:"tournament_id"`
	Label          string      `json:"label" db:"label"`
	Status         TableStatus `json:"status" db:"status"`
	BlockedUntil   *time.Time  `json:"blocked_until,omitempty" db:"blocked_until"`
	CurrentMatchID *int        `json:"current_match_id,omitempty" db:"current_match_id"`
	Version        int64       `json:"version" db:"version"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// IsBlocked reports whether a block window is still open at now. Expired blocks are ignored.
func (t *Table) IsBlocked(now time.Time) bool {
	return t.BlockedUntil != nil && t.BlockedUntil.After(now)
}

// IsAssignable reports whether the table can take a match at now.
func (t *Table) IsAssignable(now time.Time) bool {
	return t.Status == TableStatusAvailable && t.CurrentMatchID == nil && !t.IsBlocked(now)
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	c := *t
	c.BlockedUntil = cloneTime(t.BlockedUntil)
	c.CurrentMatchID = cloneInt(t.CurrentMatchID)
	return &c
}
