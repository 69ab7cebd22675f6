package models

import (
	"strconv"
	"strings"
	"time"
)

const (
	matchRefPrefix  = "match:"
	manualRefPrefix = "manual:"
)

// MatchRef builds the chip history key of a real match.
func MatchRef(matchID int) string {
	return matchRefPrefix + strconv.Itoa(matchID)
}

// ManualRef builds the synthetic chip history key of a manual adjustment.
func ManualRef(id string) string {
	return manualRefPrefix + id
}

func IsManualRef(ref string) bool {
	return strings.HasPrefix(ref, manualRefPrefix)
}

type ChipEntry struct {
	MatchRef    string    `json:"match_ref"`
	ChipsEarned int       `json:"chips_earned"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Player is a chip-format participant.
type Player struct {
	ID            int         `json:"id" db:"id"`
	TournamentID  int         `json:"tournament_id" db:"tournament_id"`
	Name          string      `json:"name" db:"name"`
	ChipCount     int         `json:"chip_count" db:"chip_count"`
	MatchesPlayed int         `json:"matches_played" db:"matches_played"`
	ChipHistory   []ChipEntry `json:"chip_history" db:"-"`
	IsFinalist    *bool       `json:"is_finalist,omitempty" db:"is_finalist"`
	Rating        int         `json:"rating" db:"rating"`
	Withdrawn     bool        `json:"withdrawn" db:"withdrawn"`
	Version       int64       `json:"version" db:"version"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// HasEntryFor reports whether the history already holds an entry keyed by ref.
func (p *Player) HasEntryFor(ref string) bool {
	for _, e := range p.ChipHistory {
		if e.MatchRef == ref {
			return true
		}
	}
	return false
}

func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	c := *p
	if p.ChipHistory != nil {
		c.ChipHistory = append([]ChipEntry(nil), p.ChipHistory...)
	}
	if p.IsFinalist != nil {
		v := *p.IsFinalist
		c.IsFinalist = &v
	}
	return &c
}
