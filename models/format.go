package models

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Format is the closed set of tournament formats the engine schedules.
type Format string

const (
	FormatSingleElim         Format = "single_elim"
	FormatModifiedSingleElim Format = "modified_single_elim"
	FormatDoubleElim         Format = "double_elim"
	FormatRoundRobin         Format = "round_robin"
	FormatChip               Format = "chip_format"
)

func (f Format) Valid() bool {
	switch f {
	case FormatSingleElim, FormatModifiedSingleElim, FormatDoubleElim, FormatRoundRobin, FormatChip:
		return true
	}
	return false
}

// HasBracketOrder reports whether matches are gated by a dependency graph.
func (f Format) HasBracketOrder() bool {
	return f == FormatSingleElim || f == FormatModifiedSingleElim || f == FormatDoubleElim
}

type BracketConfig struct {
	Format Format `json:"format"`
	RaceTo int    `json:"race_to"`
	// Legs is only read for round robin: 1 for single, 2 for double round robin.
	Legs int `json:"legs,omitempty"`
}

func (c BracketConfig) Validate() error {
	if !c.Format.Valid() {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidConfig, c.Format)
	}
	if c.RaceTo < 1 {
		return fmt.Errorf("%w: race_to must be at least 1, got %d", ErrInvalidConfig, c.RaceTo)
	}
	if c.Format == FormatRoundRobin && (c.Legs < 0 || c.Legs > 2) {
		return fmt.Errorf("%w: legs must be 1 or 2, got %d", ErrInvalidConfig, c.Legs)
	}
	return nil
}

type ChipConfig struct {
	WinnerChips int `json:"winner_chips"`
	LoserChips  int `json:"loser_chips"`
}

func (c ChipConfig) Validate() error {
	if c.WinnerChips < 0 || c.LoserChips < 0 {
		return fmt.Errorf("%w: chip awards must not be negative (winner=%d, loser=%d)", ErrInvalidConfig, c.WinnerChips, c.LoserChips)
	}
	if c.LoserChips > c.WinnerChips {
		return fmt.Errorf("%w: loser chips (%d) exceed winner chips (%d)", ErrInvalidConfig, c.LoserChips, c.WinnerChips)
	}
	return nil
}

type Tiebreaker string

const (
	TiebreakerHeadToHead Tiebreaker = "head_to_head"
	TiebreakerRating     Tiebreaker = "rating"
	TiebreakerRandom     Tiebreaker = "random"
)

type CutoffConfig struct {
	FinalsCount int        `json:"finals_count"`
	Tiebreaker  Tiebreaker `json:"tiebreaker"`
	// Seed drives the random tiebreaker so that a cutoff can be reproduced.
	Seed int64 `json:"seed"`
}

func (c CutoffConfig) Validate() error {
	if c.FinalsCount < 1 {
		return fmt.Errorf("%w: finals_count must be at least 1, got %d", ErrInvalidConfig, c.FinalsCount)
	}
	switch c.Tiebreaker {
	case TiebreakerHeadToHead, TiebreakerRating, TiebreakerRandom:
		return nil
	}
	return fmt.Errorf("%w: unknown tiebreaker %q", ErrInvalidConfig, c.Tiebreaker)
}
