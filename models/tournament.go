package models

import "time"

// Tournament holds the scheduling settings the engine needs; everything else about
// a tournament lives with the consumers of the engine.
type Tournament struct {
	ID        int           `json:"id" db:"id"`
	Name      string        `json:"name" db:"name"`
	Bracket   BracketConfig `json:"bracket" db:"-"`
	Chips     ChipConfig    `json:"chips" db:"-"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}
