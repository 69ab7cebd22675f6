package models

import "time"

type ScoreAction string

const (
	ScoreActionIncrementA ScoreAction = "increment_a"
	ScoreActionIncrementB ScoreAction = "increment_b"
	ScoreActionUndo       ScoreAction = "undo"
)

func (a ScoreAction) IsIncrement() bool {
	return a == ScoreActionIncrementA || a == ScoreActionIncrementB
}

// ScoreUpdate is an audit entry. It is immutable once written except for Undone.
type ScoreUpdate struct {
	ID        string      `json:"id" db:"id"`
	MatchID   int         `json:"match_id" db:"match_id"`
	Action    ScoreAction `json:"action" db:"action"`
	Device    string      `json:"device" db:"device"`
	Actor     string      `json:"actor" db:"actor"`
	Score     Score       `json:"score" db:"-"`
	Rev       int64       `json:"rev" db:"rev"`
	Undone    bool        `json:"undone" db:"undone"`
	UndoesID  string      `json:"undoes_id,omitempty" db:"undoes_id"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}
