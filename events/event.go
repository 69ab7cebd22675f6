package events

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	BracketGenerated Type = "bracket.generated"
	MatchReady       Type = "match.ready"
	MatchAssigned    Type = "match.assigned"
	MatchStarted     Type = "match.started"
	ScoreUpdated     Type = "score.updated"
	MatchCompleted   Type = "match.completed"
	TableReleased    Type = "table.released"
	TableUpdated     Type = "table.updated"
	ChipsAwarded     Type = "chips.awarded"
	FinalsSelected   Type = "finals.selected"
	MatchReminder    Type = "match.reminder"
)

// Event is the envelope pushed to live clients and the message bus.
type Event struct {
	ID           string      `json:"id"`
	Type         Type        `json:"type"`
	TournamentID int         `json:"tournament_id"`
	MatchID      int         `json:"match_id,omitempty"`
	PlayerID     int         `json:"player_id,omitempty"`
	Payload      interface{} `json:"payload,omitempty"`
	OccurredAt   time.Time   `json:"occurred_at"`
}

func New(t Type, tournamentID int, payload interface{}) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		TournamentID: tournamentID,
		Payload:      payload,
		OccurredAt:   time.Now().UTC(),
	}
}

func (e Event) WithMatch(matchID int) Event {
	e.MatchID = matchID
	return e
}

func (e Event) WithPlayer(playerID int) Event {
	e.PlayerID = playerID
	return e
}

// Subject is the bus subject of the event under prefix, e.g. "tournament.7.match.completed".
func (e Event) Subject(prefix string) string {
	return prefix + "." + strconv.Itoa(e.TournamentID) + "." + string(e.Type)
}

// Room is the websocket room that receives the event.
func (e Event) Room() string {
	return RoomForTournament(e.TournamentID)
}

func RoomForTournament(tournamentID int) string {
	return "tournament_" + strconv.Itoa(tournamentID)
}
