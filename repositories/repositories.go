package repositories

import "database/sql"

// Repositories bundles every store the engine talks to.
type Repositories struct {
	Tournaments  TournamentRepository
	Matches      MatchRepository
	Tables       TableRepository
	Assignments  AssignmentRepository
	Players      PlayerRepository
	ScoreUpdates ScoreUpdateRepository
}

func NewPostgresRepositories(db *sql.DB) Repositories {
	return Repositories{
		Tournaments:  NewPostgresTournamentRepository(db),
		Matches:      NewPostgresMatchRepository(db),
		Tables:       NewPostgresTableRepository(db),
		Assignments:  NewPostgresAssignmentRepository(db),
		Players:      NewPostgresPlayerRepository(db),
		ScoreUpdates: NewPostgresScoreUpdateRepository(db),
	}
}

func NewMemoryRepositories() Repositories {
	s := NewMemoryStore()
	return Repositories{
		Tournaments:  s.Tournaments(),
		Matches:      s.Matches(),
		Tables:       s.Tables(),
		Assignments:  s.Assignments(),
		Players:      s.Players(),
		ScoreUpdates: s.ScoreUpdates(),
	}
}
