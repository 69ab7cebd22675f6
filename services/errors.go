package services

import (
	"errors"
	"fmt"

	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

// Error kinds. Every error returned by a service matches exactly one of them with errors.Is.
var (
	ErrNotFound          = errors.New("requested resource not found")
	ErrConflict          = errors.New("conflict with current state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrValidationFailed  = errors.New("validation failed")
	ErrCapacity          = errors.New("insufficient capacity")
	ErrInternal          = errors.New("internal error")
	// ErrInterrupted is returned when the caller's context ended part way through.
	ErrInterrupted = errors.New("operation interrupted")
)

var (
	ErrMatchNotFound      = fmt.Errorf("%w: match not found", ErrNotFound)
	ErrTableNotFound      = fmt.Errorf("%w: table not found", ErrNotFound)
	ErrPlayerNotFound     = fmt.Errorf("%w: player not found", ErrNotFound)
	ErrTournamentNotFound = fmt.Errorf("%w: tournament not found", ErrNotFound)

	ErrRevisionConflict    = fmt.Errorf("%w: stale revision", ErrConflict)
	ErrTableLabelTaken     = fmt.Errorf("%w: table label already used in this tournament", ErrConflict)
	ErrTableInUse          = fmt.Errorf("%w: table is in use", ErrConflict)
	ErrTableUnavailable    = fmt.Errorf("%w: table is not available", ErrConflict)
	ErrPlayerBusy          = fmt.Errorf("%w: player already has an assigned or active match", ErrConflict)
	ErrChipsAlreadyAwarded = fmt.Errorf("%w: chips already awarded for this match", ErrConflict)
	ErrBracketExists       = fmt.Errorf("%w: bracket already generated", ErrConflict)

	ErrMatchNotReady     = fmt.Errorf("%w: match is not ready", ErrInvalidTransition)
	ErrMatchNotAssigned  = fmt.Errorf("%w: match is not assigned to a table", ErrInvalidTransition)
	ErrMatchNotActive    = fmt.Errorf("%w: match is not active", ErrInvalidTransition)
	ErrMatchCompleted    = fmt.Errorf("%w: match already completed", ErrInvalidTransition)
	ErrMatchInProgress   = fmt.Errorf("%w: match on this table is in progress", ErrInvalidTransition)
	ErrTableNotInUse     = fmt.Errorf("%w: table is not in use", ErrInvalidTransition)
	ErrTableNotAvailable = fmt.Errorf("%w: table is not available", ErrInvalidTransition)
	ErrTableNotInRepair  = fmt.Errorf("%w: table is not under maintenance", ErrInvalidTransition)
	ErrNothingToUndo     = fmt.Errorf("%w: nothing to undo", ErrInvalidTransition)
	ErrUndoLimitReached  = fmt.Errorf("%w: undo limit reached", ErrInvalidTransition)
	ErrPlayerWithdrawn   = fmt.Errorf("%w: player has withdrawn", ErrInvalidTransition)

	ErrNotEnoughFinalists = fmt.Errorf("%w: not enough eligible players for the finals", ErrCapacity)
)

// mapRepositoryError translates store errors into service error kinds.
// Anything unrecognised is reported as internal.
func mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrMatchNotFound):
		return ErrMatchNotFound
	case errors.Is(err, repositories.ErrTableNotFound):
		return ErrTableNotFound
	case errors.Is(err, repositories.ErrPlayerNotFound):
		return ErrPlayerNotFound
	case errors.Is(err, repositories.ErrTournamentNotFound):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrScoreUpdateNotFound):
		return fmt.Errorf("%w: score update not found", ErrNotFound)
	case errors.Is(err, repositories.ErrMatchRevisionConflict),
		errors.Is(err, repositories.ErrTableVersionConflict),
		errors.Is(err, repositories.ErrPlayerVersionConflict):
		return ErrRevisionConflict
	case errors.Is(err, repositories.ErrTableLabelConflict):
		return ErrTableLabelTaken
	case errors.Is(err, repositories.ErrTableInUse):
		return ErrTableInUse
	case errors.Is(err, repositories.ErrTableNotAssignable):
		return ErrTableUnavailable
	case errors.Is(err, repositories.ErrPlayerBusy):
		return ErrPlayerBusy
	case errors.Is(err, repositories.ErrMatchNotReady):
		return ErrMatchNotReady
	case errors.Is(err, repositories.ErrMatchInProgress):
		return ErrMatchInProgress
	case errors.Is(err, repositories.ErrTableNotInUse):
		return ErrTableNotInUse
	case errors.Is(err, repositories.ErrMatchPositionConflict),
		errors.Is(err, repositories.ErrMatchLinksImmutable):
		return ErrBracketExists
	case errors.Is(err, models.ErrInvalidConfig):
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrInternal, err)
}

// isConflict reports whether err is a lost compare-and-swap race.
func isConflict(err error) bool {
	return errors.Is(err, ErrRevisionConflict) ||
		errors.Is(err, repositories.ErrMatchRevisionConflict) ||
		errors.Is(err, repositories.ErrTableVersionConflict) ||
		errors.Is(err, repositories.ErrPlayerVersionConflict)
}
