package services

import (
	"context"
	"log/slog"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

// Warnings added to a score result when a completion step fails.
const (
	WarningAdvancementFailed  = "advancement_failed"
	WarningChipAwardFailed    = "chip_award_failed"
	WarningTableReleaseFailed = "table_release_failed"
)

// Completer runs everything that follows a match reaching its race target.
type Completer interface {
	// Complete never fails the caller; each failed step is logged and reported
	// as a warning. tableID is the table the match was played on, if any.
	Complete(ctx context.Context, match *models.Match, tableID *int) []string
}

type completionPipeline struct {
	tournaments repositories.TournamentRepository
	brackets    BracketService
	chips       ChipService
	queue       QueueService
	notifier    Notifier
	logger      *slog.Logger
}

func NewCompletionPipeline(
	tournaments repositories.TournamentRepository,
	bracketService BracketService,
	chips ChipService,
	queue QueueService,
	notifier Notifier,
	logger *slog.Logger,
) Completer {
	return &completionPipeline{
		tournaments: tournaments,
		brackets:    bracketService,
		chips:       chips,
		queue:       queue,
		notifier:    notifierOrNoop(notifier),
		logger:      logger,
	}
}

func (p *completionPipeline) Complete(ctx context.Context, match *models.Match, tableID *int) []string {
	warnings := []string{}
	log := p.logger.With(slog.Int("match_id", match.ID), slog.Int("tournament_id", match.TournamentID))

	if _, err := p.brackets.OnMatchCompleted(ctx, match); err != nil {
		log.Error("Failed to advance bracket", slog.Any("error", err))
		warnings = append(warnings, WarningAdvancementFailed)
	}

	if loser := match.LoserID(); loser != nil {
		tournament, err := p.tournaments.GetByID(ctx, match.TournamentID)
		switch {
		case err != nil:
			log.Error("Failed to load tournament for chip award", slog.Any("error", err))
			warnings = append(warnings, WarningChipAwardFailed)
		case tournament.Bracket.Format == models.FormatChip:
			if _, err = p.chips.AwardChips(ctx, match.ID, *match.WinnerID, *loser, tournament.Chips); err != nil {
				log.Error("Failed to award chips", slog.Any("error", err))
				warnings = append(warnings, WarningChipAwardFailed)
			}
		}
	}

	if tableID != nil {
		if _, err := p.queue.ReleaseTable(ctx, *tableID); err != nil {
			log.Error("Failed to release table", slog.Int("table_id", *tableID), slog.Any("error", err))
			warnings = append(warnings, WarningTableReleaseFailed)
		}
	}

	_ = p.notifier.Notify(ctx, events.New(events.MatchCompleted, match.TournamentID, match).WithMatch(match.ID))
	return warnings
}
