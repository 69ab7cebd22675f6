package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
	"golang.org/x/time/rate"
)

type ReminderConfig struct {
	BatchSize  int
	BatchDelay time.Duration
}

type ReminderReport struct {
	TournamentID int `json:"tournament_id"`
	Matches      int `json:"matches"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Batches      int `json:"batches"`
}

type MatchReminder struct {
	MatchID int  `json:"match_id"`
	TableID *int `json:"table_id,omitempty"`
	Round   int  `json:"round"`
}

// ReminderService tells players of assigned matches to come to their table.
type ReminderService interface {
	SendReminders(ctx context.Context, tournamentID int) (*ReminderReport, error)
}

type reminderService struct {
	matches  repositories.MatchRepository
	notifier Notifier
	cfg      ReminderConfig
	logger   *slog.Logger
}

func NewReminderService(matches repositories.MatchRepository, notifier Notifier, cfg ReminderConfig, logger *slog.Logger) ReminderService {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &reminderService{
		matches:  matches,
		notifier: notifierOrNoop(notifier),
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *reminderService) SendReminders(ctx context.Context, tournamentID int) (*ReminderReport, error) {
	assigned, err := s.matches.ListByTournament(ctx, tournamentID, repositories.MatchFilter{
		States: []models.MatchState{models.MatchStateAssigned},
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	reminders := make([]events.Event, 0, 2*len(assigned))
	for _, m := range assigned {
		payload := MatchReminder{MatchID: m.ID, TableID: m.TableID, Round: m.Round}
		for _, p := range m.Players() {
			reminders = append(reminders, events.New(events.MatchReminder, tournamentID, payload).WithMatch(m.ID).WithPlayer(p))
		}
	}

	report := &ReminderReport{TournamentID: tournamentID, Matches: len(assigned)}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.cfg.BatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.cfg.BatchDelay), 1)
	}

	for start := 0; start < len(reminders); start += s.cfg.BatchSize {
		if err = limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("%w: reminders stopped after %d batches: %w", ErrInterrupted, report.Batches, err)
		}
		end := min(start+s.cfg.BatchSize, len(reminders))
		for _, e := range reminders[start:end] {
			if notifyErr := s.notifier.Notify(ctx, e); notifyErr != nil {
				report.Failed++
				s.logger.Warn("Reminder not delivered",
					slog.Int("match_id", e.MatchID),
					slog.Int("player_id", e.PlayerID),
					slog.Any("error", notifyErr),
				)
				continue
			}
			report.Sent++
		}
		report.Batches++
	}

	s.logger.Info("Reminders sent",
		slog.Int("tournament_id", tournamentID),
		slog.Int("sent", report.Sent),
		slog.Int("batches", report.Batches),
	)
	return report, nil
}
