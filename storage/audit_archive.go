package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
)

type scoreHistorySource interface {
	ListByMatch(ctx context.Context, matchID int) ([]*models.ScoreUpdate, error)
}

// AuditArchive is the document written for each completed match.
type AuditArchive struct {
	TournamentID int                   `json:"tournament_id"`
	MatchID      int                   `json:"match_id"`
	ArchivedAt   time.Time             `json:"archived_at"`
	Entries      []*models.ScoreUpdate `json:"entries"`
}

// AuditArchiver copies the score audit trail of every completed match to object storage.
type AuditArchiver struct {
	uploader FileUploader
	history  scoreHistorySource
	logger   *slog.Logger
}

func NewAuditArchiver(uploader FileUploader, history scoreHistorySource, logger *slog.Logger) *AuditArchiver {
	return &AuditArchiver{uploader: uploader, history: history, logger: logger}
}

func AuditKey(tournamentID, matchID int) string {
	return fmt.Sprintf("audit/tournament_%d/match_%d.json", tournamentID, matchID)
}

// Notify ignores everything but match completions.
func (a *AuditArchiver) Notify(ctx context.Context, e events.Event) error {
	if e.Type != events.MatchCompleted || e.MatchID == 0 {
		return nil
	}
	entries, err := a.history.ListByMatch(ctx, e.MatchID)
	if err != nil {
		return fmt.Errorf("failed to read audit trail of match %d: %w", e.MatchID, err)
	}

	doc := AuditArchive{
		TournamentID: e.TournamentID,
		MatchID:      e.MatchID,
		ArchivedAt:   time.Now().UTC(),
		Entries:      entries,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode audit trail of match %d: %w", e.MatchID, err)
	}

	result, err := a.uploader.Upload(ctx, AuditKey(e.TournamentID, e.MatchID), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	a.logger.Info("Audit trail archived",
		slog.Int("match_id", e.MatchID),
		slog.String("key", result.Key),
		slog.Int("entries", len(entries)),
	)
	return nil
}
