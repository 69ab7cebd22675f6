package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/metrics"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/Dosada05/tournament-engine/repositories"
)

const (
	maxTableLabelLength = 32
	tableWriteAttempts  = 3
)

type TableService interface {
	CreateTable(ctx context.Context, tournamentID int, label string) (*models.Table, error)
	GetTable(ctx context.Context, id int) (*models.Table, error)
	ListTables(ctx context.Context, tournamentID int) ([]*models.Table, error)
	SetMaintenance(ctx context.Context, id int) (*models.Table, error)
	ClearMaintenance(ctx context.Context, id int) (*models.Table, error)
	BlockTable(ctx context.Context, id int, until time.Time) (*models.Table, error)
	UnblockTable(ctx context.Context, id int) (*models.Table, error)
	DeleteTable(ctx context.Context, id int) error
}

type tableService struct {
	tournaments repositories.TournamentRepository
	tables      repositories.TableRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewTableService(
	tournaments repositories.TournamentRepository,
	tables repositories.TableRepository,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) TableService {
	return &tableService{
		tournaments: tournaments,
		tables:      tables,
		notifier:    notifierOrNoop(notifier),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *tableService) CreateTable(ctx context.Context, tournamentID int, label string) (*models.Table, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: table label is required", ErrValidationFailed)
	}
	if utf8.RuneCountInString(label) > maxTableLabelLength {
		return nil, fmt.Errorf("%w: table label longer than %d characters", ErrValidationFailed, maxTableLabelLength)
	}
	if _, err := s.tournaments.GetByID(ctx, tournamentID); err != nil {
		return nil, mapRepositoryError(err)
	}

	table := &models.Table{
		TournamentID: tournamentID,
		Label:        label,
		Status:       models.TableStatusAvailable,
	}
	if err := s.tables.Create(ctx, table); err != nil {
		return nil, mapRepositoryError(err)
	}
	s.logger.Info("Table created", slog.Int("table_id", table.ID), slog.String("label", label))
	s.publish(ctx, table)
	return table, nil
}

func (s *tableService) GetTable(ctx context.Context, id int) (*models.Table, error) {
	table, err := s.tables.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return table, nil
}

func (s *tableService) ListTables(ctx context.Context, tournamentID int) ([]*models.Table, error) {
	tables, err := s.tables.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return tables, nil
}

func (s *tableService) SetMaintenance(ctx context.Context, id int) (*models.Table, error) {
	return s.update(ctx, id, func(t *models.Table) error {
		if t.Status != models.TableStatusAvailable {
			return fmt.Errorf("%w: status is %s", ErrTableNotAvailable, t.Status)
		}
		t.Status = models.TableStatusMaintenance
		return nil
	})
}

func (s *tableService) ClearMaintenance(ctx context.Context, id int) (*models.Table, error) {
	return s.update(ctx, id, func(t *models.Table) error {
		if t.Status != models.TableStatusMaintenance {
			return fmt.Errorf("%w: status is %s", ErrTableNotInRepair, t.Status)
		}
		t.Status = models.TableStatusAvailable
		return nil
	})
}

func (s *tableService) BlockTable(ctx context.Context, id int, until time.Time) (*models.Table, error) {
	if !until.After(s.now()) {
		return nil, fmt.Errorf("%w: block must end in the future", ErrValidationFailed)
	}
	return s.update(ctx, id, func(t *models.Table) error {
		u := until.UTC()
		t.BlockedUntil = &u
		return nil
	})
}

func (s *tableService) UnblockTable(ctx context.Context, id int) (*models.Table, error) {
	return s.update(ctx, id, func(t *models.Table) error {
		t.BlockedUntil = nil
		return nil
	})
}

func (s *tableService) DeleteTable(ctx context.Context, id int) error {
	if err := s.tables.Delete(ctx, id); err != nil {
		return mapRepositoryError(err)
	}
	s.logger.Info("Table deleted", slog.Int("table_id", id))
	return nil
}

// update applies a read-modify-write with a compare-and-swap on the version read.
// A lost race re-reads the table and applies mutate again, up to tableWriteAttempts times.
func (s *tableService) update(ctx context.Context, id int, mutate func(*models.Table) error) (*models.Table, error) {
	for attempt := 1; ; attempt++ {
		table, err := s.tables.GetByID(ctx, id)
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		expected := table.Version
		if err = mutate(table); err != nil {
			return nil, err
		}
		err = s.tables.CompareAndSwap(ctx, table, expected)
		if err == nil {
			s.publish(ctx, table)
			return table, nil
		}
		err = mapRepositoryError(err)
		if !isConflict(err) {
			return nil, err
		}
		s.metrics.Conflict("table")
		if attempt == tableWriteAttempts {
			return nil, err
		}
	}
}

func (s *tableService) publish(ctx context.Context, t *models.Table) {
	_ = s.notifier.Notify(ctx, events.New(events.TableUpdated, t.TournamentID, t))
}
