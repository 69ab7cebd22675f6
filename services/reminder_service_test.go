package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoAssignedMatches sets up a chip tournament with two matches on tables.
func twoAssignedMatches(t *testing.T) (*engine, int) {
	t.Helper()
	e := newEngine(t)
	ctx := context.Background()
	tr := e.tournament(t, models.FormatChip, 3)
	ids := make([]int, 4)
	for i, name := range []string{"A", "B", "C", "D"} {
		ids[i] = e.player(t, tr.ID, name, 0).ID
	}
	e.addTables(t, tr.ID, "T1", "T2")
	_, err := e.brackets.CreateChipMatch(ctx, tr.ID, ids[0], ids[1], 0)
	require.NoError(t, err)
	_, err = e.brackets.CreateChipMatch(ctx, tr.ID, ids[2], ids[3], 0)
	require.NoError(t, err)
	batch, err := e.queue.AssignAvailable(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, batch.Assigned, 2)
	return e, tr.ID
}

func TestSendRemindersInBatches(t *testing.T) {
	e, tournamentID := twoAssignedMatches(t)
	rec := &recordingNotifier{}
	svc := NewReminderService(e.repos.Matches, rec, ReminderConfig{BatchSize: 3, BatchDelay: time.Millisecond}, discardLogger())

	report, err := svc.SendReminders(context.Background(), tournamentID)
	require.NoError(t, err)
	assert.Equal(t, &ReminderReport{TournamentID: tournamentID, Matches: 2, Sent: 4, Batches: 2}, report)
	assert.Equal(t, 4, rec.count(events.MatchReminder))
	for _, ev := range rec.events {
		assert.NotZero(t, ev.PlayerID)
		assert.NotZero(t, ev.MatchID)
	}
}

func TestSendRemindersCountsFailures(t *testing.T) {
	e, tournamentID := twoAssignedMatches(t)
	down := notifierFunc(func(context.Context, events.Event) error { return errors.New("sms gateway down") })
	svc := NewReminderService(e.repos.Matches, down, ReminderConfig{BatchSize: 10}, discardLogger())

	report, err := svc.SendReminders(context.Background(), tournamentID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 4, report.Failed)
	assert.Equal(t, 1, report.Batches)
}

func TestSendRemindersStopsOnCancel(t *testing.T) {
	e, tournamentID := twoAssignedMatches(t)
	svc := NewReminderService(e.repos.Matches, &recordingNotifier{}, ReminderConfig{BatchSize: 1, BatchDelay: time.Hour}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	report, err := svc.SendReminders(ctx, tournamentID)
	assert.ErrorIs(t, err, ErrInterrupted)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Batches)
}

func TestSendRemindersThroughFanOutCountsFailures(t *testing.T) {
	e, tournamentID := twoAssignedMatches(t)
	rec := &recordingNotifier{}
	calls := 0
	flaky := notifierFunc(func(context.Context, events.Event) error {
		calls++
		if calls%2 == 0 {
			return errors.New("push service rejected the device token")
		}
		return nil
	})
	fanOut := NewFanOut(discardLogger(), nil, rec, flaky)
	svc := NewReminderService(e.repos.Matches, fanOut.Sync(), ReminderConfig{BatchSize: 10}, discardLogger())

	report, err := svc.SendReminders(context.Background(), tournamentID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 4, rec.count(events.MatchReminder), "a failing notifier does not stop the others")
}
