package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/metrics"
)

// Notifier receives engine events. Implementations must not assume they run
// inside the caller's request.
type Notifier interface {
	Notify(ctx context.Context, e events.Event) error
}

const notifyTimeout = 5 * time.Second

// FanOut delivers each event to every notifier on its own goroutine. It never
// blocks the caller and never reports delivery failures back to it.
type FanOut struct {
	notifiers []Notifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

func NewFanOut(logger *slog.Logger, m *metrics.Metrics, notifiers ...Notifier) *FanOut {
	return &FanOut{notifiers: notifiers, logger: logger, metrics: m}
}

func (f *FanOut) Notify(ctx context.Context, e events.Event) error {
	for _, n := range f.notifiers {
		f.wg.Add(1)
		go func(n Notifier) {
			defer f.wg.Done()
			_ = f.deliver(context.WithoutCancel(ctx), n, e)
		}(n)
	}
	return nil
}

// Sync returns a notifier over the same notifiers that delivers in the caller's
// goroutine and reports every failure, for callers that count deliveries.
func (f *FanOut) Sync() Notifier {
	return syncFanOut{f: f}
}

type syncFanOut struct {
	f *FanOut
}

func (s syncFanOut) Notify(ctx context.Context, e events.Event) error {
	var errs []error
	for _, n := range s.f.notifiers {
		if err := s.f.deliver(ctx, n, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver calls one notifier. A panic is recovered and reported as an error.
func (f *FanOut) deliver(ctx context.Context, n Notifier, e events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			f.metrics.NotifyFailure()
			f.logger.Error("Notifier panicked",
				slog.String("event", string(e.Type)),
				slog.String("notifier", fmt.Sprintf("%T", n)),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("notifier %T panicked: %v", n, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err = n.Notify(ctx, e); err != nil {
		f.metrics.NotifyFailure()
		f.logger.Warn("Notification failed",
			slog.String("event", string(e.Type)),
			slog.Int("tournament_id", e.TournamentID),
			slog.String("notifier", fmt.Sprintf("%T", n)),
			slog.Any("error", err),
		)
	}
	return err
}

// Wait blocks until every dispatched notification has finished.
func (f *FanOut) Wait() {
	f.wg.Wait()
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, events.Event) error { return nil }

func notifierOrNoop(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}
