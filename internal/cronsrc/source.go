package cronsrc

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"girl/internal/registry"
	"girl/internal/world"
)

// Handler is invoked once per fired instant, with a fresh World scoped to
// that run.
type Handler func(ctx context.Context, w *world.World) error

type registration struct {
	Schedule Schedule
	Fn       Handler
}

// Source is the cron event source: a set of schedules, each dispatching to
// its own handler the moment real time crosses its next matching instant.
type Source struct {
	reg      *registry.Registry[registration]
	newWorld func(eventID string) *world.World
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a cron Source. newWorld constructs the World handed to a
// handler for the run triggered by eventID (the schedule's String()).
func New(newWorld func(eventID string) *world.World, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{reg: registry.New[registration](), newWorld: newWorld, logger: logger, now: time.Now}
}

// On registers fn to fire on every instant sched matches. The schedule's
// canonical String() is its event id; registering the same schedule twice
// fails with registry.ErrDuplicate.
func (s *Source) On(sched Schedule, fn Handler) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	return s.reg.Add(sched.String(), registration{Schedule: sched, Fn: fn})
}

// IDs returns the event ids (schedule strings) registered so far.
func (s *Source) IDs() []string { return s.reg.IDs() }

// Run blocks dispatching fired schedules until ctx is cancelled, at which
// point it waits for in-flight runs to return before returning itself.
func (s *Source) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.reg.IDs() {
		h, _ := s.reg.Handler(id)
		h := h
		g.Go(func() error { return s.loop(ctx, h) })
	}
	return g.Wait()
}

func (s *Source) loop(ctx context.Context, h registry.Handler[registration]) error {
	var runs errgroup.Group
	defer runs.Wait()

	sched := h.Fn.Schedule
	for {
		next, ok := sched.NextFrom(s.now())
		if !ok {
			s.logger.Warn("schedule can never fire again", "event", h.ID)
			return nil
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		fn := h.Fn.Fn
		eventID := h.ID
		runs.Go(func() error {
			s.dispatch(ctx, eventID, fn)
			return nil
		})
	}
}

func (s *Source) dispatch(ctx context.Context, eventID string, fn Handler) {
	w := s.newWorld(eventID)
	if err := w.Enter(); err != nil {
		s.logger.Error("begin_run failed", "event", eventID, "error", err)
		return
	}
	defer func() {
		if err := w.Exit(); err != nil {
			s.logger.Error("finish_run failed", "event", eventID, "run", w.RunID, "error", err)
		}
	}()
	if err := fn(ctx, w); err != nil {
		s.logger.Error("handler failed", "event", eventID, "run", w.RunID, "error", err)
	}
}
