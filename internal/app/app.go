// Package app wires the three event sources to a shared Store and runs
// them for the life of the process, alongside an hourly heartbeat that logs
// backend health.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/dustinkirkland/golang-petname"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"girl/internal/cronsrc"
	"girl/internal/filesrc"
	"girl/internal/pacifier"
	"girl/internal/store"
	"girl/internal/websrc"
	"girl/internal/world"
)

// App owns a Store and the three event sources built on top of it.
type App struct {
	logger  *slog.Logger
	store   *store.Store
	fs      afero.Fs
	cron    *cronsrc.Source
	file    *filesrc.Source
	web     *websrc.Source
	wakes   int
	beat    gocron.Scheduler
	onReady []func(ctx context.Context) error
	onStop  []func(ctx context.Context) error
}

// New builds an App over backend, logging through logger (nil for
// slog.Default()).
// fs roots every tracked filesystem access; nil defaults to the real OS
// filesystem.
func New(backend store.Backend, logger *slog.Logger, fs afero.Fs) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	beat, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	a := &App{logger: logger, store: store.New(backend, logger), fs: fs, beat: beat}
	a.cron = cronsrc.New(a.newWorld, logger.With("component", "cron"))
	a.file = filesrc.New(a.newWorld, logger.With("component", "file"))
	a.web = websrc.New(a.newWorld, logger.With("component", "web"))
	return a, nil
}

// Cron exposes the cron event source for registration.
func (a *App) Cron() *cronsrc.Source { return a.cron }

// File exposes the file event source for registration.
func (a *App) File() *filesrc.Source { return a.file }

// Web exposes the HTTP event source for registration.
func (a *App) Web() *websrc.Source { return a.web }

// Store exposes the backing Store, for admin-style queries (ListRuns,
// KnownTags) outside the context of a running event.
func (a *App) Store() *store.Store { return a.store }

// EnableCompression installs zstd compress/decompress hooks on the
// backing Store, so every item written to the backend from now on is
// transparently compressed at rest.
func (a *App) EnableCompression() error {
	compress, decompress, err := store.ZstdHooks()
	if err != nil {
		return err
	}
	a.store.WithCompression(compress, decompress)
	return nil
}

// OnReady registers a hook run once, after the store opens and before any
// event source starts accepting work.
func (a *App) OnReady(fn func(ctx context.Context) error) {
	a.onReady = append(a.onReady, fn)
}

// OnStop registers a hook run once ctx is cancelled, before the event
// sources are torn down.
func (a *App) OnStop(fn func(ctx context.Context) error) {
	a.onStop = append(a.onStop, fn)
}

func (a *App) newWorld(eventID string) *world.World {
	runid := petname.Generate(3, "-")
	return world.New(eventID, runid, a.store, nil, a.fs, a.logger)
}

// Replay drives a recorded run back through fn using a pacifier.Replay
// pacifier, returning whatever fn returns.
func (a *App) Replay(eventID, runid string, fn func(ctx context.Context, w *world.World) error) error {
	w := world.New(eventID, runid, a.store, pacifier.NewReplay(a.logger), a.fs, a.logger)
	if err := w.Enter(); err != nil {
		return err
	}
	defer w.Exit()
	return fn(context.Background(), w)
}

// Run opens the store, starts the heartbeat and every registered event
// source, and blocks until ctx is cancelled, at which point it runs the
// stop hooks and tears everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Open(); err != nil {
		return fmt.Errorf("app: opening store: %w", err)
	}
	defer a.store.Close()

	if _, err := a.beat.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(a.heartbeat),
	); err != nil {
		return fmt.Errorf("app: scheduling heartbeat: %w", err)
	}
	a.beat.Start()
	defer a.beat.Shutdown()

	var ready errgroup.Group
	for _, hook := range a.onReady {
		ready.Go(func() error {
			if err := hook(ctx); err != nil {
				a.logger.Error("ready hook failed", "error", err)
			}
			return nil
		})
	}
	ready.Wait()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.cron.Run(gctx) })
	g.Go(func() error { return a.file.Run(gctx) })
	g.Go(func() error { return a.web.Run(gctx) })

	<-ctx.Done()
	for _, hook := range a.onStop {
		if err := hook(context.Background()); err != nil {
			a.logger.Error("stop hook failed", "error", err)
		}
	}
	return g.Wait()
}

func (a *App) heartbeat() {
	a.wakes++
	status, err := a.store.Status()
	if err != nil {
		a.logger.Error("heartbeat: status failed", "error", err)
		status = "unavailable"
	}
	a.logger.Info("heartbeat", "backend", status, "goroutines", runtime.NumGoroutine())
	if a.wakes%24 == 0 {
		if mem, err := os.ReadFile("/proc/self/status"); err == nil {
			a.logger.Info("heartbeat detail", "proc_status", string(mem))
		}
	}
}
