// Command girl is a minimal example host: it wires one cron event and one
// web event to an App backed by the embedded SQLite store, and runs until
// interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"girl/internal/app"
	"girl/internal/cronsrc"
	"girl/internal/store"
	"girl/internal/store/sqlite"
	"girl/internal/websrc"
	"girl/internal/world"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dbPath string
	var logLevel string

	root := &cobra.Command{
		Use:   "girl",
		Short: "run an example event-driven host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dbPath, logLevel)
		},
	}
	root.Flags().StringVar(&dbPath, "db", "girl.sqlite3", "path to the sqlite database (':memory:' for ephemeral)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	return root
}

func run(dbPath, logLevel string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backend := sqlite.New(dbPath, sqlite.RollPolicy{NbEntries: 1000})
	a, err := app.New(backend, logger, nil)
	if err != nil {
		return err
	}

	if err := registerExampleEvents(a); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func registerExampleEvents(a *app.App) error {
	hourly := cronsrc.Schedule{Minutes: cronsrc.NewIntSet(0)}
	if err := a.Cron().On(hourly, func(ctx context.Context, w *world.World) error {
		w.Tag("example")
		return nil
	}); err != nil {
		return err
	}

	return a.Web().On("localhost:8080", "GET", "/status", func(ctx context.Context, w *world.World, req *websrc.Request) (websrc.Response, error) {
		status, err := a.Store().Status()
		if err != nil {
			return websrc.Response{}, err
		}
		return websrc.TextResponse(status), nil
	})
}

var _ store.Backend = (*sqlite.Backend)(nil)
