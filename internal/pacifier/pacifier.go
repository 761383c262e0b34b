// Package pacifier provides concrete world.Pacifier implementations: Replay,
// which re-drives a recorded run deterministically, and Observer, which
// watches a live run without altering it (the "debugger attached" case).
package pacifier

import (
	"log/slog"

	"girl/internal/world"
)

// Replay drives a recorded run: tracked file reads are served from the
// journal unchanged, while tracked writes and outbound requests are
// suppressed without touching the real filesystem or network. Performing
// returns nil, so a replayed request yields a nil body; the recorded
// response body is not served back.
type Replay struct {
	logger *slog.Logger
}

// NewReplay builds a Replay pacifier.
func NewReplay(logger *slog.Logger) *Replay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{logger: logger}
}

func (r *Replay) IsNew() bool { return false }

func (r *Replay) Storing(w *world.World, key string, ts float64, data []byte) {
	r.logger.Debug("replay storing", "event", w.ID, "run", w.RunID, "key", key)
}

func (r *Replay) Loading(w *world.World, key string, ts float64, data []byte) []byte {
	r.logger.Debug("replay loading", "event", w.ID, "run", w.RunID, "key", key)
	return data
}

func (r *Replay) Performing(w *world.World, effect world.SideEffect, args ...any) (any, error) {
	r.logger.Debug("replay performing", "event", w.ID, "run", w.RunID, "effect", effect)
	return nil, nil
}

// Observer watches a live run (IsNew true): every tracked read/write and
// side effect still happens for real, but is also reported through Hook,
// letting a debugger follow along without perturbing anything.
type Observer struct {
	Hook func(kind string, key string, ts float64, data []byte)
}

// NewObserver builds an Observer pacifier. hook may be nil, in which case
// observed events are simply dropped.
func NewObserver(hook func(kind, key string, ts float64, data []byte)) *Observer {
	if hook == nil {
		hook = func(string, string, float64, []byte) {}
	}
	return &Observer{Hook: hook}
}

func (o *Observer) IsNew() bool { return true }

func (o *Observer) Storing(w *world.World, key string, ts float64, data []byte) {
	o.Hook("store", key, ts, data)
}

func (o *Observer) Loading(w *world.World, key string, ts float64, data []byte) []byte {
	o.Hook("load", key, ts, data)
	return data
}

func (o *Observer) Performing(w *world.World, effect world.SideEffect, args ...any) (any, error) {
	o.Hook(string(effect), "", 0, nil)
	return nil, nil
}
