// Package logging provides the dependency-injected structured-logging
// conventions shared by every component of the engine.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger, built once at construction
//   - slog.With() attaches default attributes ("component", event ids, run ids)
//   - A nil logger is replaced by a discard logger, never a panic
//
// Global configuration (format, level, destination) belongs only in the
// host's main(). Components here must never call slog.SetDefault.
package logging

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
)

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns logger if non-nil, otherwise a discard logger.
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ComponentFilterHandler wraps a handler and filters records by a
// per-component minimum level, read from the record's "component" attribute.
// Components without an explicit level fall back to defaultLevel.
type ComponentFilterHandler struct {
	next         slog.Handler
	defaultLevel slog.Level
	preAttrs     []slog.Attr
	levels       *atomic.Pointer[map[string]slog.Level]
}

// NewComponentFilterHandler builds a handler around next.
func NewComponentFilterHandler(next slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	levels := &atomic.Pointer[map[string]slog.Level]{}
	empty := make(map[string]slog.Level)
	levels.Store(&empty)
	return &ComponentFilterHandler{next: next, defaultLevel: defaultLevel, levels: levels}
}

// SetLevel sets the minimum level for a named component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	for {
		old := h.levels.Load()
		next := maps.Clone(*old)
		next[component] = level
		if h.levels.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ClearLevel removes a component's explicit level, falling back to the default.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	for {
		old := h.levels.Load()
		next := maps.Clone(*old)
		delete(next, component)
		if h.levels.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Enabled always defers to Handle, since the component attribute isn't
// known until the record (or the pre-attrs from WithAttrs) is inspected.
func (h *ComponentFilterHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *ComponentFilterHandler) componentOf(r slog.Record) (string, bool) {
	for _, a := range h.preAttrs {
		if a.Key == "component" {
			return a.Value.String(), true
		}
	}
	var comp string
	var found bool
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp, found = a.Value.String(), true
			return false
		}
		return true
	})
	return comp, found
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	min := h.defaultLevel
	if comp, ok := h.componentOf(r); ok {
		if lvl, ok := (*h.levels.Load())[comp]; ok {
			min = lvl
		}
	}
	if r.Level < min {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ComponentFilterHandler{
		next:         h.next.WithAttrs(attrs),
		defaultLevel: h.defaultLevel,
		preAttrs:     append(append([]slog.Attr{}, h.preAttrs...), attrs...),
		levels:       h.levels,
	}
}

func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	return &ComponentFilterHandler{
		next:         h.next.WithGroup(name),
		defaultLevel: h.defaultLevel,
		preAttrs:     h.preAttrs,
		levels:       h.levels,
	}
}
