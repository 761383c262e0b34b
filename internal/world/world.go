// Package world implements the per-run handle passed to every event
// handler: tracked filesystem and HTTP access that transparently records
// (live run) or replays (pacified run) every side effect through a Store.
//
// World depends only on the narrow Store and Pacifier interfaces declared
// in this package, not on their concrete implementations in internal/store
// and internal/pacifier — those packages import world, not the reverse,
// which is what lets a World be threaded through either side without an
// import cycle.
package world

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/spf13/afero"
)

// Store is everything World needs from the run journal.
type Store interface {
	BeginRun(w *World) error
	FinishRun(w *World) error
	StoreData(w *World, key string, data []byte) error
	Load(w *World, key string) ([]byte, error)
	TagRun(w *World, tag string) error
}

// SideEffect names an outbound action intercepted by a Pacifier during
// replay, so a debug pacifier can log or assert on it without caring about
// the concrete HTTP/filesystem machinery that would normally perform it.
type SideEffect string

const (
	SideEffectWriteBytes SideEffect = "write_bytes"
	SideEffectWriteText  SideEffect = "write_text"
	SideEffectWriteJSON  SideEffect = "write_json"
	SideEffectRequest    SideEffect = "request"
)

// Pacifier intercepts a World's Store reads/writes and outbound side
// effects. IsNew distinguishes a live-observing pacifier (debugger attached
// to a real run) from a true replay (IsNew false): Storing fires for writes
// to the journal of a live run, Loading for reads from it during a replay,
// and Performing only replaces the real side effect when !IsNew.
type Pacifier interface {
	IsNew() bool
	Storing(w *World, key string, ts float64, data []byte)
	Loading(w *World, key string, ts float64, data []byte) []byte
	Performing(w *World, effect SideEffect, args ...any) (any, error)
}

// World is the handle an event handler receives for the duration of one run.
type World struct {
	ID       string // event id that triggered this run
	RunID    string // unique run slug
	Pacifier Pacifier

	store  Store
	fs     afero.Fs
	logger *slog.Logger

	mu         sync.Mutex
	httpClient *http.Client
}

// New constructs a World. fs is the filesystem tracked reads/writes are
// rooted in (typically afero.NewOsFs(), or an in-memory fs for tests).
func New(id, runid string, st Store, pacifier Pacifier, fs afero.Fs, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	return &World{ID: id, RunID: runid, Pacifier: pacifier, store: st, fs: fs, logger: logger}
}

// Enter opens the run's journal entry. Must be called before any tracked
// access and matched by exactly one Exit.
func (w *World) Enter() error {
	return w.store.BeginRun(w)
}

// Exit releases the world's lazily-created HTTP client and closes the
// run's journal entry.
func (w *World) Exit() error {
	w.mu.Lock()
	client := w.httpClient
	w.httpClient = nil
	w.mu.Unlock()
	if client != nil {
		client.CloseIdleConnections()
	}
	return w.store.FinishRun(w)
}

// IsReplaying reports whether this world is re-driving a past run rather
// than performing a fresh one.
func (w *World) IsReplaying() bool {
	return w.Pacifier != nil && !w.Pacifier.IsNew()
}

// Tag attaches a label to the current run, for later lookup via
// Backend.ListRuns. Invalid tags (empty, >=30 bytes, containing a byte
// below 0x20) are logged and dropped rather than returned as an error, and
// tagging a replaying run is a silent no-op.
func (w *World) Tag(tags ...string) {
	for _, tag := range tags {
		if !validTag(tag) {
			w.logger.Warn("dropping invalid tag", "tag", tag, "event", w.ID, "run", w.RunID)
			continue
		}
		if err := w.store.TagRun(w, tag); err != nil {
			w.logger.Error("tag_run failed", "error", err, "event", w.ID, "run", w.RunID)
		}
	}
}

// StoreBytes records data under key directly, for callers (such as the web
// source) that need to journal something that isn't a tracked file read or
// HTTP call. During replay this loads (and discards) the matching key
// instead of writing, keeping the journal's read/write shape symmetric.
func (w *World) StoreBytes(key string, data []byte) error {
	if w.IsReplaying() {
		_, err := w.store.Load(w, key)
		return err
	}
	return w.store.StoreData(w, key, data)
}

// StoreString is StoreBytes for a string value.
func (w *World) StoreString(key, value string) error {
	return w.StoreBytes(key, []byte(value))
}

// StoreJSON is StoreBytes for a JSON-encodable value.
func (w *World) StoreJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return w.StoreBytes(key, data)
}

func validTag(tag string) bool {
	if len(tag) == 0 || len(tag) >= 30 {
		return false
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] < 0x20 {
			return false
		}
	}
	return true
}
