// Package store implements the durable run journal: Store merges live
// writes from an in-flight run with a replayed run loaded from a Backend,
// using the mirror disambiguation rule so repeated writes under the same
// key replay back in the order they were recorded.
package store

import (
	"log/slog"
	"sync"
	"time"

	"girl/internal/world"
)

// CompressFunc and DecompressFunc let a Store transform a single data item
// before it reaches the backend (compress) and after it leaves it
// (decompress). Applied per key, so a caller can skip keys it doesn't want
// touched. Either may be nil to disable the transform.
type CompressFunc func(key string, data []byte) []byte
type DecompressFunc func(key string, data []byte) []byte

// SubmitFunc is called from FinishRun once a live run has been durably
// written to the backend, before FinishRun returns. It is not called when
// the backend write fails.
type SubmitFunc func(id, runid string, ts float64, tags map[string]struct{})

type runKey struct {
	ID    string
	RunID string
}

type ongoingEntry struct {
	mu        sync.Mutex
	replay    bool
	run       *Run
	remaining *OrderedData // replay only: consumable copy of run.Data
}

// Store is the run journal. Safe for concurrent use by multiple in-flight
// worlds.
type Store struct {
	backend Backend
	logger  *slog.Logger

	compress   CompressFunc
	decompress DecompressFunc
	onSubmit   []SubmitFunc

	now  func() time.Time
	slug func() string

	mu      sync.Mutex
	ongoing map[runKey]*ongoingEntry
}

// New builds a Store over backend. logger may be nil.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		ongoing: make(map[runKey]*ongoingEntry),
	}
}

// WithCompression installs per-key compress/decompress hooks.
func (s *Store) WithCompression(compress CompressFunc, decompress DecompressFunc) *Store {
	s.compress = compress
	s.decompress = decompress
	return s
}

// OnSubmit registers a hook fired after a live run is flushed to the backend.
func (s *Store) OnSubmit(fn SubmitFunc) {
	s.onSubmit = append(s.onSubmit, fn)
}

// Open prepares the backend.
func (s *Store) Open() error { return s.backend.Open() }

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) entry(w *world.World) (*ongoingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ongoing[runKey{w.ID, w.RunID}]
	if !ok {
		return nil, ErrNoRun
	}
	return e, nil
}

// BeginRun opens the journal entry for w: a fresh, empty Run for a live
// world, or the full recorded run loaded from the backend for a replaying
// one. Idempotent for a world already open.
func (s *Store) BeginRun(w *world.World) error {
	key := runKey{w.ID, w.RunID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ongoing[key]; ok {
		return nil
	}
	if w.IsReplaying() {
		_, run, err := s.backend.LoadRun(w.RunID)
		if err != nil {
			return err
		}
		if s.decompress != nil {
			run.Data = decompressAll(run.Data, s.decompress)
		}
		s.ongoing[key] = &ongoingEntry{replay: true, run: run, remaining: run.Data.Clone()}
		return nil
	}
	s.ongoing[key] = &ongoingEntry{run: newRun(w.RunID, unixFloat(s.now()))}
	return nil
}

// StoreData records data under key (disambiguated if key is already
// present) for the live run associated with w, and notifies w's pacifier
// if one is observing.
func (s *Store) StoreData(w *world.World, key string, data []byte) error {
	if w.IsReplaying() {
		return ErrReplayOnly
	}
	e, err := s.entry(w)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := unixFloat(s.now())
	actual := e.run.Data.NextFreeKey(key)
	e.run.Data.Append(actual, ts, data)
	if w.Pacifier != nil {
		w.Pacifier.Storing(w, actual, ts, data)
	}
	return nil
}

// Load consumes the next occurrence of key from the replaying run
// associated with w, per the mirror disambiguation rule, and passes it
// through w's pacifier.
func (s *Store) Load(w *world.World, key string) ([]byte, error) {
	if !w.IsReplaying() {
		return nil, ErrLiveOnly
	}
	e, err := s.entry(w)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	name, data, ts, ok := e.remaining.TakeMirror(key)
	if !ok {
		return nil, ErrNotFound
	}
	if w.Pacifier != nil {
		data = w.Pacifier.Loading(w, name, ts, data)
	}
	return data, nil
}

// TagRun adds tag to the current run's tag set. A no-op while replaying
// (pacifier present and not observing live).
func (s *Store) TagRun(w *world.World, tag string) error {
	e, err := s.entry(w)
	if err != nil {
		return err
	}
	if w.Pacifier != nil && !w.Pacifier.IsNew() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.Tags[tag] = struct{}{}
	return nil
}

// FinishRun closes w's journal entry. For a live run this flushes the
// accumulated data to the backend and fires submit hooks; for a replaying
// run it simply discards the consumable copy.
func (s *Store) FinishRun(w *world.World) error {
	key := runKey{w.ID, w.RunID}
	s.mu.Lock()
	e, ok := s.ongoing[key]
	if ok {
		delete(s.ongoing, key)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNoRun
	}
	if e.replay {
		return nil
	}

	run := e.run
	if s.compress != nil {
		run.Data = compressAll(run.Data, s.compress)
	}
	if err := s.backend.StoreRun(w.ID, run); err != nil {
		return err
	}
	for _, hook := range s.onSubmit {
		hook(w.ID, run.RunID, run.TS, run.Tags)
	}
	return nil
}

// ListRuns delegates to the backend.
func (s *Store) ListRuns(id string, minTS, maxTS float64, withTags []string) ([]RunPartial, error) {
	return s.backend.ListRuns(id, minTS, maxTS, withTags)
}

// KnownTags delegates to the backend.
func (s *Store) KnownTags() (map[string]struct{}, error) {
	return s.backend.KnownTags()
}

// Status delegates to the backend.
func (s *Store) Status() (string, error) {
	return s.backend.Status()
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func compressAll(d *OrderedData, fn CompressFunc) *OrderedData {
	out := NewOrderedData()
	for _, it := range d.Items() {
		out.Append(it.Key, it.TS, fn(it.Key, it.Data))
	}
	return out
}

func decompressAll(d *OrderedData, fn DecompressFunc) *OrderedData {
	out := NewOrderedData()
	for _, it := range d.Items() {
		out.Append(it.Key, it.TS, fn(it.Key, it.Data))
	}
	return out
}

var _ world.Store = (*Store)(nil)
