// Package filesrc is the directory-watch event source: handlers are
// registered against a (directory, basename glob) pair and fired once per
// file that settles into that directory matching the glob.
//
// Regular files debounce: a write (or a sequence of writes) is followed by
// a short quiescence window before dispatch, standing in for the
// CLOSE_WRITE signal this platform's notification facility doesn't expose
// uniformly. Special files — sockets, FIFOs, symlinks — dispatch the
// instant they're created, since nothing will ever "finish writing" to them
// in the regular-file sense.
package filesrc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"girl/internal/registry"
	"girl/internal/world"
)

// Handler is invoked once per settled file, with a fresh World scoped to
// that run and the absolute path of the file that triggered it.
type Handler func(ctx context.Context, w *world.World, path string) error

type registration struct {
	Dir   string
	Glob  string
	Fn    Handler
	order int
}

// DefaultSettle is the quiescence window used when Source isn't built with
// a different one via WithSettle.
const DefaultSettle = 300 * time.Millisecond

// Source is the file event source.
type Source struct {
	reg      *registry.Registry[registration]
	order    []registration // registration order, for first-match-wins
	newWorld func(eventID string) *world.World
	logger   *slog.Logger
	settle   time.Duration

	mu      sync.Mutex
	dirs    map[string]struct{}
	watcher *fsnotify.Watcher

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// New builds a file Source.
func New(newWorld func(eventID string) *world.World, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		reg:      registry.New[registration](),
		newWorld: newWorld,
		logger:   logger,
		settle:   DefaultSettle,
		dirs:     make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// WithSettle overrides the quiescence window used for regular-file debounce.
func (s *Source) WithSettle(d time.Duration) *Source {
	s.settle = d
	return s
}

// ErrNotADirectory is returned by On when dir does not exist or isn't a
// directory.
type ErrNotADirectory struct{ Dir string }

func (e ErrNotADirectory) Error() string {
	return fmt.Sprintf("filesrc: %s is not a directory", e.Dir)
}

// On registers fn to fire for files in dir whose basename matches glob
// (doublestar syntax). Registration order matters: if more than one
// registration's glob matches the same basename, only the first registered
// fires. The pair (dir, glob) is the event id and must be unique.
func (s *Source) On(dir, glob string, fn Handler) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return ErrNotADirectory{Dir: dir}
	}
	eventID := abs + "/" + glob
	reg := registration{Dir: abs, Glob: glob, Fn: fn, order: len(s.order)}
	if err := s.reg.Add(eventID, reg); err != nil {
		return err
	}
	s.order = append(s.order, reg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirs[abs]; !ok {
		s.dirs[abs] = struct{}{}
		if s.watcher != nil {
			if err := s.watcher.Add(abs); err != nil {
				return err
			}
		}
	}
	return nil
}

// IDs returns the registered event ids, in registration order.
func (s *Source) IDs() []string {
	ids := make([]string, len(s.order))
	for i, r := range s.order {
		ids[i] = r.Dir + "/" + r.Glob
	}
	return ids
}

// Run watches every registered directory until ctx is cancelled, dispatching
// matched, settled files to their handler.
func (s *Source) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	s.mu.Lock()
	s.watcher = watcher
	for dir := range s.dirs {
		if err := watcher.Add(dir); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.timersMu.Lock()
			for _, t := range s.timers {
				t.Stop()
			}
			s.timersMu.Unlock()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, &wg, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

func (s *Source) handleEvent(ctx context.Context, wg *sync.WaitGroup, ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	base := filepath.Base(ev.Name)
	reg, ok := s.firstMatch(dir, base)
	if !ok {
		return
	}

	special, err := isSpecial(ev.Name)
	if err != nil {
		return
	}

	if special {
		if ev.Op&fsnotify.Create != 0 {
			s.spawn(ctx, wg, reg, ev.Name)
		}
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		s.arm(ctx, wg, reg, ev.Name)
	}
}

func (s *Source) firstMatch(dir, base string) (registration, bool) {
	for _, r := range s.order {
		if r.Dir != dir {
			continue
		}
		if ok, _ := doublestar.Match(r.Glob, base); ok {
			return r, true
		}
	}
	return registration{}, false
}

func isSpecial(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	mode := info.Mode()
	return mode&os.ModeSymlink != 0 || mode&os.ModeSocket != 0 || mode&os.ModeNamedPipe != 0, nil
}

// arm (re)starts the settle timer for path, cancelling any in-flight one.
func (s *Source) arm(ctx context.Context, wg *sync.WaitGroup, reg registration, path string) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	s.timers[path] = time.AfterFunc(s.settle, func() {
		s.timersMu.Lock()
		delete(s.timers, path)
		s.timersMu.Unlock()
		s.spawn(ctx, wg, reg, path)
	})
}

func (s *Source) spawn(ctx context.Context, wg *sync.WaitGroup, reg registration, path string) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch(ctx, reg, path)
	}()
}

func (s *Source) dispatch(ctx context.Context, reg registration, path string) {
	eventID := reg.Dir + "/" + reg.Glob
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
	w.Tag("path:" + path)
	if err := w.StoreString("*path*", path); err != nil {
		s.logger.Error("storing *path* failed", "event", eventID, "run", w.RunID, "error", err)
		return
	}
	if err := reg.Fn(ctx, w, path); err != nil {
		s.logger.Error("handler failed", "event", eventID, "run", w.RunID, "error", err)
	}
}
