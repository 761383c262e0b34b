package filesrc_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"girl/internal/filesrc"
	"girl/internal/store"
	"girl/internal/store/memory"
	"girl/internal/world"
)

func newTestSource(t *testing.T) *filesrc.Source {
	t.Helper()
	backend := memory.New()
	if err := backend.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })
	st := store.New(backend, nil)
	newWorld := func(id string) *world.World { return world.New(id, "run-"+id, st, nil, nil, nil) }
	return filesrc.New(newWorld, nil).WithSettle(20 * time.Millisecond)
}

func TestRegularFileDispatchesOnceAfterSettling(t *testing.T) {
	dir := t.TempDir()
	src := newTestSource(t)

	var calls int32
	var gotPath atomic.Value
	done := make(chan struct{}, 1)
	if err := src.On(dir, "*.txt", func(ctx context.Context, w *world.World, path string) error {
		gotPath.Store(path)
		if atomic.AddInt32(&calls, 1) == 1 {
			done <- struct{}{}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- src.Run(ctx) }()
	time.Sleep(30 * time.Millisecond) // let the watcher attach

	path := filepath.Join(dir, "touched.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}

	time.Sleep(100 * time.Millisecond) // make sure no second dispatch sneaks in
	cancel()
	<-runDone

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("handler fired %d times, want 1", got)
	}
	if got, _ := gotPath.Load().(string); got != path {
		t.Errorf("handler received path %q, want %q", got, path)
	}
}

func TestFirstRegisteredGlobWinsOnConflict(t *testing.T) {
	dir := t.TempDir()
	src := newTestSource(t)

	var firstCalls, secondCalls int32
	done := make(chan struct{}, 1)
	if err := src.On(dir, "*.txt", func(ctx context.Context, w *world.World, path string) error {
		atomic.AddInt32(&firstCalls, 1)
		done <- struct{}{}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := src.On(dir, "touched.*", func(ctx context.Context, w *world.World, path string) error {
		atomic.AddInt32(&secondCalls, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- src.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "touched.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-runDone

	if atomic.LoadInt32(&firstCalls) != 1 || atomic.LoadInt32(&secondCalls) != 0 {
		t.Errorf("first=%d second=%d, want first=1 second=0", firstCalls, secondCalls)
	}
}

func TestOnRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notadir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	src := newTestSource(t)
	err := src.On(file, "*", func(context.Context, *world.World, string) error { return nil })
	if _, ok := err.(filesrc.ErrNotADirectory); !ok {
		t.Fatalf("expected ErrNotADirectory, got %v", err)
	}
}
