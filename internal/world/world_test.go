package world_test

import (
	"testing"

	"github.com/spf13/afero"

	"girl/internal/pacifier"
	"girl/internal/store"
	"girl/internal/store/memory"
	"girl/internal/world"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	backend := memory.New()
	if err := backend.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })
	return store.New(backend, nil)
}

func TestReadBytesRecordsAndReplays(t *testing.T) {
	s := newStore(t)
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/data/in.txt", []byte("hello"), 0o644)

	w := world.New("evt", "run-1", s, nil, fs, nil)
	if err := w.Enter(); err != nil {
		t.Fatal(err)
	}
	data, err := w.File("/data/in.txt").ReadBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
	if err := w.Exit(); err != nil {
		t.Fatal(err)
	}

	replay := world.New("evt", "run-1", s, pacifier.NewReplay(nil), afero.NewMemMapFs(), nil)
	if err := replay.Enter(); err != nil {
		t.Fatal(err)
	}
	replayed, err := replay.File("/data/in.txt").ReadBytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(replayed) != "hello" {
		t.Fatalf("replay got %q, want %q", replayed, "hello")
	}
	if err := replay.Exit(); err != nil {
		t.Fatal(err)
	}
}

func TestTagDropsInvalidValues(t *testing.T) {
	s := newStore(t)
	w := world.New("evt", "run-2", s, nil, nil, nil)
	w.Enter()
	w.Tag("", "ok", "this-tag-name-is-absolutely-way-too-long-to-be-valid", "bad\x01byte")
	w.Exit()

	runs, err := s.ListRuns("evt", 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if len(runs[0].Tags) != 1 {
		t.Fatalf("expected only the valid tag to stick, got %v", runs[0].Tags)
	}
	if _, ok := runs[0].Tags["ok"]; !ok {
		t.Error("expected tag \"ok\" to be present")
	}
}

func TestWriteBytesDuringReplayDoesNotTouchFilesystem(t *testing.T) {
	s := newStore(t)
	fs := afero.NewMemMapFs()

	w := world.New("evt", "run-3", s, nil, fs, nil)
	w.Enter()
	if err := w.File("/out.txt").WriteBytes([]byte("live")); err != nil {
		t.Fatal(err)
	}
	w.Exit()

	replayFs := afero.NewMemMapFs()
	replay := world.New("evt", "run-3", s, pacifier.NewReplay(nil), replayFs, nil)
	replay.Enter()
	if err := replay.File("/out.txt").WriteBytes([]byte("replayed")); err != nil {
		t.Fatal(err)
	}
	replay.Exit()

	if exists, _ := afero.Exists(replayFs, "/out.txt"); exists {
		t.Error("replay should not have written to the filesystem")
	}
}
