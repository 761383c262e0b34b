package store_test

import (
	"testing"

	"girl/internal/pacifier"
	"girl/internal/store"
	"girl/internal/store/memory"
	"girl/internal/world"
)

func TestStoreRoundTripRepeatedKey(t *testing.T) {
	backend := memory.New()
	if err := backend.Open(); err != nil {
		t.Fatal(err)
	}
	defer backend.Close()
	s := store.New(backend, nil)

	w := world.New("evt", "run-1", s, nil, nil, nil)
	if err := w.Enter(); err != nil {
		t.Fatal(err)
	}
	for _, data := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		if err := s.StoreData(w, "k", data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Exit(); err != nil {
		t.Fatal(err)
	}

	replay := world.New("evt", "run-1", s, pacifier.NewReplay(nil), nil, nil)
	if err := replay.Enter(); err != nil {
		t.Fatal(err)
	}
	var got []string
	for i := 0; i < 3; i++ {
		data, err := s.Load(replay, "k")
		if err != nil {
			t.Fatalf("Load #%d: %v", i, err)
		}
		got = append(got, string(data))
	}
	if err := replay.Exit(); err != nil {
		t.Fatal(err)
	}

	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("load #%d = %q, want %q", i, got[i], w)
		}
	}
}

func TestStoreInterleavedKeysReplayIndependently(t *testing.T) {
	backend := memory.New()
	backend.Open()
	defer backend.Close()
	s := store.New(backend, nil)

	w := world.New("evt", "run-2", s, nil, nil, nil)
	w.Enter()
	s.StoreData(w, "a", []byte("a0"))
	s.StoreData(w, "b", []byte("b0"))
	s.StoreData(w, "a", []byte("a1"))
	w.Exit()

	replay := world.New("evt", "run-2", s, pacifier.NewReplay(nil), nil, nil)
	replay.Enter()
	a0, _ := s.Load(replay, "a")
	b0, _ := s.Load(replay, "b")
	a1, _ := s.Load(replay, "a")
	replay.Exit()

	if string(a0) != "a0" || string(b0) != "b0" || string(a1) != "a1" {
		t.Errorf("got a0=%q b0=%q a1=%q", a0, b0, a1)
	}
}

func TestTagRunNoOpDuringReplay(t *testing.T) {
	backend := memory.New()
	backend.Open()
	defer backend.Close()
	s := store.New(backend, nil)

	w := world.New("evt", "run-3", s, nil, nil, nil)
	w.Enter()
	w.Tag("original")
	w.Exit()

	replay := world.New("evt", "run-3", s, pacifier.NewReplay(nil), nil, nil)
	replay.Enter()
	replay.Tag("should-not-stick")
	replay.Exit()

	runs, err := s.ListRuns("evt", 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if _, ok := runs[0].Tags["should-not-stick"]; ok {
		t.Error("tagging during replay should not have stuck")
	}
	if _, ok := runs[0].Tags["original"]; !ok {
		t.Error("original tag should still be present")
	}
}

func TestListRunsFiltersByTag(t *testing.T) {
	backend := memory.New()
	backend.Open()
	defer backend.Close()
	s := store.New(backend, nil)

	for i, tag := range []string{"prod", "dev"} {
		w := world.New("evt", "run-"+tag, s, nil, nil, nil)
		w.Enter()
		w.Tag(tag)
		s.StoreData(w, "x", []byte{byte(i)})
		w.Exit()
	}

	runs, err := s.ListRuns("evt", 0, 0, []string{"prod"})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-prod" {
		t.Fatalf("expected only run-prod, got %+v", runs)
	}
}

func TestListRunsAnyTagIsOrNotAnd(t *testing.T) {
	backend := memory.New()
	backend.Open()
	defer backend.Close()
	s := store.New(backend, nil)

	for runid, tags := range map[string][]string{
		"run-a":  {"a"},
		"run-b":  {"b"},
		"run-ac": {"a", "c"},
	} {
		w := world.New("evt", runid, s, nil, nil, nil)
		w.Enter()
		for _, tag := range tags {
			w.Tag(tag)
		}
		s.StoreData(w, "x", nil)
		w.Exit()
	}

	runs, err := s.ListRuns("evt", 0, 0, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected all 3 runs (any_tag is OR), got %d: %+v", len(runs), runs)
	}
}
