package memory_test

import (
	"testing"

	"girl/internal/store"
	"girl/internal/store/memory"
)

func TestLoadRunReturnsIndependentCopy(t *testing.T) {
	b := memory.New()
	b.Open()
	defer b.Close()

	run := &store.Run{RunID: "r1", TS: 1, Tags: map[string]struct{}{"x": {}}, Data: store.NewOrderedData()}
	run.Data.Append("k", 1, []byte("original"))
	if err := b.StoreRun("evt", run); err != nil {
		t.Fatal(err)
	}

	_, loaded, err := b.LoadRun("r1")
	if err != nil {
		t.Fatal(err)
	}
	data, _, _ := loaded.Data.Get("k")
	data[0] = 'X' // mutate the loaded copy

	_, reloaded, err := b.LoadRun("r1")
	if err != nil {
		t.Fatal(err)
	}
	data2, _, _ := reloaded.Data.Get("k")
	if string(data2) != "original" {
		t.Errorf("mutation of a loaded run leaked into storage: got %q", data2)
	}
}

func TestLoadRunNotFound(t *testing.T) {
	b := memory.New()
	b.Open()
	defer b.Close()
	if _, _, err := b.LoadRun("nope"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
