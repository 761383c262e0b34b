// Package memory implements an in-process store.Backend: a map of maps,
// with every read returning a deep copy so a caller can't mutate the
// journal by holding onto a loaded Run. Deep copy is done by a
// serialize/deserialize round trip through msgpack rather than a hand
// written copier, mirroring how the rest of this codebase reaches for a
// library instead of reimplementing one.
package memory

import (
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"girl/internal/store"
)

type wireItem struct {
	Key  string
	TS   float64
	Data []byte
}

type wireRun struct {
	RunID string
	TS    float64
	Tags  []string
	Items []wireItem
}

// Backend is the in-memory store.Backend.
type Backend struct {
	mu   sync.Mutex
	runs map[string]map[string]wireRun // id -> runid -> run
}

// New builds an empty in-memory backend.
func New() *Backend {
	return &Backend{runs: make(map[string]map[string]wireRun)}
}

func (b *Backend) Open() error  { return nil }
func (b *Backend) Close() error { return nil }

func toWire(run *store.Run) wireRun {
	tags := make([]string, 0, len(run.Tags))
	for t := range run.Tags {
		tags = append(tags, t)
	}
	items := make([]wireItem, 0, run.Data.Len())
	for _, it := range run.Data.Items() {
		items = append(items, wireItem{Key: it.Key, TS: it.TS, Data: it.Data})
	}
	return wireRun{RunID: run.RunID, TS: run.TS, Tags: tags, Items: items}
}

// deepCopy round-trips w through msgpack so the returned wireRun shares no
// backing arrays with the one stored in the map.
func deepCopy(w wireRun) (wireRun, error) {
	raw, err := msgpack.Marshal(w)
	if err != nil {
		return wireRun{}, err
	}
	var out wireRun
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return wireRun{}, err
	}
	return out, nil
}

func fromWire(w wireRun) *store.Run {
	run := &store.Run{RunID: w.RunID, TS: w.TS, Tags: make(map[string]struct{}, len(w.Tags)), Data: store.NewOrderedData()}
	for _, t := range w.Tags {
		run.Tags[t] = struct{}{}
	}
	for _, it := range w.Items {
		run.Data.Append(it.Key, it.TS, it.Data)
	}
	return run
}

// StoreRun stores a deep copy of run under id/run.RunID.
func (b *Backend) StoreRun(id string, run *store.Run) error {
	w, err := deepCopy(toWire(run))
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.runs[id]
	if !ok {
		bucket = make(map[string]wireRun)
		b.runs[id] = bucket
	}
	bucket[run.RunID] = w
	return nil
}

// LoadRun scans every event id's bucket for runid and returns a deep copy.
func (b *Backend) LoadRun(runid string) (string, *store.Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, bucket := range b.runs {
		if w, ok := bucket[runid]; ok {
			cp, err := deepCopy(w)
			if err != nil {
				return "", nil, err
			}
			return id, fromWire(cp), nil
		}
	}
	return "", nil, store.ErrNotFound
}

// ListRuns returns, for event id, the runs within [minTS, maxTS] (0 disables
// a bound) carrying at least one tag in withTags (vacuously true when
// withTags is empty).
func (b *Backend) ListRuns(id string, minTS, maxTS float64, withTags []string) ([]store.RunPartial, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket := b.runs[id]
	out := make([]store.RunPartial, 0, len(bucket))
	for _, w := range bucket {
		if minTS != 0 && w.TS < minTS {
			continue
		}
		if maxTS != 0 && w.TS > maxTS {
			continue
		}
		if !hasAnyTag(w.Tags, withTags) {
			continue
		}
		tags := make(map[string]struct{}, len(w.Tags))
		for _, t := range w.Tags {
			tags[t] = struct{}{}
		}
		out = append(out, store.RunPartial{RunID: w.RunID, TS: w.TS, Tags: tags})
	}
	return out, nil
}

func hasAnyTag(have []string, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// KnownTags returns every tag recorded across every event id.
func (b *Backend) KnownTags() (map[string]struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]struct{})
	for _, bucket := range b.runs {
		for _, w := range bucket {
			for _, t := range w.Tags {
				out[t] = struct{}{}
			}
		}
	}
	return out, nil
}

// Status reports the number of tracked event ids and total runs.
func (b *Backend) Status() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, bucket := range b.runs {
		total += len(bucket)
	}
	return fmt.Sprintf("memory backend: %d event ids, %d runs", len(b.runs), total), nil
}

var _ store.Backend = (*Backend)(nil)
