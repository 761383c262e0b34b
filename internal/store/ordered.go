package store

import "fmt"

// entry is one insertion-ordered (key, timestamp, payload) triple.
type entry struct {
	Key  string
	TS   float64
	Data []byte
}

// OrderedData is an insertion-ordered key -> (ts, payload) mapping. Writing
// an already-present key does not overwrite it: callers must first resolve
// the key to write under via NextFreeKey, which picks "<key> (N)" for the
// smallest non-negative N not already present.
type OrderedData struct {
	items []entry
	index map[string]int
}

// NewOrderedData returns an empty ordered map.
func NewOrderedData() *OrderedData {
	return &OrderedData{index: make(map[string]int)}
}

// NextFreeKey returns base if unused, otherwise the first "<base> (N)" not
// already present, N starting at 0.
func (d *OrderedData) NextFreeKey(base string) string {
	if _, ok := d.index[base]; !ok {
		return base
	}
	for n := 0; ; n++ {
		cand := fmt.Sprintf("%s (%d)", base, n)
		if _, ok := d.index[cand]; !ok {
			return cand
		}
	}
}

// Append records data under key, which must not already be present (use
// NextFreeKey first). Preserves insertion order.
func (d *OrderedData) Append(key string, ts float64, data []byte) {
	d.index[key] = len(d.items)
	d.items = append(d.items, entry{Key: key, TS: ts, Data: data})
}

// Get looks up the exact key, without any disambiguation search.
func (d *OrderedData) Get(key string) (data []byte, ts float64, ok bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, 0, false
	}
	it := d.items[i]
	return it.Data, it.TS, true
}

// Take removes and returns the exact key, if present. Used by the replay
// consumption pool: once taken, a key is no longer available.
func (d *OrderedData) Take(key string) (data []byte, ts float64, ok bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, 0, false
	}
	it := d.items[i]
	delete(d.index, key)
	return it.Data, it.TS, true
}

// TakeMirror implements the replay disambiguation rule: if base isn't
// present, advance through "<base> (0)", "<base> (1)", … picking the first
// one still present, and consume it. Mirrors the write-side rule so that N
// identical writes replay back in the same order they were recorded.
func (d *OrderedData) TakeMirror(base string) (key string, data []byte, ts float64, ok bool) {
	if data, ts, ok := d.Take(base); ok {
		return base, data, ts, true
	}
	bound := len(d.items) + 1
	for n := 0; n < bound; n++ {
		cand := fmt.Sprintf("%s (%d)", base, n)
		if data, ts, ok := d.Take(cand); ok {
			return cand, data, ts, true
		}
	}
	return "", nil, 0, false
}

// Len reports the number of entries ever appended (Take does not shrink it).
func (d *OrderedData) Len() int { return len(d.items) }

// Items returns the entries in insertion order. Callers must not mutate the
// returned slice's byte slices.
func (d *OrderedData) Items() []entry {
	return d.items
}

// Clone returns a deep, independent copy.
func (d *OrderedData) Clone() *OrderedData {
	out := &OrderedData{
		items: make([]entry, len(d.items)),
		index: make(map[string]int, len(d.index)),
	}
	for i, it := range d.items {
		cp := make([]byte, len(it.Data))
		copy(cp, it.Data)
		out.items[i] = entry{Key: it.Key, TS: it.TS, Data: cp}
	}
	for k, v := range d.index {
		out.index[k] = v
	}
	return out
}
