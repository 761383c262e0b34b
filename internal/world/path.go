package world

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/afero"
)

// Path is a filesystem location reached through a World: every read is
// recorded to the Store (or served from it, during replay) and every
// write is routed through the Pacifier when one is replaying.
type Path struct {
	world *World
	path  string
}

// File returns a tracked handle to the path formed by joining parts with
// filepath.Join, resolved against the world's filesystem. The joined path
// is not made absolute; it is also the key reads are journaled under.
func (w *World) File(parts ...string) *Path {
	return &Path{world: w, path: filepath.Join(parts...)}
}

func (p *Path) String() string { return p.path }

// ReadBytes reads the file, recording its contents to the Store on a live
// run or serving them from the journal during replay.
func (p *Path) ReadBytes() ([]byte, error) {
	w := p.world
	if w.IsReplaying() {
		return w.store.Load(w, p.path)
	}
	data, err := afero.ReadFile(w.fs, p.path)
	if err != nil {
		return nil, err
	}
	if err := w.store.StoreData(w, p.path, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadText reads the file as UTF-8 text.
func (p *Path) ReadText() (string, error) {
	data, err := p.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadJSON reads and decodes the file as JSON into v.
func (p *Path) ReadJSON(v any) error {
	data, err := p.ReadBytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// WriteBytes writes data to the file. During replay the write is routed
// through the Pacifier instead of touching the real filesystem.
func (p *Path) WriteBytes(data []byte) error {
	w := p.world
	if w.Pacifier != nil {
		_, err := w.Pacifier.Performing(w, SideEffectWriteBytes, p.path, data)
		if w.IsReplaying() {
			return err
		}
	}
	return afero.WriteFile(w.fs, p.path, data, 0o644)
}

// WriteText writes s to the file as UTF-8 text.
func (p *Path) WriteText(s string) error {
	return p.WriteBytes([]byte(s))
}

// WriteJSON encodes v and writes it to the file.
func (p *Path) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.WriteBytes(data)
}
