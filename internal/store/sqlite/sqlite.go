// Package sqlite implements a durable store.Backend on top of an embedded
// SQLite database (modernc.org/sqlite, a pure-Go driver, so the backend
// needs no cgo toolchain). Runs live in two STRICT, WITHOUT ROWID tables:
// event_runs (one row per run: id, runid, ts, tab-joined tags) and run_data
// (one row per stored item: id, runid, position, key, ts, data). Tags are
// matched with a case-sensitive LIKE against the tab-joined string, with the
// pattern's own '!', '%' and '_' escaped so a tag containing them can't be
// mistaken for a wildcard.
package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"girl/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_runs (
	id    TEXT NOT NULL,
	runid TEXT NOT NULL,
	ts    REAL NOT NULL,
	tags  TEXT NOT NULL,
	PRIMARY KEY (id, runid)
) STRICT, WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS run_data (
	id       TEXT NOT NULL,
	runid    TEXT NOT NULL,
	position INTEGER NOT NULL,
	key      TEXT NOT NULL,
	ts       REAL NOT NULL,
	data     BLOB NOT NULL,
	PRIMARY KEY (id, runid, position)
) STRICT, WITHOUT ROWID;
`

// RollPolicy bounds how much history a single event id retains: runs beyond
// the NbEntries newest, and runs more than OldEntries seconds older than the
// id's newest run, are deleted by rollVacuum. When both are set the stricter
// applies (the one that keeps fewer runs). Either field 0 disables that half
// of the policy.
type RollPolicy struct {
	NbEntries  int
	OldEntries float64
}

// Backend is the SQLite store.Backend.
type Backend struct {
	path   string
	policy RollPolicy

	mu sync.Mutex // serializes StoreRun, mirroring one writer per connection
	db *sql.DB
}

// New builds a backend over the database file at path (":memory:" for an
// ephemeral one). policy.NbEntries/OldEntries of 0 disables that roll rule.
func New(path string, policy RollPolicy) *Backend {
	return &Backend{path: path, policy: policy}
}

func (b *Backend) Open() error {
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA case_sensitive_like = true;`); err != nil {
		db.Close()
		return err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return err
	}
	b.db = db
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func toTagstr(tags map[string]struct{}) string {
	names := make([]string, 0, len(tags))
	for t := range tags {
		names = append(names, t)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "\t"
	}
	return "\t" + strings.Join(names, "\t") + "\t"
}

func fromTagstr(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Split(strings.Trim(s, "\t"), "\t") {
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

// escapeLike escapes '!', '%' and '_' with '!' for use in a LIKE pattern
// with ESCAPE '!'.
func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func tagLikePattern(tag string) string {
	return "%\t" + escapeLike(tag) + "\t%"
}

// StoreRun writes run under id, then rolls off excess history per policy.
func (b *Backend) StoreRun(id string, run *store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO event_runs (id, runid, ts, tags) VALUES (?, ?, ?, ?)`,
		id, run.RunID, run.TS, toTagstr(run.Tags),
	); err != nil {
		return err
	}
	for i, it := range run.Data.Items() {
		if _, err := tx.Exec(
			`INSERT INTO run_data (id, runid, position, key, ts, data) VALUES (?, ?, ?, ?, ?, ?)`,
			id, run.RunID, i, it.Key, it.TS, it.Data,
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return b.rollVacuum(id)
}

// rollVacuum deletes the oldest runs under id past whichever of the two
// roll thresholds is stricter (i.e. the cutoff that keeps fewer rows).
func (b *Backend) rollVacuum(id string) error {
	if b.policy.NbEntries <= 0 && b.policy.OldEntries <= 0 {
		return nil
	}
	rows, err := b.db.Query(`SELECT runid FROM event_runs WHERE id = ? ORDER BY ts DESC`, id)
	if err != nil {
		return err
	}
	var runids []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return err
		}
		runids = append(runids, r)
	}
	rows.Close()

	keepByCount := len(runids)
	if b.policy.NbEntries > 0 {
		keepByCount = b.policy.NbEntries
	}
	keepByAge := len(runids)
	if b.policy.OldEntries > 0 {
		var cutoff float64
		if err := b.db.QueryRow(`SELECT COALESCE(MAX(ts), 0) FROM event_runs WHERE id = ?`, id).Scan(&cutoff); err != nil {
			return err
		}
		cutoff -= b.policy.OldEntries
		n := 0
		for _, r := range runids {
			var ts float64
			if err := b.db.QueryRow(`SELECT ts FROM event_runs WHERE id = ? AND runid = ?`, id, r).Scan(&ts); err != nil {
				return err
			}
			if ts < cutoff {
				break
			}
			n++
		}
		keepByAge = n
	}
	keep := keepByCount
	if keepByAge < keep {
		keep = keepByAge
	}
	if keep >= len(runids) {
		return nil
	}
	for _, r := range runids[keep:] {
		if _, err := b.db.Exec(`DELETE FROM run_data WHERE id = ? AND runid = ?`, id, r); err != nil {
			return err
		}
		if _, err := b.db.Exec(`DELETE FROM event_runs WHERE id = ? AND runid = ?`, id, r); err != nil {
			return err
		}
	}
	return nil
}

// LoadRun scans every id for runid.
func (b *Backend) LoadRun(runid string) (string, *store.Run, error) {
	var id string
	var ts float64
	var tagstr string
	err := b.db.QueryRow(`SELECT id, ts, tags FROM event_runs WHERE runid = ?`, runid).Scan(&id, &ts, &tagstr)
	if err == sql.ErrNoRows {
		return "", nil, store.ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	run := &store.Run{RunID: runid, TS: ts, Tags: fromTagstr(tagstr), Data: store.NewOrderedData()}

	rows, err := b.db.Query(`SELECT key, ts, data FROM run_data WHERE id = ? AND runid = ? ORDER BY position`, id, runid)
	if err != nil {
		return "", nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var its float64
		var data []byte
		if err := rows.Scan(&key, &its, &data); err != nil {
			return "", nil, err
		}
		run.Data.Append(key, its, data)
	}
	return id, run, rows.Err()
}

// ListRuns returns runs under id within [minTS, maxTS] carrying at least one
// tag in withTags (vacuously true when withTags is empty), via a
// case-sensitive LIKE against the tab-joined tag string.
func (b *Backend) ListRuns(id string, minTS, maxTS float64, withTags []string) ([]store.RunPartial, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT runid, ts, tags FROM event_runs WHERE id = ?`)
	args := []any{id}
	if minTS != 0 {
		q.WriteString(` AND ts >= ?`)
		args = append(args, minTS)
	}
	if maxTS != 0 {
		q.WriteString(` AND ts <= ?`)
		args = append(args, maxTS)
	}
	if len(withTags) > 0 {
		clauses := make([]string, len(withTags))
		for i, tag := range withTags {
			clauses[i] = `tags LIKE ? ESCAPE '!'`
			args = append(args, tagLikePattern(tag))
		}
		q.WriteString(` AND (` + strings.Join(clauses, ` OR `) + `)`)
	}
	q.WriteString(` ORDER BY ts`)

	rows, err := b.db.Query(q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.RunPartial
	for rows.Next() {
		var runid, tagstr string
		var ts float64
		if err := rows.Scan(&runid, &ts, &tagstr); err != nil {
			return nil, err
		}
		out = append(out, store.RunPartial{RunID: runid, TS: ts, Tags: fromTagstr(tagstr)})
	}
	return out, rows.Err()
}

// KnownTags returns every distinct tag recorded across every event id.
func (b *Backend) KnownTags() (map[string]struct{}, error) {
	rows, err := b.db.Query(`SELECT tags FROM event_runs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var tagstr string
		if err := rows.Scan(&tagstr); err != nil {
			return nil, err
		}
		for t := range fromTagstr(tagstr) {
			out[t] = struct{}{}
		}
	}
	return out, rows.Err()
}

// Status reports page count and run/item totals.
func (b *Backend) Status() (string, error) {
	var pageCount, pageSize int64
	if err := b.db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return "", err
	}
	if err := b.db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return "", err
	}
	var runs, items int64
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM event_runs`).Scan(&runs); err != nil {
		return "", err
	}
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM run_data`).Scan(&items); err != nil {
		return "", err
	}
	return fmt.Sprintf("sqlite backend: %d bytes, %d runs, %d items", pageCount*pageSize, runs, items), nil
}

var _ store.Backend = (*Backend)(nil)
