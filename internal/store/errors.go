package store

import "errors"

// ErrNotFound is returned by Backend.LoadRun when no run matches the runid,
// and by Load when the mirror search exhausts every disambiguated name.
var ErrNotFound = errors.New("store: not found")

// ErrNoRun is returned by StoreData/Load/TagRun/FinishRun when called outside a
// BeginRun/FinishRun bracket for the given world.
var ErrNoRun = errors.New("store: no run in progress for this world")

// ErrReplayOnly is returned by StoreData when called against a world that
// is replaying (has a pacifier that is not observing live).
var ErrReplayOnly = errors.New("store: cannot write during replay")

// ErrLiveOnly is returned by Load when called against a world that is not
// replaying.
var ErrLiveOnly = errors.New("store: load is only valid during replay")
