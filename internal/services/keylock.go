package services

import (
	"slices"
	"sync"

	"budget/internal/core"
)

// keyedMutex hands out one mutex per name. Entries are reference
// counted and dropped once no goroutine holds or waits for them, so the map
// only grows with the number of keys in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is held and returns the matching unlock function.
func (k *keyedMutex) Lock(key core.LedgerKey) func() {
	return k.lockName(key.String())
}

func (k *keyedMutex) lockName(name string) func() {
	k.mu.Lock()
	m, ok := k.locks[name]
	if !ok {
		m = &refMutex{}
		k.locks[name] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, name)
		}
		k.mu.Unlock()
	}
}

// LockAll takes every distinct key in LedgerKey.Less order and returns a
// function releasing them in reverse.
func (k *keyedMutex) LockAll(keys []core.LedgerKey) func() {
	ordered := sortedKeys(keys)
	unlocks := make([]func(), 0, len(ordered))
	for _, key := range ordered {
		unlocks = append(unlocks, k.Lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// size reports the number of live entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func sortedKeys(keys []core.LedgerKey) []core.LedgerKey {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b core.LedgerKey) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return slices.CompactFunc(out, func(a, b core.LedgerKey) bool {
		return a.String() == b.String()
	})
}
