package state

import (
	"bytes"
	"sort"
	"sync"

	"openbounty/crypto"
)

// Locks provides mutual exclusion per ledger address. Writers acquire the
// whole write set at once, in address order, so two writers sharing any
// address are serialized and no acquisition order can deadlock.
type Locks struct {
	mu      sync.Mutex
	entries map[crypto.Address]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{entries: make(map[crypto.Address]*lockEntry)}
}

// Acquire blocks until every address is held and returns the release func.
func (l *Locks) Acquire(addrs ...crypto.Address) func() {
	ordered := normalizeWriteSet(addrs)
	held := make([]*lockEntry, 0, len(ordered))
	for _, addr := range ordered {
		entry := l.ref(addr)
		entry.mu.Lock()
		held = append(held, entry)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.unref(ordered[i])
			}
		})
	}
}

// Size reports how many addresses currently have waiters or holders.
func (l *Locks) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locks) ref(addr crypto.Address) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[addr]
	if !ok {
		entry = &lockEntry{}
		l.entries[addr] = entry
	}
	entry.refs++
	return entry
}

func (l *Locks) unref(addr crypto.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[addr]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, addr)
	}
}

func normalizeWriteSet(addrs []crypto.Address) []crypto.Address {
	out := make([]crypto.Address, 0, len(addrs))
	seen := make(map[crypto.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		if addr.IsZero() {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
