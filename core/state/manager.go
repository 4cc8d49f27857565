package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"openbounty/core/events"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/storage"
)

// Manager owns the committed ledger state. All mutations go through a Tx,
// which is applied to the database as a single batch.
type Manager struct {
	db      storage.Database
	locks   *Locks
	emitter events.Emitter

	// commitMu orders batch writes so a committed Tx is never interleaved with
	// another commit.
	commitMu sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, locks: NewLocks(), emitter: events.NoopEmitter{}}
}

// SetEmitter configures where committed events are delivered. Passing nil
// resets the emitter to a no-op implementation.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// Locks exposes the per-address lock table guarding writers.
func (m *Manager) Locks() *Locks {
	return m.locks
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// KVGet decodes the committed value stored under key into out. The boolean
// reports whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(key)
	if err != nil || !ok {
		return false, err
	}
	return decodeInto(data, out)
}

// KVIterate visits every committed record whose key starts with prefix. The
// decode callback unmarshals the current record.
func (m *Manager) KVIterate(prefix []byte, fn func(key []byte, decode func(out interface{}) error) bool) error {
	if len(prefix) == 0 {
		return fmt.Errorf("kv: prefix must not be empty")
	}
	return m.db.Iterate(prefix, func(key, value []byte) bool {
		return fn(key, func(out interface{}) error { return rlp.DecodeBytes(value, out) })
	})
}

// GetAccount returns the committed account at addr, or an empty account.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	data, ok, err := m.read(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return decodeAccount(data)
}

// Begin opens a Tx over the committed state. The caller must Commit or
// Discard it; callers that need isolation use Update instead.
func (m *Manager) Begin() *Tx {
	return &Tx{manager: m, writes: make(map[string][]byte)}
}

// Update locks the declared write set, runs fn inside a Tx and commits it if fn
// succeeds. Events emitted into the Tx are delivered to the emitter after the
// commit, while the write set is still held, and returned to the caller.
func (m *Manager) Update(writeSet []crypto.Address, fn func(tx *Tx) error) ([]events.Event, error) {
	release := m.locks.Acquire(writeSet...)
	defer release()

	tx := m.Begin()
	if err := fn(tx); err != nil {
		tx.Discard()
		return nil, err
	}
	committed := tx.Events.Events()
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	tx.Events.Flush(m.emitter)
	return committed, nil
}

func (m *Manager) write(batch *storage.Batch) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	return m.db.Write(batch)
}

func decodeInto(data []byte, out interface{}) (bool, error) {
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
