package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"openbounty/core/events"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/storage"
)

// ErrTxClosed is returned when a committed or discarded Tx is reused.
var ErrTxClosed = errors.New("state: transaction closed")

// Tx is a write overlay on top of the committed state. Reads observe the
// overlay first; nothing reaches the database until Commit, which writes the
// whole overlay in one atomic batch.
type Tx struct {
	manager *Manager
	writes  map[string][]byte
	closed  bool

	// Events collects events raised by the unit of work.
	Events events.Buffer
}

func (tx *Tx) read(key []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxClosed
	}
	if data, ok := tx.writes[string(key)]; ok {
		return data, true, nil
	}
	return tx.manager.read(key)
}

// KVGet decodes the value stored under key, observing pending writes.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := tx.read(key)
	if err != nil || !ok {
		return false, err
	}
	return decodeInto(data, out)
}

// KVPut stores the RLP encoding of value under key in the overlay.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return ErrTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	tx.writes[string(key)] = encoded
	return nil
}

// GetAccount returns the account at addr as seen by this Tx.
func (tx *Tx) GetAccount(addr crypto.Address) (*types.Account, error) {
	data, ok, err := tx.read(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	return decodeAccount(data)
}

// PutAccount stages the account at addr.
func (tx *Tx) PutAccount(addr crypto.Address, account *types.Account) error {
	if tx.closed {
		return ErrTxClosed
	}
	encoded, err := encodeAccount(account)
	if err != nil {
		return fmt.Errorf("account %s: %w", addr, err)
	}
	tx.writes[string(accountKey(addr))] = encoded
	return nil
}

// Emit records an event to be delivered once the Tx commits.
func (tx *Tx) Emit(evt *types.Event) {
	if evt == nil {
		return
	}
	tx.Events.Emit(events.Typed{Evt: evt})
}

// Dirty reports the number of staged keys.
func (tx *Tx) Dirty() int {
	return len(tx.writes)
}

// Commit applies all staged writes atomically and closes the Tx.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	if len(tx.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, key := range keys {
		batch.Put([]byte(key), tx.writes[key])
	}
	tx.writes = nil
	return tx.manager.write(batch)
}

// Discard drops all staged writes and events.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = nil
	tx.Events.Reset()
}
