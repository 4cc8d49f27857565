package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the ledger to use any database backend (in-memory or persistent).
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	// Write applies every operation in the batch atomically.
	Write(batch *Batch) error
	// Iterate calls fn for each key with the given prefix in key order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	Close() // A way to gracefully shut down the database connection.
}

// Batch collects writes that are applied as one unit.
type Batch struct {
	inner leveldb.Batch
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.inner.Put(key, value)
}

func (b *Batch) Delete(key []byte) {
	b.inner.Delete(key)
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	return b.inner.Len()
}

// --- Persistent DB ---

// LevelDB is a key-value store backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Write(batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	return ldb.db.Write(&batch.inner, nil)
}

func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if !fn(key, value) {
			break
		}
	}
	return iter.Error()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	_ = ldb.db.Close()
}

// --- In-Memory DB (for testing) ---

// MemDB is a LevelDB instance on volatile memory storage.
type MemDB struct {
	*LevelDB
}

func NewMemDB() *MemDB {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		// Opening memory storage only fails on programmer error.
		panic(err)
	}
	return &MemDB{LevelDB: &LevelDB{db: db}}
}
