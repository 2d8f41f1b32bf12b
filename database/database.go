package database

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_errors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound diekspor untuk digunakan oleh package lain.
var ErrNotFound = errors.New("database: not found")

// Database is the key-value surface the block store needs.
type Database interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	NewBatch() *Batch
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Options tune the LevelDB instance.
type Options struct {
	CacheMB int // ukuran block cache (MB)
	Handles int // batas file yang terbuka
}

type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a database at path. A corrupted database
// akan di-recover di tempat.
func NewLevelDB(path string, o Options) (*LevelDB, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	if o.CacheMB > 0 {
		opts.BlockCacheCapacity = o.CacheMB * opt.MiB
	}
	if o.Handles > 0 {
		opts.OpenFilesCacheCapacity = o.Handles
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		if ldb_errors.IsCorrupted(err) {
			db, err = leveldb.RecoverFile(path, nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return &LevelDB{db: db}, nil
}

// NewMemoryDB membuka instance LevelDB di memori, untuk test dan
// chain sementara.
func NewMemoryDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

// Iterate calls fn for every key with the given prefix in key order. The
// slice yang diberikan ke fn hanya valid selama pemanggilan.
func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// NewBatch starts an atomic group of writes.
func (ldb *LevelDB) NewBatch() *Batch {
	return &Batch{batch: new(leveldb.Batch), db: ldb}
}

// Batch collects writes that are applied together by Write.
type Batch struct {
	batch *leveldb.Batch
	db    *LevelDB
	size  int
}

func (b *Batch) Put(key, value []byte) {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
}

// ValueSize adalah jumlah byte yang antre.
func (b *Batch) ValueSize() int {
	return b.size
}

func (b *Batch) Write() error {
	return b.db.db.Write(b.batch, nil)
}
