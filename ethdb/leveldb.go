package ethdb

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is the on-disk Database backend used outside of tests.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at path. cacheMB and
// handles tune the block cache size and open-file handle count, mirroring
// the knobs the teacher's node exposes as CLI flags one layer up the stack.
func OpenLevelDB(path string, cacheMB, handles int) (*LevelDB, error) {
	if cacheMB < 16 {
		cacheMB = 16
	}
	if handles < 16 {
		handles = 16
	}
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cacheMB / 2 * opt.MiB,
		WriteBuffer:            cacheMB / 4 * opt.MiB,
		Filter:                 nil,
	})
	if err != nil {
		return nil, fmt.Errorf("ethdb: open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix, start []byte) Iterator {
	return l.db.NewIterator(bytesPrefixRange(prefix, start), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, b: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func bytesPrefixRange(prefix, start []byte) *util.Range {
	r := util.BytesPrefix(prefix)
	if len(start) > 0 {
		r.Start = append(append([]byte{}, prefix...), start...)
	}
	return r
}

type levelBatch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *levelBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) ValueSize() int { return b.size }

func (b *levelBatch) Write() error {
	return b.db.Write(b.b, nil)
}

func (b *levelBatch) Reset() {
	b.b.Reset()
	b.size = 0
}
