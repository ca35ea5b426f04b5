package ethdb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreetc/chainsync/ethdb"
)

func databases(t *testing.T) map[string]ethdb.Database {
	t.Helper()
	ldb, err := ethdb.OpenLevelDB(t.TempDir(), 16, 16)
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })
	return map[string]ethdb.Database{
		"leveldb": ldb,
		"memory":  ethdb.NewMemoryDatabase(),
	}
}

func TestPutGetHasDelete(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("k1"), []byte("v1")))

			ok, err := db.Has([]byte("k1"))
			require.NoError(t, err)
			require.True(t, ok)

			v, err := db.Get([]byte("k1"))
			require.NoError(t, err)
			require.Equal(t, []byte("v1"), v)

			require.NoError(t, db.Delete([]byte("k1")))
			ok, err = db.Has([]byte("k1"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ethdb.ErrNotFound)
		})
	}
}

func TestBatchWritesAtomically(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			batch := db.NewBatch()
			require.NoError(t, batch.Put([]byte("a"), []byte("1")))
			require.NoError(t, batch.Put([]byte("b"), []byte("2")))
			require.Greater(t, batch.ValueSize(), 0)
			require.NoError(t, batch.Write())

			v, err := db.Get([]byte("a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), v)

			batch.Reset()
			require.Equal(t, 0, batch.ValueSize())
		})
	}
}

func TestIteratorWalksPrefixInOrder(t *testing.T) {
	for name, db := range databases(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("h01"), []byte("one")))
			require.NoError(t, db.Put([]byte("h02"), []byte("two")))
			require.NoError(t, db.Put([]byte("x99"), []byte("other")))

			it := db.NewIterator([]byte("h"), nil)
			defer it.Release()

			var keys []string
			for it.Next() {
				keys = append(keys, string(it.Key()))
			}
			require.NoError(t, it.Error())
			require.Equal(t, []string{"h01", "h02"}, keys)
		})
	}
}
