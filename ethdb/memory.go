package ethdb

import (
	"sort"
	"sync"
)

// MemoryDatabase is an in-memory Database used by tests in place of a real
// LevelDB instance.
type MemoryDatabase struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryDatabase returns an empty MemoryDatabase.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{data: make(map[string][]byte)}
}

func (m *MemoryDatabase) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemoryDatabase) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryDatabase) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemoryDatabase) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemoryDatabase) NewIterator(prefix, start []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if len(k) < len(prefix) || k[:len(prefix)] != string(prefix) {
			continue
		}
		if len(start) > 0 && k[len(prefix):] < string(start) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	return &memIterator{keys: keys, values: values, idx: -1}
}

func (m *MemoryDatabase) NewBatch() Batch {
	return &memBatch{parent: m}
}

func (m *MemoryDatabase) Close() error { return nil }

type memIterator struct {
	keys   []string
	values [][]byte
	idx    int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte { return it.values[it.idx] }
func (it *memIterator) Error() error  { return nil }
func (it *memIterator) Release()      {}

type memBatchOp struct {
	key, value []byte
	delete     bool
}

type memBatch struct {
	parent *MemoryDatabase
	ops    []memBatchOp
	size   int
}

func (b *memBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, memBatchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	b.size += len(key) + len(value)
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memBatchOp{key: append([]byte(nil), key...), delete: true})
	b.size += len(key)
	return nil
}

func (b *memBatch) ValueSize() int { return b.size }

func (b *memBatch) Write() error {
	for _, op := range b.ops {
		if op.delete {
			if err := b.parent.Delete(op.key); err != nil {
				return err
			}
			continue
		}
		if err := b.parent.Put(op.key, op.value); err != nil {
			return err
		}
	}
	return nil
}

func (b *memBatch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
