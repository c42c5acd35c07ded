package hashmap

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

var _ HashMap[string, int] = (*ConcurrentMap[string, int])(nil)

// ConcurrentMap is a HashMap backed by a sharded concurrent map.
type ConcurrentMap[K comparable, V any] struct {
	backend cmap.ConcurrentMap[K, V]
}

// NewConcurrentMap creates a map with string keys.
//
// cmap.SHARD_COUNT is read on every access and must not change once a map exists.
func NewConcurrentMap[V any]() *ConcurrentMap[string, V] {
	return &ConcurrentMap[string, V]{
		backend: cmap.New[V](),
	}
}

// NewConcurrentMapStringer creates a map whose keys are sharded by their String() representation.
func NewConcurrentMapStringer[K cmap.Stringer, V any]() *ConcurrentMap[K, V] {
	return &ConcurrentMap[K, V]{
		backend: cmap.NewStringer[K, V](),
	}
}

func (m *ConcurrentMap[K, V]) Delete(key K) {
	m.backend.Remove(key)
}

func (m *ConcurrentMap[K, V]) Load(key K) (V, bool) {
	return m.backend.Get(key)
}

func (m *ConcurrentMap[K, V]) LoadAndDelete(key K) (retVal V, retExists bool) {
	m.backend.RemoveCb(key, func(key K, val V, exists bool) bool {
		retVal = val
		retExists = exists
		return true
	})
	return
}

func (m *ConcurrentMap[K, V]) LoadOrStore(key K, value V) (V, bool) {
	var (
		actual V
		loaded bool
	)
	m.backend.Upsert(key, value, func(exist bool, valueInMap V, newValue V) V {
		if exist {
			actual, loaded = valueInMap, true
			return valueInMap
		}
		actual = newValue
		return newValue
	})
	return actual, loaded
}

func (m *ConcurrentMap[K, V]) Range(cb func(K, V) bool) {
	next := true
	for item := range m.backend.IterBuffered() {
		if next {
			next = cb(item.Key, item.Val)
		}
		// iterate over all items to drain the channel
	}
}

func (m *ConcurrentMap[K, V]) Store(key K, val V) {
	m.backend.Set(key, val)
}

func (m *ConcurrentMap[K, V]) Len() int {
	return m.backend.Count()
}
