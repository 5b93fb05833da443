package security

import "container/list"

// lruEntry pairs a tracked key with its limiter state
type lruEntry struct {
	key   string
	value any
}

// lruIndex is the bounded map-plus-recency-list used by the per-IP
// limiters. Not safe for concurrent use; callers hold their own lock.
type lruIndex struct {
	byKey map[string]*list.Element
	order *list.List // front = most recently used
	max   int        // 0 = unbounded
}

func newLRUIndex(max int) *lruIndex {
	return &lruIndex{
		byKey: make(map[string]*list.Element),
		order: list.New(),
		max:   max,
	}
}

// touch marks key as most recently used and returns its value
func (x *lruIndex) touch(key string) (any, bool) {
	elem, ok := x.byKey[key]
	if !ok {
		return nil, false
	}
	x.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true
}

// insert adds a new key, evicting the least recently used entry when at
// capacity. Returns the evicted key, or "".
func (x *lruIndex) insert(key string, value any) (evicted string) {
	if x.max > 0 && len(x.byKey) >= x.max {
		evicted = x.evictOldest()
	}
	x.byKey[key] = x.order.PushFront(&lruEntry{key: key, value: value})
	return evicted
}

func (x *lruIndex) evictOldest() string {
	elem := x.order.Back()
	if elem == nil {
		return ""
	}
	entry := elem.Value.(*lruEntry)
	delete(x.byKey, entry.key)
	x.order.Remove(elem)
	return entry.key
}

func (x *lruIndex) len() int {
	return len(x.byKey)
}

// removeIf deletes every entry for which pred returns true and reports how
// many were removed
func (x *lruIndex) removeIf(pred func(key string, value any) bool) int {
	removed := 0
	var next *list.Element
	for elem := x.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*lruEntry)
		if pred(entry.key, entry.value) {
			delete(x.byKey, entry.key)
			x.order.Remove(elem)
			removed++
		}
	}
	return removed
}
