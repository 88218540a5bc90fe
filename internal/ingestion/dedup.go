package ingestion

import "container/list"

// ReportLRU caches recently seen oracle report IDs so redelivered NATS
// messages are dropped before they reach the controller. Settlement is
// idempotent on its own (a Claimed policy cannot settle twice), so the LRU
// is an optimization, not a correctness requirement — a miss just costs one
// rejected controller call.
//
// Not thread-safe — only accessed from the single oracle processing
// goroutine.
type ReportLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
	onEvict   func()
}

type lruEntry struct {
	key string
}

func NewReportLRU(capacity int) *ReportLRU {
	return &ReportLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// SetEvictHook installs a callback invoked on every eviction.
func (lru *ReportLRU) SetEvictHook(fn func()) {
	lru.onEvict = fn
}

// Contains checks if key exists and promotes it to most recently used.
func (lru *ReportLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key, or promotes it if already present.
func (lru *ReportLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *ReportLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
		if lru.onEvict != nil {
			lru.onEvict()
		}
	}
}

func (lru *ReportLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *ReportLRU) Evictions() int64 {
	return lru.evictions
}
