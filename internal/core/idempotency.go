package core

import (
	"container/list"
	"fmt"
)

// DedupChecker implements two-tier request deduplication. Hosts that can
// redeliver commands (NATS redelivery, chain re-orgs upstream) rely on this;
// direct in-process callers with at-most-once transports bypass it.
type DedupChecker struct {
	// Tier 1: in-memory LRU
	lru *DedupLRU

	// Tier 2: Postgres event log (injected via interface)
	dbChecker DBDedupChecker
}

// DBDedupChecker is the interface for the Postgres dedup lookup
type DBDedupChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewDedupChecker(capacity int, dbChecker DBDedupChecker) *DedupChecker {
	return &DedupChecker{
		lru:       NewDedupLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks whether the request has already been processed
// (LRU hot path, Postgres cold path).
func (dc *DedupChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", eventType, idempotencyKey)

	if dc.lru.Contains(compositeKey) {
		return true
	}

	if dc.dbChecker != nil {
		isDup, err := dc.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Conservative: a DB error must not block processing, so assume
			// not a duplicate. The event log's unique index still rejects a
			// true double-write downstream.
			return false
		}
		if isDup {
			dc.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed records the key after successful processing.
func (dc *DedupChecker) MarkProcessed(eventType string, idempotencyKey string) {
	dc.lru.Add(fmt.Sprintf("%s:%s", eventType, idempotencyKey))
}

// --- LRU implementation ---

// DedupLRU is an LRU cache of processed idempotency keys.
// Not thread-safe — only accessed from the single-threaded core.
type DedupLRU struct {
	capacity  int
	cache     map[string]*list.Element
	lruList   *list.List
	evictions int64
}

type lruEntry struct {
	key string
}

func NewDedupLRU(capacity int) *DedupLRU {
	return &DedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks whether key exists (promotes to front).
func (lru *DedupLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes it if present).
func (lru *DedupLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *DedupLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// WarmFromKeys loads recently processed composite keys on restart so the
// cold Postgres path is skipped for fresh redeliveries.
func (lru *DedupLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Size returns the current number of entries.
func (lru *DedupLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions.
func (lru *DedupLRU) Evictions() int64 {
	return lru.evictions
}

// AllKeys returns every cached key, most recent first. Used for snapshots.
func (lru *DedupLRU) AllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}
