package mlog

import (
	"math"
	"sync"
)

// LeastRecentlyUsedBuffer remembers up to a fixed number of string elements,
// evicting the least recently seen element when the capacity is reached.
type LeastRecentlyUsedBuffer struct {
	maxCapacity  int
	usageCounter uint64
	lastUsed     map[string]uint64
	mutex        sync.Mutex
}

// NewLeastRecentlyUsedBuffer returns an initialised LRU buffer.
func NewLeastRecentlyUsedBuffer(maxCapacity int) *LeastRecentlyUsedBuffer {
	if maxCapacity < 1 {
		panic("NewLeastRecentlyUsedBuffer: capacity must be greater than 0")
	}
	return &LeastRecentlyUsedBuffer{
		maxCapacity: maxCapacity,
		lastUsed:    make(map[string]uint64),
	}
}

// Add places the element into the LRU buffer and returns true if it was already present.
// If the oldest element had to be evicted to make room, the evicted element is returned as well.
func (lru *LeastRecentlyUsedBuffer) Add(elem string) (alreadyPresent bool, evicted string) {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()
	lru.usageCounter++
	if _, present := lru.lastUsed[elem]; present {
		lru.lastUsed[elem] = lru.usageCounter
		return true, ""
	}
	if len(lru.lastUsed) == lru.maxCapacity {
		var oldestElem string
		oldestCounter := uint64(math.MaxUint64)
		for elem, lastUsed := range lru.lastUsed {
			if lastUsed < oldestCounter {
				oldestElem = elem
				oldestCounter = lastUsed
			}
		}
		delete(lru.lastUsed, oldestElem)
		evicted = oldestElem
	}
	lru.lastUsed[elem] = lru.usageCounter
	return false, evicted
}

// Len returns the number of elements currently buffered.
func (lru *LeastRecentlyUsedBuffer) Len() int {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()
	return len(lru.lastUsed)
}

// Clear erases all buffered elements.
func (lru *LeastRecentlyUsedBuffer) Clear() {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()
	lru.lastUsed = make(map[string]uint64)
}
