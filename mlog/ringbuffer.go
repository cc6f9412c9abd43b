package mlog

import (
	"sync"
)

// RingBuffer is a fixed-size circular buffer of strings. Once full, each new
// element overwrites the oldest one.
type RingBuffer struct {
	size    int64
	counter int64
	buf     []string
	mutex   sync.RWMutex
}

// NewRingBuffer returns an initialised ring buffer capable of holding up to size elements.
func NewRingBuffer(size int64) *RingBuffer {
	if size < 1 {
		panic("NewRingBuffer: size must be greater than 0")
	}
	return &RingBuffer{
		size: size,
		buf:  make([]string, size),
	}
}

// Push places a new element into the ring buffer.
func (r *RingBuffer) Push(elem string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counter++
	r.buf[r.counter%r.size] = elem
}

// Clear erases all buffered elements.
func (r *RingBuffer) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.buf = make([]string, r.size)
}

// IterateReverse traverses the buffered elements from the latest to the oldest,
// skipping empty elements. If the iterator function returns false, the
// traversal stops immediately.
func (r *RingBuffer) IterateReverse(fun func(string) bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	currentIndex := r.counter % r.size
	for i := currentIndex; i >= 0; i-- {
		if value := r.buf[i]; value != "" {
			if !fun(value) {
				return
			}
		}
	}
	for i := r.size - 1; i > currentIndex; i-- {
		if value := r.buf[i]; value != "" {
			if !fun(value) {
				return
			}
		}
	}
}

// GetAll returns all buffered elements, ordered from the oldest to the latest.
func (r *RingBuffer) GetAll() []string {
	reversed := make([]string, 0, r.size)
	r.IterateReverse(func(elem string) bool {
		reversed = append(reversed, elem)
		return true
	})
	ret := make([]string, len(reversed))
	for i, s := range reversed {
		ret[len(ret)-1-i] = s
	}
	return ret
}
