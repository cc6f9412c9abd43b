package mlog

import (
	"testing"
)

func TestRateLimit_Add(t *testing.T) {
	limit := NewRateLimit(10, 2, DefaultLogger)
	if !limit.Add("actor1", true) {
		t.Fatal("first hit must pass")
	}
	if !limit.Add("actor1", true) {
		t.Fatal("second hit must pass")
	}
	if limit.Add("actor1", true) {
		t.Fatal("third hit must be refused")
	}
	// An unrelated actor has its own allowance
	if !limit.Add("actor2", true) {
		t.Fatal("unrelated actor must pass")
	}
}

func TestRateLimit_LruDedup(t *testing.T) {
	lru := NewLeastRecentlyUsedBuffer(2)
	if present, _ := lru.Add("a"); present {
		t.Fatal("a must be new")
	}
	if present, _ := lru.Add("a"); !present {
		t.Fatal("a must be present")
	}
	lru.Add("b")
	if _, evicted := lru.Add("c"); evicted == "" {
		t.Fatal("an element must have been evicted")
	}
	if lru.Len() != 2 {
		t.Fatal(lru.Len())
	}
}
