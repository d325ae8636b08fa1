package cache

import (
	"errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"sync"
)

// LRU is a size-bounded map whose read-modify-write updates are serialised
// under one lock. The least recently touched key is evicted first.
type LRU[V any] struct {
	c  *lru.Cache[string, V]
	mu sync.Mutex
}

func NewLRU[V any](size int) (*LRU[V], error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 1000000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &LRU[V]{c: c}, nil
}
func (l *LRU[V]) Get(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Get(key)
}

// Update applies fn to the current value for key (zero value and false when
// absent) and stores what fn returns. fn runs while the lock is held.
func (l *LRU[V]) Update(key string, fn func(cur V, ok bool) V) V {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.c.Get(key)
	next := fn(cur, ok)
	l.c.Add(key, next)
	return next
}
func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Len()
}
