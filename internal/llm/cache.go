package llm

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

// embedLRU is a simple in-process LRU with TTL for embedding vectors.
// Identical texts recur often on the write path (candidate embedded for the
// decision read and again on apply), so this saves a provider round-trip.
type embedLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

func newEmbedLRU(capacity int) *embedLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &embedLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *embedLRU) Get(key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		ent := el.Value.(lruEntry)
		if ent.exp.After(time.Now()) {
			l.list.MoveToFront(el)
			return ent.vec, true
		}
		// expired: remove
		l.list.Remove(el)
		delete(l.m, key)
	}
	return nil, false
}

func (l *embedLRU) Set(key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		el.Value = lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)}
		l.list.MoveToFront(el)
		return
	}
	el := l.list.PushFront(lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)})
	l.m[key] = el
	if l.list.Len() > l.cap {
		lru := l.list.Back()
		if lru != nil {
			ent := lru.Value.(lruEntry)
			delete(l.m, ent.key)
			l.list.Remove(lru)
		}
	}
}

func embedKey(model, text string) string {
	h := md5.Sum([]byte(model + "|" + text))
	return hex.EncodeToString(h[:])
}
