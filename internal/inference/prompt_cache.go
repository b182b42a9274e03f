package inference

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/samcharles93/spindle/internal/metrics"
)

// PromptCache keeps evaluated contexts so a later request sharing their
// prefix can skip evaluation. Entries are evicted least recently used once
// the byte capacity is exceeded. It only helps backends implementing
// StateSaver.
type PromptCache struct {
	mu       sync.Mutex
	capacity int
	size     int
	order    *list.List
	entries  map[uint64]*list.Element
}

type promptEntry struct {
	key   uint64
	snap  cacheSnapshot
	state []byte
}

func (p *promptEntry) size() int { return p.snap.size() + len(p.state) }

func NewPromptCache(capacityBytes int) *PromptCache {
	return &PromptCache{
		capacity: capacityBytes,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

func hashTokens(tokens []int) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, t := range tokens {
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Len reports the number of cached contexts.
func (p *PromptCache) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Size reports the bytes held.
func (p *PromptCache) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *PromptCache) put(snap cacheSnapshot, state []byte) {
	ent := &promptEntry{key: hashTokens(snap.tokens), snap: snap, state: state}
	if ent.size() > p.capacity {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.entries[ent.key]; ok {
		p.size -= el.Value.(*promptEntry).size()
		p.order.Remove(el)
		delete(p.entries, ent.key)
	}
	p.entries[ent.key] = p.order.PushFront(ent)
	p.size += ent.size()
	for p.size > p.capacity {
		back := p.order.Back()
		old := back.Value.(*promptEntry)
		p.order.Remove(back)
		delete(p.entries, old.key)
		p.size -= old.size()
	}
	metrics.PromptCacheBytes.Set(float64(p.size))
}

// lookup returns the entry sharing the longest prefix with tokens and the
// length of that prefix. The last token is never counted.
func (p *PromptCache) lookup(tokens []int) (*promptEntry, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	limit := len(tokens) - 1
	var best *list.Element
	bestLen := 0
	for el := p.order.Front(); el != nil; el = el.Next() {
		have := el.Value.(*promptEntry).snap.tokens
		n := 0
		for n < limit && n < len(have) && have[n] == tokens[n] {
			n++
		}
		if n > bestLen {
			best, bestLen = el, n
		}
	}
	if best == nil {
		return nil, 0
	}
	p.order.MoveToFront(best)
	return best.Value.(*promptEntry), bestLen
}
