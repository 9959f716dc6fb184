// Package lru implements the plain Least-Recently-Used eviction policy.
package lru

import (
	"container/list"

	"github.com/IvanBrykalov/tiercache/policy"
)

// lru keeps a single recency list: MRU at Front, LRU at Back.
type lru struct {
	order *list.List
	idx   map[policy.Entry]*list.Element
}

type lruPolicy struct{}

// New returns a Policy factory constructing per-store LRU instances.
func New() policy.Policy { return lruPolicy{} }

func (lruPolicy) New(_ int64) policy.TierPolicy {
	return &lru{
		order: list.New(),
		idx:   make(map[policy.Entry]*list.Element),
	}
}

// OnAdd admits the entry at MRU.
func (p *lru) OnAdd(e policy.Entry) {
	p.idx[e] = p.order.PushFront(e)
}

// OnAccess promotes the entry to MRU.
func (p *lru) OnAccess(e policy.Entry) {
	if el, ok := p.idx[e]; ok {
		p.order.MoveToFront(el)
	}
}

// OnRemove forgets the entry.
func (p *lru) OnRemove(e policy.Entry) {
	if el, ok := p.idx[e]; ok {
		p.order.Remove(el)
		delete(p.idx, e)
	}
}

// Victim returns the current LRU entry, or nil when empty.
func (p *lru) Victim() policy.Entry {
	back := p.order.Back()
	if back == nil {
		return nil
	}
	return back.Value.(policy.Entry)
}
