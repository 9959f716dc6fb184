// Package slru implements a segmented LRU eviction policy.
//
// Resident entries live in one of two segments:
//   - probationary — admits first-touch entries; its LRU end is the primary
//     eviction victim, so one-shot scans wash through without displacing
//     established entries
//   - protected — entries touched again while probationary; sized as a
//     fraction of the store's byte capacity, overflow spills back to the
//     probationary MRU end
//
// This approximates LFU-under-LRU behavior without per-entry frequency
// counters.
package slru

import (
	"container/list"

	"github.com/IvanBrykalov/tiercache/policy"
)

// DefaultProtectedFraction is the share of the memory tier's byte capacity
// reserved for the protected segment when none is given.
const DefaultProtectedFraction = 0.8

type segment uint8

const (
	segProbation segment = iota
	segProtected
)

type slot struct {
	seg segment
	el  *list.Element
}

type slru struct {
	protectedCap   int64
	protectedBytes int64

	// Both lists: MRU at Front, LRU at Back. Element values are policy.Entry.
	probation *list.List
	protected *list.List
	idx       map[policy.Entry]*slot
}

type slruPolicy struct {
	fraction float64
}

// New returns a Policy factory for segmented LRU. fraction is the share of
// the store's capacity given to the protected segment; values outside (0, 1)
// fall back to DefaultProtectedFraction.
func New(fraction float64) policy.Policy {
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultProtectedFraction
	}
	return slruPolicy{fraction: fraction}
}

func (p slruPolicy) New(capacity int64) policy.TierPolicy {
	return &slru{
		protectedCap: int64(p.fraction * float64(capacity)),
		probation:    list.New(),
		protected:    list.New(),
		idx:          make(map[policy.Entry]*slot),
	}
}

// OnAdd admits a first-touch entry at the probationary MRU.
func (s *slru) OnAdd(e policy.Entry) {
	s.idx[e] = &slot{seg: segProbation, el: s.probation.PushFront(e)}
}

// OnAccess promotes a probationary entry into the protected segment, or
// refreshes a protected entry's recency. Protected overflow spills the
// protected LRU back into probation.
func (s *slru) OnAccess(e policy.Entry) {
	sl, ok := s.idx[e]
	if !ok {
		return
	}
	if sl.seg == segProtected {
		s.protected.MoveToFront(sl.el)
		return
	}

	s.probation.Remove(sl.el)
	sl.seg = segProtected
	sl.el = s.protected.PushFront(e)
	s.protectedBytes += e.Size()

	for s.protectedBytes > s.protectedCap {
		back := s.protected.Back()
		if back == nil || back == sl.el {
			break
		}
		old := back.Value.(policy.Entry)
		s.protected.Remove(back)
		s.protectedBytes -= old.Size()
		osl := s.idx[old]
		osl.seg = segProbation
		osl.el = s.probation.PushFront(old)
	}
}

// OnRemove forgets the entry.
func (s *slru) OnRemove(e policy.Entry) {
	sl, ok := s.idx[e]
	if !ok {
		return
	}
	switch sl.seg {
	case segProbation:
		s.probation.Remove(sl.el)
	case segProtected:
		s.protected.Remove(sl.el)
		s.protectedBytes -= e.Size()
	}
	delete(s.idx, e)
}

// Victim returns the probationary LRU entry, falling back to the protected
// LRU when probation is empty.
func (s *slru) Victim() policy.Entry {
	if back := s.probation.Back(); back != nil {
		return back.Value.(policy.Entry)
	}
	if back := s.protected.Back(); back != nil {
		return back.Value.(policy.Entry)
	}
	return nil
}
