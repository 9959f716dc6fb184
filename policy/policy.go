// Package policy defines the pluggable eviction-policy contract for the
// memory tier. Policies order resident entries and nominate victims; the
// memory store owns the entries themselves and performs the actual removal
// (usually by demoting the victim to the disk tier).
package policy

// Entry is the minimal contract a memory-resident cache entry must satisfy
// for a policy. Entries are identified by pointer; a policy may use them as
// map keys.
type Entry interface {
	// Key returns the cache key of the entry.
	Key() string
	// Size returns the entry's value length in bytes.
	Size() int64
}

// TierPolicy is a policy instance bound to one memory store.
//
// Concurrency: all methods are invoked under the memory store's lock and
// must not block or call back into the store.
//
// Semantics:
//   - OnAdd admits a newly stored entry.
//   - OnAccess records a read hit (typically a promotion within the policy's
//     internal ordering).
//   - OnRemove tells the policy the entry left the memory tier (demoted,
//     dropped, deleted, or overwritten); the policy must forget it.
//   - Victim returns the least-valuable resident entry, or nil when the
//     policy tracks no entries. The store decides what to do with it.
type TierPolicy interface {
	OnAdd(Entry)
	OnAccess(Entry)
	OnRemove(Entry)
	Victim() Entry
}

// Policy is a factory that creates a policy instance for a memory store of
// the given byte capacity. Capacity lets segmented policies size their
// segments proportionally; policies that don't need it ignore it.
type Policy interface {
	New(capacity int64) TierPolicy
}
