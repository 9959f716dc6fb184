package index

// Tier names the physical location of an entry's bytes.
type Tier uint8

const (
	// TierMemory — the value lives in a memory-store slot.
	TierMemory Tier = iota + 1
	// TierDisk — the value lives in a disk log record.
	TierDisk
)

// Loc identifies one immutable record inside a backing file.
type Loc struct {
	FileID uint32
	Offset int64
	Length int64 // encoded record length in bytes (header + key + value)
}

// Descriptor records where a key's current value physically resides, plus
// the per-entry metadata the engine needs for eviction and recovery.
//
// The tagged union of the two tiers is flattened into one struct: Slot is
// meaningful only for TierMemory, Disk only for TierDisk — except that a
// memory-resident entry may additionally carry a live, clean disk copy
// (HasDisk), which lets a later demotion commit without rewriting the
// record.
type Descriptor struct {
	Tier Tier

	// Slot is the memory-store slot id (TierMemory only). Slot ids are
	// never reused, so a stale descriptor can never alias a newer entry.
	Slot uint64

	// Disk is the record location: the value's home when Tier == TierDisk,
	// or the clean backing copy when Tier == TierMemory && HasDisk.
	Disk    Loc
	HasDisk bool

	// Generation increases on every overwrite of the key. Disk records
	// carry the generation they were written at; recovery and compaction
	// use it to tell the latest record from garbage.
	Generation uint64

	// Dirty marks a memory-resident value with no durable copy.
	Dirty bool

	// Size is the value length in bytes.
	Size int64

	// LastAccess (unix nanoseconds) orders disk-tier entries when a disk
	// capacity cap forces outright eviction.
	LastAccess int64
}

// samePlace reports whether two descriptors name the same committed
// location: tier, generation, and physical address. Mutable metadata
// (LastAccess) is deliberately excluded so a concurrent Touch does not fail
// a compare-and-swap.
func (d Descriptor) samePlace(o Descriptor) bool {
	if d.Tier != o.Tier || d.Generation != o.Generation {
		return false
	}
	switch d.Tier {
	case TierMemory:
		return d.Slot == o.Slot && d.HasDisk == o.HasDisk && d.Disk == o.Disk
	case TierDisk:
		return d.Disk == o.Disk
	}
	return false
}
