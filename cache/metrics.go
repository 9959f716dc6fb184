package cache

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	HitMemory()
	HitDisk()
	Miss()
	Evict(reason EvictReason)
	Promotion()
	Demotion()
	// RaceAborted counts speculative tier moves discarded because the
	// entry changed while the move's I/O was in flight.
	RaceAborted()
	// Compaction reports one finished compaction pass and the backing
	// file bytes it reclaimed.
	Compaction(reclaimedBytes int64)
	Usage(memBytes, diskBytes int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is safe for concurrent use and intended as the default when
// no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) HitMemory()        {}
func (NoopMetrics) HitDisk()          {}
func (NoopMetrics) Miss()             {}
func (NoopMetrics) Evict(EvictReason) {}
func (NoopMetrics) Promotion()        {}
func (NoopMetrics) Demotion()         {}
func (NoopMetrics) RaceAborted()      {}
func (NoopMetrics) Compaction(int64)  {}
func (NoopMetrics) Usage(_, _ int64)  {}

// Ensure NoopMetrics implements the Metrics interface at compile time.
var _ Metrics = NoopMetrics{}
