// Package cache provides a hybrid two-tier key/value cache: a byte-bounded
// in-memory tier in front of an append-structured disk tier, behind one
// interface. Hot entries serve from memory; cold entries demote to disk and
// promote back on access.
//
// Design
//
//   - Index: a sharded map from key to a descriptor naming the entry's
//     current tier, physical location, and generation. All tier moves
//     commit through a single compare-and-swap on the descriptor, so the
//     index is the only arbiter of where an entry lives.
//
//   - Concurrency: tier moves are speculative. The bytes are written to
//     the destination tier first, with no locks held across I/O, and the
//     CAS commits the move; losing the CAS discards the speculative copy.
//     Memory slot ids are never reused and disk records embed their key
//     and generation, so a reader racing a move either retries through
//     the index or detects the mismatch after the read.
//
//   - Memory tier: decoded values in a byte-capacity bounded slab,
//     ordered by a pluggable eviction policy. Segmented LRU is the
//     default (one-shot scans cannot flush the hot set); plain LRU is
//     provided.
//
//   - Disk tier: self-describing checksummed records in append-structured
//     backing files with a free-space map (first-fit reuse, coalescing,
//     rotation). After a crash, a sequential scan rebuilds the index from
//     the records themselves; the highest valid generation per key wins
//     and everything else is garbage.
//
//   - Durability: write-back (default) keeps Put memory-only until
//     demotion or Flush; write-through appends to the disk log before Put
//     returns.
//
//   - Compaction: a background pass seals backing files whose live ratio
//     fell below a threshold, re-appends their live records, re-points
//     the index, and deletes the file.
//
//   - GetOrLoad coalesces concurrent loads for the same key using
//     singleflight. Metrics receives hit/miss/move/compaction signals;
//     NoopMetrics is the default and a Prometheus adapter is provided in
//     metrics/prom.
package cache
