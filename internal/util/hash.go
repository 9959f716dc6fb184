// Package util contains internal helpers (hashing, sharding).
package util

import "github.com/cespare/xxhash/v2"

// HashKey hashes a cache key for shard selection. xxhash is a fast
// non-cryptographic hash with good avalanche behavior on short keys.
func HashKey(k string) uint64 {
	return xxhash.Sum64String(k)
}
