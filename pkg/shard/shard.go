// Package shard routes tickets to shards with a hash that is stable
// across processes and restarts.
package shard

import "hash/fnv"

// ForID returns hash(id) mod shardCount using FNV-1a. Every process
// must agree on the owner of a given ticket id.
func ForID(id string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(shardCount))
}

// Owns reports whether the given shard index owns the id. A negative
// shardIndex disables routing checks (single-instance deployments).
func Owns(id string, shardIndex, shardCount int) bool {
	if shardIndex < 0 || shardCount <= 1 {
		return true
	}
	return ForID(id, shardCount) == shardIndex
}
