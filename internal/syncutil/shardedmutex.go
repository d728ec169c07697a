// Package syncutil provides keyed locking primitives used by the in-memory
// stores to serialize balance mutations per wallet.
package syncutil

import (
	"hash/fnv"
	"sort"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed-size pool of mutexes keyed by string. Memory use
// is bounded regardless of how many keys are seen; keys that hash to the
// same shard occasionally contend with each other.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

// LockAll acquires the mutexes for a set of keys in ascending shard order,
// avoiding deadlock when two goroutines lock overlapping sets in opposite
// order. Used for transfers that touch several wallets at once. Keys that
// collide on a shard are locked once.
func (s *ShardedMutex) LockAll(keys ...string) func() {
	seen := make(map[uint32]struct{}, len(keys))
	idx := make([]uint32, 0, len(keys))
	for _, k := range keys {
		i := s.index(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	for _, i := range idx {
		s.shards[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.shards[idx[j]].Unlock()
		}
	}
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	return &s.shards[s.index(key)]
}

func (s *ShardedMutex) index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
