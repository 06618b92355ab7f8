package router

import "hash/fnv"

// hashKey computes the 32-bit FNV-1a hash of key, exactly as spec.md §4.1
// defines it (offset basis 0x811C9DC5, prime 0x01000193). hash/fnv's
// New32a implements this variant directly, so there is no reason to hand
// roll the byte loop.
func hashKey(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
