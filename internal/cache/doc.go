// Package cache stores assembled retrieval contexts so repeated or
// near-identical queries skip the backends.
//
// Lookups are exact by key first. On a miss, GetSimilar scans a capped
// number of entries sharing the request fingerprint and accepts the
// closest query embedding above a cosine threshold. Entries live in a
// pluggable Backend: an in-memory LRU or a persistent Badger store.
package cache
