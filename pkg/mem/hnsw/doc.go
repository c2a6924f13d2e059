// Package hnsw implements an approximate nearest-neighbor index over unit
// vectors using a Hierarchical Navigable Small World graph and cosine
// similarity.
//
// Nodes are stored in an arena (a slice addressed by uint32 slot) and neighbor
// lists hold slots, never pointers. Deletion is a tombstone: the slot is
// excluded from results but keeps serving as a hop until Compact rebuilds the
// graph without it.
//
// Concurrency: Insert, Tombstone and Compact take the write lock; Search takes
// the read lock, so searches run in parallel with each other and always see a
// consistent graph.
package hnsw
