// Package pebblestore wraps Pebble with the small surface riven needs: keyed
// get/set/delete under a configurable fsync policy, multi-key batches for
// bulk unordered writes, prefix iteration for index scans, and a serialized
// Update primitive that gives single-key find-and-modify semantics to the
// lock provider and load accounting.
package pebblestore
