// Package id provides a 128-bit, lexicographically sortable identifier.
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes sequence], so
// byte-wise comparison preserves chronological order. The Generator keeps IDs
// strictly increasing per process: a regressing clock pins to the last seen
// millisecond, and a sequence overflow within one millisecond waits for the
// next before emitting.
//
// Riven uses these IDs for per-process identity (runtime node ids, queue
// consumer names), where a time-ordered readable token beats a random UUID.
package id
