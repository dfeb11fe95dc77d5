// Package queue implements the durable queue client used by the dispatch
// service: a topic-scoped, tenant-partitioned message log with lease-based
// at-least-once delivery.
//
// # Keyspace
//
// All keys are prefixed with q/{topic}/:
//
//	meta/{tenant}                       - last assigned sequence
//	msg/{tenant}/{seq}                  - message record (crc32c framed)
//	ready/{tenant}/{seq}                - availability index
//	lease/{consumer}/{tenant}/{seq}     - active dequeue lease
//	lease_idx/{expires_ms}/{tenant}/{seq} - lease expiry index (value: consumer)
//
// # Item lifecycle
//
//  1. Enqueue: record written, ready index entry added
//  2. Dequeue: lease written with a visibility window, ready entry removed
//  3. Acknowledge: record and lease deleted, item is gone for good
//  4. Lease expiry: sweeper moves the item back to ready for redelivery
//
// Consumers must be idempotent or de-duplicate by item id: a consumer that
// processes an item but dies before acknowledging will see it again.
package queue
