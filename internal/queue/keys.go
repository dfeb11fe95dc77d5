package queue

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for queue data structures. All keys live under q/{topic}/ and
// end with an 8-byte big-endian sequence so lexical order matches enqueue
// order within a tenant.
const (
	prefixMeta     = "meta/"      // per-tenant lastSeq
	prefixMsg      = "msg/"       // message records
	prefixReady    = "ready/"     // availability index
	prefixLease    = "lease/"     // active dequeue leases
	prefixLeaseIdx = "lease_idx/" // lease expiry index
)

func topicPrefix(topic string) string {
	return fmt.Sprintf("q/%s/", topic)
}

// MetaKey returns the per-tenant metadata key.
// Format: q/{topic}/meta/{tenant}
func MetaKey(topic, tenant string) []byte {
	return []byte(topicPrefix(topic) + prefixMeta + tenant)
}

// MsgKey returns the message key.
// Format: q/{topic}/msg/{tenant}/{seq}
func MsgKey(topic, tenant string, seq uint64) []byte {
	return seqKey(topicPrefix(topic)+prefixMsg+tenant+"/", seq)
}

// ReadyKey returns the availability index key.
// Format: q/{topic}/ready/{tenant}/{seq}
func ReadyKey(topic, tenant string, seq uint64) []byte {
	return seqKey(topicPrefix(topic)+prefixReady+tenant+"/", seq)
}

// ReadyPrefix returns the prefix for scanning all ready items in a topic.
func ReadyPrefix(topic string) []byte {
	return []byte(topicPrefix(topic) + prefixReady)
}

// LeaseKey returns the lease key for a consumer's claimed item.
// Format: q/{topic}/lease/{consumer}/{tenant}/{seq}
func LeaseKey(topic, consumer, tenant string, seq uint64) []byte {
	return seqKey(topicPrefix(topic)+prefixLease+consumer+"/"+tenant+"/", seq)
}

// LeaseIdxKey returns the lease expiry index key.
// Format: q/{topic}/lease_idx/{expires_ms}/{tenant}/{seq}
// The value stored under it is the consumer name, so reclaim can remove the
// exact lease record without scanning every consumer.
func LeaseIdxKey(topic string, expiresMs int64, tenant string, seq uint64) []byte {
	prefix := topicPrefix(topic) + prefixLeaseIdx
	key := make([]byte, 0, len(prefix)+8+1+len(tenant)+1+8)
	key = append(key, prefix...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(expiresMs))
	key = append(key, ts[:]...)
	key = append(key, '/')
	key = append(key, tenant...)
	key = append(key, '/')
	var sq [8]byte
	binary.BigEndian.PutUint64(sq[:], seq)
	key = append(key, sq[:]...)
	return key
}

// LeaseIdxPrefix returns the prefix for lease expiry scanning.
func LeaseIdxPrefix(topic string) []byte {
	return []byte(topicPrefix(topic) + prefixLeaseIdx)
}

// seqKey appends an 8-byte big-endian sequence to a string prefix.
func seqKey(prefix string, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// keyRange returns inclusive-lower/exclusive-upper bounds for a prefix scan.
func keyRange(prefix []byte) ([]byte, []byte) {
	hi := make([]byte, len(prefix)+1)
	copy(hi, prefix)
	hi[len(prefix)] = 0xFF
	return prefix, hi
}

// splitTenantSeq parses "{tenant}/{seq8}" suffixes produced by seqKey-built
// keys. Parsing from the end is safe because seq bytes may contain '/'.
func splitTenantSeq(key, prefix []byte) (tenant string, seq uint64, ok bool) {
	if len(key) < len(prefix)+1+8 {
		return "", 0, false
	}
	rest := key[len(prefix):]
	seq = binary.BigEndian.Uint64(rest[len(rest)-8:])
	tenantPart := rest[:len(rest)-9] // strip '/' + seq
	return string(tenantPart), seq, true
}

// splitLeaseIdx parses "{expiry8}/{tenant}/{seq8}" suffixes.
func splitLeaseIdx(key, prefix []byte) (expiresMs int64, tenant string, seq uint64, ok bool) {
	if len(key) < len(prefix)+8+1+1+8 {
		return 0, "", 0, false
	}
	rest := key[len(prefix):]
	expiresMs = int64(binary.BigEndian.Uint64(rest[:8]))
	seq = binary.BigEndian.Uint64(rest[len(rest)-8:])
	tenantPart := rest[9 : len(rest)-9]
	return expiresMs, string(tenantPart), seq, true
}
