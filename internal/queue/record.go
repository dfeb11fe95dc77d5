package queue

import (
	"encoding/binary"
	"hash/crc32"
)

// Message record layout: headerLen(4B BE) | header | payload | crc32c(header|payload).
// The header currently carries the 8-byte enqueue timestamp; the payload is
// opaque to the queue layer.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames a header and payload with a trailing checksum.
func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 4+len(header)+len(payload)+4)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], uint32(len(header)))
	out = append(out, hb[:]...)
	out = append(out, header...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...)
}

// Record is a decoded queue message record.
type Record struct {
	Header  []byte
	Payload []byte
}

// DecodeRecord verifies framing and checksum. Returns false for corrupt data.
func DecodeRecord(b []byte) (Record, bool) {
	if len(b) < 8 {
		return Record{}, false
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	// compare in uint64 so a huge header length cannot wrap past len(b)
	if uint64(hlen) > uint64(len(b)-8) {
		return Record{}, false
	}
	headerEnd := 4 + int(hlen)
	header := b[4:headerEnd]
	payload := b[headerEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Record{}, false
	}
	return Record{
		Header:  append([]byte(nil), header...),
		Payload: append([]byte(nil), payload...),
	}, true
}

// timestampHeader builds the standard 8-byte enqueue-time header.
func timestampHeader(nowMs int64) []byte {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], uint64(nowMs))
	return h[:]
}
