package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Kind tags what a record's payload holds
type Kind byte

const (
	// KindAudit is a JSON-encoded audit entry
	KindAudit Kind = 1

	// KindMarker is an empty bookkeeping record (segment open, shutdown)
	KindMarker Kind = 2
)

const (
	// HeaderSize is the fixed size of the record header
	// Layout: Seq(8) + Kind(1) + Reserved(3) + PayloadLen(4) + Timestamp(8)
	HeaderSize = 24

	// MaxPayloadSize bounds a single record so a corrupt length cannot
	// trigger a huge allocation on read
	MaxPayloadSize = 16 << 20
)

// Record is a single journal entry
type Record struct {
	Seq       uint64    // Monotonic sequence number across all segments
	Kind      Kind      // Payload kind
	Payload   []byte    // Opaque payload
	Timestamp time.Time // Append time
}

// Encode serializes the record with a trailing CRC32
// Format: [Header(24)] [Payload] [CRC32(4)]
func (r *Record) Encode() []byte {
	n := len(r.Payload)
	buf := make([]byte, HeaderSize+n+4)

	binary.LittleEndian.PutUint64(buf[0:8], r.Seq)
	buf[8] = byte(r.Kind)
	// bytes 9-11 reserved
	binary.LittleEndian.PutUint32(buf[12:16], uint32(n))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.Timestamp.UnixNano()))

	copy(buf[HeaderSize:], r.Payload)

	crc := crc32.ChecksumIEEE(buf[:HeaderSize+n])
	binary.LittleEndian.PutUint32(buf[HeaderSize+n:], crc)
	return buf
}

// Size returns the encoded size of the record
func (r *Record) Size() int {
	return HeaderSize + len(r.Payload) + 4
}

// DecodeRecord deserializes a record, verifying its CRC
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < HeaderSize+4 {
		return nil, ErrTruncated
	}

	n := int(binary.LittleEndian.Uint32(data[12:16]))
	if n > MaxPayloadSize {
		return nil, ErrCorrupted
	}
	if len(data) < HeaderSize+n+4 {
		return nil, ErrTruncated
	}

	stored := binary.LittleEndian.Uint32(data[HeaderSize+n : HeaderSize+n+4])
	if crc32.ChecksumIEEE(data[:HeaderSize+n]) != stored {
		return nil, ErrCorrupted
	}

	r := &Record{
		Seq:       binary.LittleEndian.Uint64(data[0:8]),
		Kind:      Kind(data[8]),
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(data[16:24]))),
	}
	if n > 0 {
		r.Payload = make([]byte, n)
		copy(r.Payload, data[HeaderSize:HeaderSize+n])
	}
	return r, nil
}

func (r *Record) String() string {
	return fmt.Sprintf("Record[Seq=%d Kind=%d Len=%d]", r.Seq, r.Kind, len(r.Payload))
}
