// ABOUTME: Order-preserving encoding for composite storage keys
// ABOUTME: Typed values so key ranges sort the same way their components do

package storage

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes, one per record family
const (
	PrefixVersion  = uint32(1000) // (documentID, versionID) -> version
	PrefixChange   = uint32(1100) // (documentID, seq) -> change
	PrefixLock     = uint32(1200) // (documentID) -> lock
	PrefixConflict = uint32(1300) // (documentID, conflictID) -> merge conflict
	PrefixProfile  = uint32(1400) // (documentID) -> security profile
)

// Value types for composite keys
const (
	TypeBytes  = 1
	TypeInt64  = 2
	TypeUint64 = 3
)

// Value is one component of a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
}

func Bytes(s string) Value     { return Value{Type: TypeBytes, Str: []byte(s)} }
func Int64(i int64) Value      { return Value{Type: TypeInt64, I64: i} }
func Uint64(u uint64) Value    { return Value{Type: TypeUint64, U64: u} }
func (v Value) String() string { return fmt.Sprintf("%d:%x/%d/%d", v.Type, v.Str, v.I64, v.U64) }

// EncodeKey builds prefix + type-tagged values. A key built from the first
// n values of another key is a byte prefix of it, so it can seed iteration.
func EncodeKey(prefix uint32, vals ...Value) []byte {
	out := make([]byte, 4, 64)
	binary.BigEndian.PutUint32(out, prefix)

	for _, v := range vals {
		out = append(out, v.Type)
		switch v.Type {
		case TypeInt64:
			// Flip the sign bit so negatives sort first
			out = binary.BigEndian.AppendUint64(out, uint64(v.I64)+(1<<63))
		case TypeUint64:
			out = binary.BigEndian.AppendUint64(out, v.U64)
		case TypeBytes:
			out = appendEscaped(out, v.Str)
			out = append(out, 0)
		default:
			panic(fmt.Sprintf("unknown key value type: %d", v.Type))
		}
	}
	return out
}

// appendEscaped escapes 0x00 as 0x01 0x01 and 0x01 as 0x01 0x02, leaving a
// bare 0x00 free to terminate the string without breaking order
func appendEscaped(out, s []byte) []byte {
	for _, b := range s {
		switch b {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, b)
		}
	}
	return out
}

// DecodeKey splits a key into its prefix and values
func DecodeKey(key []byte) (uint32, []Value, error) {
	if len(key) < 4 {
		return 0, nil, fmt.Errorf("key too short: %d bytes", len(key))
	}
	prefix := binary.BigEndian.Uint32(key[:4])
	data := key[4:]

	var vals []Value
	for pos := 0; pos < len(data); {
		typ := data[pos]
		pos++

		switch typ {
		case TypeInt64, TypeUint64:
			if pos+8 > len(data) {
				return 0, nil, fmt.Errorf("incomplete integer at pos %d", pos)
			}
			u := binary.BigEndian.Uint64(data[pos : pos+8])
			if typ == TypeInt64 {
				vals = append(vals, Int64(int64(u-(1<<63))))
			} else {
				vals = append(vals, Uint64(u))
			}
			pos += 8

		case TypeBytes:
			var s []byte
			for {
				if pos >= len(data) {
					return 0, nil, fmt.Errorf("unterminated string in key")
				}
				b := data[pos]
				if b == 0x00 {
					pos++
					break
				}
				if b == 0x01 {
					if pos+1 >= len(data) {
						return 0, nil, fmt.Errorf("dangling escape in key")
					}
					s = append(s, data[pos+1]-1)
					pos += 2
					continue
				}
				s = append(s, b)
				pos++
			}
			vals = append(vals, Value{Type: TypeBytes, Str: s})

		default:
			return 0, nil, fmt.Errorf("unknown key value type %d at pos %d", typ, pos-1)
		}
	}
	return prefix, vals, nil
}
