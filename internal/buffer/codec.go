package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/uberscott/mechtron/internal/errs"
)

// Wire tags for each Kind, written as a single byte ahead of each leaf's
// value. Mirrors the teacher's manual tag-then-payload framing in
// kernel/threads/foundation/message_queue.go's header encoding, using
// encoding/binary.LittleEndian throughout rather than a schema
// compiler (capnproto/protobuf) -- see DESIGN.md for why.
const (
	tagString byte = iota
	tagI64
	tagF64
	tagBool
	tagBytes
)

// ReadBytes serializes every populated leaf of b into a canonical byte
// slice: leaves are sorted by path key, then each is written as
// length-prefixed-path, kind tag, length-prefixed-value. Two buffers
// with identical content always encode to identical bytes regardless of
// write order, which is what makes Compact/CopyToBuffer well-defined.
func (b *Buffer) ReadBytes() ([]byte, error) {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, 64*len(keys))
	var scratch [8]byte

	for _, k := range keys {
		v := b.values[k]

		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(k)))
		out = append(out, scratch[:4]...)
		out = append(out, k...)

		switch v.kind {
		case KindString:
			out = append(out, tagString)
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.s)))
			out = append(out, scratch[:4]...)
			out = append(out, v.s...)
		case KindI64:
			out = append(out, tagI64)
			binary.LittleEndian.PutUint64(scratch[:8], uint64(v.i))
			out = append(out, scratch[:8]...)
		case KindF64:
			out = append(out, tagF64)
			binary.LittleEndian.PutUint64(scratch[:8], math.Float64bits(v.f))
			out = append(out, scratch[:8]...)
		case KindBool:
			out = append(out, tagBool)
			if v.b {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case KindBytes:
			out = append(out, tagBytes)
			binary.LittleEndian.PutUint32(scratch[:4], uint32(len(v.byts)))
			out = append(out, scratch[:4]...)
			out = append(out, v.byts...)
		default:
			return nil, errs.New(errs.ConfigurationError, fmt.Sprintf("unencodable kind at %q", k))
		}
	}
	return out, nil
}

// Decode parses bytes produced by ReadBytes back into a Buffer bound to
// schema. decode(encode(b)) == b for any b is the structured buffer's
// core invariant (spec.md §4.1).
func Decode(schema *Schema, data []byte) (*Buffer, error) {
	b := New(schema)
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return nil, errs.New(errs.ProtocolViolation, "truncated buffer: path length")
		}
		klen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if off+klen > len(data) {
			return nil, errs.New(errs.ProtocolViolation, "truncated buffer: path bytes")
		}
		key := string(data[off : off+klen])
		off += klen

		if off+1 > len(data) {
			return nil, errs.New(errs.ProtocolViolation, "truncated buffer: tag")
		}
		tag := data[off]
		off++

		path := keyToPath(key)

		switch tag {
		case tagString:
			if off+4 > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: string length")
			}
			vlen := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if off+vlen > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: string bytes")
			}
			s := string(data[off : off+vlen])
			off += vlen
			if err := b.SetString(path, s); err != nil {
				return nil, err
			}
		case tagI64:
			if off+8 > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: i64")
			}
			iv := int64(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			if err := b.SetI64(path, iv); err != nil {
				return nil, err
			}
		case tagF64:
			if off+8 > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: f64")
			}
			fv := math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
			off += 8
			if err := b.SetF64(path, fv); err != nil {
				return nil, err
			}
		case tagBool:
			if off+1 > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: bool")
			}
			bv := data[off] != 0
			off++
			if err := b.SetBool(path, bv); err != nil {
				return nil, err
			}
		case tagBytes:
			if off+4 > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: bytes length")
			}
			vlen := int(binary.LittleEndian.Uint32(data[off : off+4]))
			off += 4
			if off+vlen > len(data) {
				return nil, errs.New(errs.ProtocolViolation, "truncated buffer: bytes payload")
			}
			if err := b.SetBytes(path, data[off:off+vlen]); err != nil {
				return nil, err
			}
			off += vlen
		default:
			return nil, errs.New(errs.ProtocolViolation, fmt.Sprintf("unknown buffer tag %d", tag))
		}
	}
	return b, nil
}
