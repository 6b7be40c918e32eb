package wire

import (
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
)

func putUUID(out []byte, v uuid.UUID) []byte {
	return append(out, v[:]...)
}

func getUUID(data []byte) (uuid.UUID, []byte, error) {
	if len(data) < 16 {
		return uuid.UUID{}, nil, errs.New(errs.ProtocolViolation, "truncated frame: transaction id")
	}
	var v uuid.UUID
	copy(v[:], data[:16])
	return v, data[16:], nil
}

func putId(out []byte, v id.Id) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(v.Seq))
	binary.LittleEndian.PutUint64(b[8:16], uint64(v.Index))
	return append(out, b[:]...)
}

func getId(data []byte) (id.Id, []byte, error) {
	if len(data) < 16 {
		return id.Id{}, nil, errs.New(errs.ProtocolViolation, "truncated frame: id")
	}
	v := id.Id{
		Seq:   int64(binary.LittleEndian.Uint64(data[0:8])),
		Index: int64(binary.LittleEndian.Uint64(data[8:16])),
	}
	return v, data[16:], nil
}

func putString(out []byte, s string) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
	out = append(out, l[:]...)
	return append(out, s...)
}

func getString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, errs.New(errs.ProtocolViolation, "truncated frame: string length")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	data = data[4:]
	if len(data) < n {
		return "", nil, errs.New(errs.ProtocolViolation, "truncated frame: string bytes")
	}
	return string(data[:n]), data[n:], nil
}

func putBytes(out []byte, b []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	out = append(out, l[:]...)
	return append(out, b...)
}

func getBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errs.New(errs.ProtocolViolation, "truncated frame: bytes length")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	data = data[4:]
	if len(data) < n {
		return nil, nil, errs.New(errs.ProtocolViolation, "truncated frame: bytes payload")
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, data[n:], nil
}

func putSearch(out []byte, s Search) []byte {
	out = putId(out, s.From)
	out = putId(out, s.Seeking)
	return append(out, s.Hops)
}

func getSearch(data []byte) (Search, []byte, error) {
	from, data, err := getId(data)
	if err != nil {
		return Search{}, nil, err
	}
	seeking, data, err := getId(data)
	if err != nil {
		return Search{}, nil, err
	}
	if len(data) < 1 {
		return Search{}, nil, errs.New(errs.ProtocolViolation, "truncated frame: hops")
	}
	return Search{From: from, Seeking: seeking, Hops: data[0]}, data[1:], nil
}

// Encode serializes f into a length-prefixed frame: 4-byte total length
// followed by the tag byte and tag-specific fields, all integers
// little-endian (spec.md §6). The length prefix lets a Connection read
// exactly one frame off a streaming transport without a separate
// delimiter.
func Encode(f Frame) ([]byte, error) {
	body, err := encodeBody(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func encodeBody(f Frame) ([]byte, error) {
	out := []byte{byte(f.Tag)}
	switch f.Tag {
	case TagReportVersion, TagRequestUniqueSeq:
		// no payload
	case TagReportUniqueSeq:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(f.Seq))
		out = append(out, b[:]...)
	case TagReportNodeId:
		out = putId(out, f.NodeId)
	case TagNodeSearch, TagNodeFound, TagNodeNotFound:
		out = putSearch(out, f.Search)
	case TagRelay:
		if f.Inner == nil {
			return nil, errs.New(errs.ProtocolViolation, "relay frame missing inner wire")
		}
		if f.Inner.Tag == TagRelay {
			return nil, errs.New(errs.ProtocolViolation, "nested Relay(Relay(_)) is malformed")
		}
		out = putId(out, f.RelayFrom)
		out = putId(out, f.RelayTo)
		out = putUUID(out, f.Transaction)
		out = append(out, f.Hops)
		inner, err := encodeBody(*f.Inner)
		if err != nil {
			return nil, err
		}
		out = putBytes(out, inner)
	case TagMessageTransport:
		compressed, err := compressBytes(f.Bytes)
		if err != nil {
			return nil, err
		}
		out = putBytes(out, compressed)
	case TagPanic:
		out = putString(out, f.Text)
	default:
		return nil, errs.New(errs.ProtocolViolation, "unknown frame tag")
	}
	return out, nil
}

// Decode parses one frame body (the bytes after the 4-byte length
// prefix Encode writes). A nested Relay(Relay(_)) is rejected here too,
// so a frame that was never built through NewRelay still can't smuggle
// one in over the wire (spec.md §4.7).
func Decode(body []byte) (Frame, error) {
	f, _, err := decodeBody(body)
	return f, err
}

// ReadFrame reads exactly one length-prefixed frame off a streaming
// transport (a libp2p stream, a TCP socket): the 4-byte length header
// Encode writes, followed by that many body bytes. The websocket
// transport, which already delimits messages, runs each received
// message through ReadFrame via a bytes.Reader.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return Decode(body)
}

func decodeBody(data []byte) (Frame, []byte, error) {
	if len(data) < 1 {
		return Frame{}, nil, errs.New(errs.ProtocolViolation, "empty frame")
	}
	tag := Tag(data[0])
	data = data[1:]

	switch tag {
	case TagReportVersion:
		return Frame{Tag: tag}, data, nil
	case TagRequestUniqueSeq:
		return Frame{Tag: tag}, data, nil
	case TagReportUniqueSeq:
		if len(data) < 8 {
			return Frame{}, nil, errs.New(errs.ProtocolViolation, "truncated frame: seq")
		}
		seq := int64(binary.LittleEndian.Uint64(data[0:8]))
		return Frame{Tag: tag, Seq: seq}, data[8:], nil
	case TagReportNodeId:
		nid, rest, err := getId(data)
		if err != nil {
			return Frame{}, nil, err
		}
		return Frame{Tag: tag, NodeId: nid}, rest, nil
	case TagNodeSearch, TagNodeFound, TagNodeNotFound:
		s, rest, err := getSearch(data)
		if err != nil {
			return Frame{}, nil, err
		}
		return Frame{Tag: tag, Search: s}, rest, nil
	case TagRelay:
		from, data, err := getId(data)
		if err != nil {
			return Frame{}, nil, err
		}
		to, data, err := getId(data)
		if err != nil {
			return Frame{}, nil, err
		}
		txn, data, err := getUUID(data)
		if err != nil {
			return Frame{}, nil, err
		}
		if len(data) < 1 {
			return Frame{}, nil, errs.New(errs.ProtocolViolation, "truncated frame: relay hops")
		}
		hops := data[0]
		data = data[1:]
		innerBytes, rest, err := getBytes(data)
		if err != nil {
			return Frame{}, nil, err
		}
		inner, _, err := decodeBody(innerBytes)
		if err != nil {
			return Frame{}, nil, err
		}
		if inner.Tag == TagRelay {
			return Frame{}, nil, errs.New(errs.ProtocolViolation, "nested Relay(Relay(_)) is malformed")
		}
		return Frame{Tag: tag, RelayFrom: from, RelayTo: to, Transaction: txn, Hops: hops, Inner: &inner}, rest, nil
	case TagMessageTransport:
		compressed, rest, err := getBytes(data)
		if err != nil {
			return Frame{}, nil, err
		}
		b, err := decompressBytes(compressed)
		if err != nil {
			return Frame{}, nil, err
		}
		return Frame{Tag: tag, Bytes: b}, rest, nil
	case TagPanic:
		s, rest, err := getString(data)
		if err != nil {
			return Frame{}, nil, err
		}
		return Frame{Tag: tag, Text: s}, rest, nil
	default:
		return Frame{}, nil, errs.New(errs.ProtocolViolation, "unknown frame tag")
	}
}
