package message

import (
	"encoding/binary"
	"time"

	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/id"
	"github.com/uberscott/mechtron/internal/state"
)

// rawBody is the ReadOnlyBody a decoded Payload carries: already-read
// bytes with no backing buffer.Buffer, since a Message crossing this
// codec (e.g. the create Message packed into a neutron_api.create_mechtron
// Api builder, spec.md §4.4.4) is addressed to a mechtron that has not
// been hosted yet and so owns no schema to decode into one.
type rawBody struct{ data []byte }

func (r rawBody) ReadBytes() ([]byte, error) { return r.data, nil }

// NewRawPayload wraps already-serialized bytes as a Payload, the
// encode-side counterpart of rawBody.
func NewRawPayload(name string, data []byte) Payload {
	return Payload{Name: name, Body: rawBody{data: data}}
}

func putId(out []byte, v id.Id) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(v.Seq))
	binary.LittleEndian.PutUint64(b[8:16], uint64(v.Index))
	return append(out, b[:]...)
}

func getId(data []byte) (id.Id, []byte, error) {
	if len(data) < 16 {
		return id.Id{}, nil, errs.New(errs.ProtocolViolation, "truncated message: id")
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
		return "", nil, errs.New(errs.ProtocolViolation, "truncated message: string length")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	data = data[4:]
	if len(data) < n {
		return "", nil, errs.New(errs.ProtocolViolation, "truncated message: string bytes")
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
		return nil, nil, errs.New(errs.ProtocolViolation, "truncated message: bytes length")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	data = data[4:]
	if len(data) < n {
		return nil, nil, errs.New(errs.ProtocolViolation, "truncated message: bytes payload")
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, data[n:], nil
}

func putAddress(out []byte, a Address) []byte {
	out = putId(out, a.Tron.Nucleus)
	out = putId(out, a.Tron.Mechtron)
	out = putString(out, a.Port)
	out = append(out, byte(a.Layer))
	out = append(out, byte(a.Cycle.Kind))
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(a.Cycle.N))
	out = append(out, n[:]...)
	out = append(out, byte(a.Delivery))
	out = putString(out, a.Phase)
	return out
}

func getAddress(data []byte) (Address, []byte, error) {
	nucleus, data, err := getId(data)
	if err != nil {
		return Address{}, nil, err
	}
	mechtron, data, err := getId(data)
	if err != nil {
		return Address{}, nil, err
	}
	port, data, err := getString(data)
	if err != nil {
		return Address{}, nil, err
	}
	if len(data) < 11 {
		return Address{}, nil, errs.New(errs.ProtocolViolation, "truncated message: address tail")
	}
	layer := Layer(data[0])
	cycleKind := CycleSelectorKind(data[1])
	cycleN := int64(binary.LittleEndian.Uint64(data[2:10]))
	delivery := Delivery(data[10])
	phase, data, err := getString(data[11:])
	if err != nil {
		return Address{}, nil, err
	}
	return Address{
		Tron:     state.MechtronKey{Nucleus: nucleus, Mechtron: mechtron},
		Port:     port,
		Layer:    layer,
		Cycle:    CycleSelector{Kind: cycleKind, N: cycleN},
		Delivery: delivery,
		Phase:    phase,
	}, data, nil
}

func putMeta(out []byte, meta map[string]string) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(meta)))
	out = append(out, n[:]...)
	for k, v := range meta {
		out = putString(out, k)
		out = putString(out, v)
	}
	return out
}

func getMeta(data []byte) (map[string]string, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errs.New(errs.ProtocolViolation, "truncated message: meta length")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	data = data[4:]
	if n == 0 {
		return nil, data, nil
	}
	meta := make(map[string]string, n)
	for i := 0; i < n; i++ {
		var k, v string
		var err error
		k, data, err = getString(data)
		if err != nil {
			return nil, nil, err
		}
		v, data, err = getString(data)
		if err != nil {
			return nil, nil, err
		}
		meta[k] = v
	}
	return meta, data, nil
}

func putPayloads(out []byte, payloads []Payload) ([]byte, error) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(payloads)))
	out = append(out, n[:]...)
	for _, p := range payloads {
		body, err := p.Body.ReadBytes()
		if err != nil {
			return nil, err
		}
		out = putString(out, p.Name)
		out = putBytes(out, body)
	}
	return out, nil
}

func getPayloads(data []byte) ([]Payload, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errs.New(errs.ProtocolViolation, "truncated message: payload count")
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	data = data[4:]
	payloads := make([]Payload, 0, n)
	for i := 0; i < n; i++ {
		var name string
		var body []byte
		var err error
		name, data, err = getString(data)
		if err != nil {
			return nil, nil, err
		}
		body, data, err = getBytes(data)
		if err != nil {
			return nil, nil, err
		}
		payloads = append(payloads, NewRawPayload(name, body))
	}
	return payloads, data, nil
}

// Encode serializes m into the same length-prefixed, little-endian
// binary style internal/wire/codec.go uses for wire frames (spec.md
// §6): every string and byte slice 4-byte-length prefixed, every
// integer little-endian. Used to pack a Create message into an Api
// builder's payload list for neutron_api.create_mechtron (spec.md
// §4.4.4) rather than inventing a second wire format.
func Encode(m *Message) ([]byte, error) {
	out := putId(nil, m.Id)
	out = append(out, byte(m.Kind))
	out = putAddress(out, m.From)
	out = putAddress(out, m.To)
	out = putMeta(out, m.Meta)
	payloads, err := putPayloads(out, m.Payloads)
	if err != nil {
		return nil, err
	}
	out = payloads

	if m.Transaction != nil {
		out = append(out, 1)
		out = putId(out, *m.Transaction)
	} else {
		out = append(out, 0)
	}

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(m.Timestamp.UnixNano()))
	out = append(out, ts[:]...)
	return out, nil
}

// Decode parses the bytes Encode produced back into a Message. Every
// decoded Payload carries a rawBody: the schema needed to reconstruct a
// buffer.Buffer from it belongs to whichever mechtron receives the
// message, not to the codec.
func Decode(data []byte) (*Message, error) {
	id0, data, err := getId(data)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, errs.New(errs.ProtocolViolation, "truncated message: kind")
	}
	kind := Kind(data[0])
	data = data[1:]

	from, data, err := getAddress(data)
	if err != nil {
		return nil, err
	}
	to, data, err := getAddress(data)
	if err != nil {
		return nil, err
	}
	meta, data, err := getMeta(data)
	if err != nil {
		return nil, err
	}
	payloads, data, err := getPayloads(data)
	if err != nil {
		return nil, err
	}

	if len(data) < 1 {
		return nil, errs.New(errs.ProtocolViolation, "truncated message: transaction flag")
	}
	hasTxn := data[0] == 1
	data = data[1:]
	var txn *id.Id
	if hasTxn {
		var t id.Id
		t, data, err = getId(data)
		if err != nil {
			return nil, err
		}
		txn = &t
	}

	if len(data) < 8 {
		return nil, errs.New(errs.ProtocolViolation, "truncated message: timestamp")
	}
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(data[0:8]))).UTC()

	return &Message{
		Id:          id0,
		Kind:        kind,
		From:        from,
		To:          to,
		Meta:        meta,
		Payloads:    payloads,
		Transaction: txn,
		Timestamp:   ts,
	}, nil
}
