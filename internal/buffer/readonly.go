package buffer

// ReadOnlyBuffer exposes a Buffer's read surface only. Mechtron handlers
// receive incoming message payloads through this type so a handler can
// never mutate state it was merely shown (spec.md §4.1, §6.3).
type ReadOnlyBuffer struct {
	buf *Buffer
}

// NewReadOnly snapshots b (via Compact's encode/decode round trip) into
// an independent, immutable view.
func NewReadOnly(b *Buffer) (ReadOnlyBuffer, error) {
	cp, err := b.CopyToBuffer()
	if err != nil {
		return ReadOnlyBuffer{}, err
	}
	return ReadOnlyBuffer{buf: cp}, nil
}

func (r ReadOnlyBuffer) Schema() *Schema { return r.buf.Schema() }

func (r ReadOnlyBuffer) GetString(path Path) (string, error) { return r.buf.GetString(path) }
func (r ReadOnlyBuffer) GetI64(path Path) (int64, error)     { return r.buf.GetI64(path) }
func (r ReadOnlyBuffer) GetF64(path Path) (float64, error)   { return r.buf.GetF64(path) }
func (r ReadOnlyBuffer) GetBool(path Path) (bool, error)     { return r.buf.GetBool(path) }
func (r ReadOnlyBuffer) GetBytes(path Path) ([]byte, error)  { return r.buf.GetBytes(path) }

func (r ReadOnlyBuffer) IsSet(path Path) bool                 { return r.buf.IsSet(path) }
func (r ReadOnlyBuffer) GetLength(path Path) (int, error)     { return r.buf.GetLength(path) }
func (r ReadOnlyBuffer) GetKeys(path Path) ([]string, error)  { return r.buf.GetKeys(path) }
func (r ReadOnlyBuffer) ReadBytes() ([]byte, error)           { return r.buf.ReadBytes() }

// CopyToBuffer returns a fresh, mutable Buffer with the same content --
// the escape hatch a handler uses when it needs to build a reply from a
// received payload.
func (r ReadOnlyBuffer) CopyToBuffer() (*Buffer, error) { return r.buf.CopyToBuffer() }
