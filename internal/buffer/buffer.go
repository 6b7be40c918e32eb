package buffer

import (
	"fmt"
	"sort"

	"github.com/uberscott/mechtron/internal/errs"
)

// value is the untyped storage cell behind a leaf path. Only one of the
// fields is meaningful, selected by Kind.
type value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	byts []byte
}

// Buffer is a mutable, schema-bound, path-addressed typed store. It is
// the concrete type spec.md §4.1 calls the Structured Buffer: every
// write is checked against Schema before being accepted, and every read
// returns either a typed value or an errs.Kind-tagged failure.
type Buffer struct {
	schema *Schema
	values map[string]value
}

// New creates an empty Buffer bound to schema.
func New(schema *Schema) *Buffer {
	return &Buffer{schema: schema, values: make(map[string]value)}
}

// Schema returns the schema this buffer is bound to.
func (b *Buffer) Schema() *Schema { return b.schema }

func (b *Buffer) resolveLeaf(path Path, want Kind) (*Schema, error) {
	node, ok := b.schema.Resolve(path)
	if !ok {
		return nil, errs.New(errs.SchemaMismatch, fmt.Sprintf("path %q not valid for schema", path.Key()))
	}
	if node.Kind != want {
		return nil, errs.New(errs.TypeMismatch, fmt.Sprintf("path %q is %s, not %s", path.Key(), node.Kind, want))
	}
	return node, nil
}

func (b *Buffer) setLeaf(path Path, want Kind, v value) error {
	if _, err := b.resolveLeaf(path, want); err != nil {
		return err
	}
	b.values[path.Key()] = v
	return nil
}

func (b *Buffer) getLeaf(path Path, want Kind) (value, error) {
	if _, err := b.resolveLeaf(path, want); err != nil {
		return value{}, err
	}
	v, ok := b.values[path.Key()]
	if !ok {
		return value{}, errs.New(errs.MissingField, fmt.Sprintf("path %q is not set", path.Key()))
	}
	return v, nil
}

// SetString writes a string value at path.
func (b *Buffer) SetString(path Path, s string) error {
	return b.setLeaf(path, KindString, value{kind: KindString, s: s})
}

// GetString reads the string value at path.
func (b *Buffer) GetString(path Path) (string, error) {
	v, err := b.getLeaf(path, KindString)
	if err != nil {
		return "", err
	}
	return v.s, nil
}

// SetI64 writes an int64 value at path.
func (b *Buffer) SetI64(path Path, i int64) error {
	return b.setLeaf(path, KindI64, value{kind: KindI64, i: i})
}

// GetI64 reads the int64 value at path.
func (b *Buffer) GetI64(path Path) (int64, error) {
	v, err := b.getLeaf(path, KindI64)
	if err != nil {
		return 0, err
	}
	return v.i, nil
}

// SetF64 writes a float64 value at path.
func (b *Buffer) SetF64(path Path, f float64) error {
	return b.setLeaf(path, KindF64, value{kind: KindF64, f: f})
}

// GetF64 reads the float64 value at path.
func (b *Buffer) GetF64(path Path) (float64, error) {
	v, err := b.getLeaf(path, KindF64)
	if err != nil {
		return 0, err
	}
	return v.f, nil
}

// SetBool writes a bool value at path.
func (b *Buffer) SetBool(path Path, v bool) error {
	return b.setLeaf(path, KindBool, value{kind: KindBool, b: v})
}

// GetBool reads the bool value at path.
func (b *Buffer) GetBool(path Path) (bool, error) {
	v, err := b.getLeaf(path, KindBool)
	if err != nil {
		return false, err
	}
	return v.b, nil
}

// SetBytes writes a raw byte slice at path. The slice is copied.
func (b *Buffer) SetBytes(path Path, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	return b.setLeaf(path, KindBytes, value{kind: KindBytes, byts: cp})
}

// GetBytes reads the raw byte slice at path.
func (b *Buffer) GetBytes(path Path) ([]byte, error) {
	v, err := b.getLeaf(path, KindBytes)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(v.byts))
	copy(cp, v.byts)
	return cp, nil
}

// IsSet reports whether a leaf at path has been written, without
// raising an error for an unset (but schema-valid) path. A path that is
// not valid for the schema still reports false rather than erroring,
// matching the predicate contract in spec.md §4.1.
func (b *Buffer) IsSet(path Path) bool {
	if _, ok := b.schema.Resolve(path); !ok {
		return false
	}
	_, ok := b.values[path.Key()]
	return ok
}

// GetLength reports the number of entries set under a KindList path, or
// the byte length of a KindBytes/KindString leaf.
func (b *Buffer) GetLength(path Path) (int, error) {
	node, ok := b.schema.Resolve(path)
	if !ok {
		return 0, errs.New(errs.SchemaMismatch, fmt.Sprintf("path %q not valid for schema", path.Key()))
	}
	switch node.Kind {
	case KindList:
		prefix := path.Key() + "/"
		seen := make(map[string]bool)
		for k := range b.values {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				rest := k[len(prefix):]
				idx := rest
				if slash := indexOf(rest, '/'); slash >= 0 {
					idx = rest[:slash]
				}
				seen[idx] = true
			}
		}
		return len(seen), nil
	case KindString:
		v, err := b.getLeaf(path, KindString)
		if err != nil {
			return 0, err
		}
		return len(v.s), nil
	case KindBytes:
		v, err := b.getLeaf(path, KindBytes)
		if err != nil {
			return 0, err
		}
		return len(v.byts), nil
	default:
		return 0, errs.New(errs.TypeMismatch, fmt.Sprintf("path %q has no length (%s)", path.Key(), node.Kind))
	}
}

// GetKeys returns the sorted set of field names actually populated
// anywhere beneath a KindStruct path.
func (b *Buffer) GetKeys(path Path) ([]string, error) {
	node, ok := b.schema.Resolve(path)
	if !ok {
		return nil, errs.New(errs.SchemaMismatch, fmt.Sprintf("path %q not valid for schema", path.Key()))
	}
	if node.Kind != KindStruct {
		return nil, errs.New(errs.TypeMismatch, fmt.Sprintf("path %q is %s, not struct", path.Key(), node.Kind))
	}
	prefix := path.Key()
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	for k := range b.values {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		rest := k[len(prefix):]
		name := rest
		if slash := indexOf(rest, '/'); slash >= 0 {
			name = rest[:slash]
		}
		seen[name] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// CopyToBuffer returns a deep, independent copy of b bound to the same
// schema. Implemented as encode-then-decode, which doubles as the
// canonicalization step compact() needs (spec.md §4.1's round-trip law:
// decode(encode(b)) == b).
func (b *Buffer) CopyToBuffer() (*Buffer, error) {
	bs, err := b.ReadBytes()
	if err != nil {
		return nil, err
	}
	return Decode(b.schema, bs)
}

// Compact rewrites b in place into its canonical form: unset or
// superseded intermediate state is dropped and the remaining leaves are
// ordered by path. Mechanically this is decode(encode(b)).
func (b *Buffer) Compact() error {
	cp, err := b.CopyToBuffer()
	if err != nil {
		return err
	}
	b.values = cp.values
	return nil
}

func indexOf(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
