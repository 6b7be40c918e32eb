// Package buffer implements mechtron's structured buffer: a typed,
// path-addressed read/write surface over a schema-constrained store
// (spec.md §4.1). Grounded on the teacher's manual offset-based binary
// parsing style (kernel/threads/registry/loader.go, kernel/threads/sab/layout.go,
// kernel/threads/foundation/message_queue.go all hand-roll
// encoding/binary.LittleEndian reads over a byte slice) and the field-kind
// set named in original_source/rust/mechtron_core/src/buffers.rs
// (String, I64, F64, Bool, Bytes, a nested Struct, and repeated Lists).
package buffer

// Kind enumerates the field kinds a Schema node can take, restored from
// the original Rust buffer schema (mechtron_core/src/buffers.rs).
type Kind int

const (
	KindString Kind = iota
	KindI64
	KindF64
	KindBool
	KindBytes
	KindStruct
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindI64:
		return "i64"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindStruct:
		return "struct"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Schema is a tree describing the valid shape of a Buffer. A KindStruct
// node carries named Fields; a KindList node carries a single Elem
// schema describing every entry; leaf kinds carry neither.
type Schema struct {
	Kind   Kind
	Fields map[string]*Schema // only for KindStruct
	Elem   *Schema             // only for KindList
}

// Struct builds a KindStruct schema node.
func Struct(fields map[string]*Schema) *Schema {
	return &Schema{Kind: KindStruct, Fields: fields}
}

// List builds a KindList schema node whose entries conform to elem.
func List(elem *Schema) *Schema {
	return &Schema{Kind: KindList, Elem: elem}
}

func Leaf(k Kind) *Schema {
	return &Schema{Kind: k}
}

// Resolve walks path through the schema tree and returns the Schema node
// addressed by it, or ok=false if the path is not valid for this schema.
// A path segment that is a base-10 integer index addresses into a
// KindList node's Elem; any other segment addresses a KindStruct field.
func (s *Schema) Resolve(path Path) (*Schema, bool) {
	node := s
	for _, seg := range path {
		if node == nil {
			return nil, false
		}
		switch node.Kind {
		case KindStruct:
			next, ok := node.Fields[seg]
			if !ok {
				return nil, false
			}
			node = next
		case KindList:
			if !isIndex(seg) {
				return nil, false
			}
			node = node.Elem
		default:
			return nil, false
		}
	}
	return node, node != nil
}

func isIndex(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
