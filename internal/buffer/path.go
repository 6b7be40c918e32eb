package buffer

import "strings"

// Path addresses a value inside a Buffer: a sequence of field names and,
// where a List is traversed, base-10 indices.
type Path []string

// P is a convenience constructor: P("payload", "0", "amount").
func P(segs ...string) Path { return Path(segs) }

// Key returns the canonical flattened form of a Path, used as the map
// key inside Buffer's value store and as the sort key during encoding.
func (p Path) Key() string { return strings.Join(p, "/") }

func keyToPath(key string) Path {
	if key == "" {
		return nil
	}
	return strings.Split(key, "/")
}
