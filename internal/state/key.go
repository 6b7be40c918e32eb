// Package state implements the per-entity revisioned snapshot store:
// MechtronKey/RevisionKey addressing, the taint-aware State snapshot
// itself, and the two-level-locked ContentHistory/ContentStore registry
// (spec.md §3, §4.2). Grounded on the teacher's RegionPolicy/guard
// locking discipline (kernel/threads/sab/guard.go) generalized from a
// fixed set of SAB regions to an open map of per-mechtron histories.
package state

import (
	"fmt"

	"github.com/uberscott/mechtron/internal/id"
)

// NucleusKey names a nucleus; MechtronId names a mechtron inside one.
type NucleusKey = id.Id
type MechtronId = id.Id

// MechtronKey uniquely names a mechtron within the whole cluster.
type MechtronKey struct {
	Nucleus  NucleusKey
	Mechtron MechtronId
}

func (k MechtronKey) String() string {
	return fmt.Sprintf("%s/%s", k.Nucleus, k.Mechtron)
}

// Equal reports whether two MechtronKeys name the same mechtron.
func (k MechtronKey) Equal(o MechtronKey) bool {
	return k.Nucleus.Equal(o.Nucleus) && k.Mechtron.Equal(o.Mechtron)
}

// Less gives MechtronKeys a total lexicographic order: Nucleus first,
// then Mechtron, matching spec.md §3's ordering rule.
func (k MechtronKey) Less(o MechtronKey) bool {
	if !k.Nucleus.Equal(o.Nucleus) {
		return k.Nucleus.Less(o.Nucleus)
	}
	return k.Mechtron.Less(o.Mechtron)
}

// RevisionKey names one immutable snapshot of a mechtron's state at a
// given cycle.
type RevisionKey struct {
	Mechtron MechtronKey
	Cycle    int64
}

func (r RevisionKey) String() string {
	return fmt.Sprintf("%s@%d", r.Mechtron, r.Cycle)
}

// ArtifactKind distinguishes the kinds of content an Artifact can name.
type ArtifactKind int

const (
	ArtifactConfig ArtifactKind = iota
	ArtifactWasmBin
	ArtifactSchema
)

// Artifact is a content-addressed reference resolved by the external
// artifact cache (spec.md §3), restored from original_source/rust's
// mechtron_common/src/configs.rs bundle/path/kind triple.
type Artifact struct {
	Bundle string
	Path   string
	Kind   ArtifactKind
}

func (a Artifact) String() string {
	return fmt.Sprintf("%s:%s", a.Bundle, a.Path)
}
