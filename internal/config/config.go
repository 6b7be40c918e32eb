// Package config implements mechtron's external collaborator surface:
// the artifact cache and schema factory provider (spec.md §6), plus a
// process-wide configuration value threaded through nucleus/shell calls
// via context.Context rather than a global singleton (spec.md §9's
// "Global configuration registry" redesign note).
package config

import (
	"context"

	"github.com/uberscott/mechtron/internal/buffer"
	"github.com/uberscott/mechtron/internal/mechtron"
	"github.com/uberscott/mechtron/internal/state"
)

// ArtifactCache resolves an Artifact reference to its backing content.
// Used only by the configuration pipeline (spec.md §6).
type ArtifactCache interface {
	Cache(artifact state.Artifact) error
	Get(artifact state.Artifact) (string, error)
}

// SchemaFactory yields a structured-buffer factory for a given artifact.
type SchemaFactory interface {
	Get(artifact state.Artifact) (BufferFactory, error)
}

// BufferFactory builds an empty Buffer bound to one schema.
type BufferFactory interface {
	New() *buffer.Buffer
}

// KernelFactory resolves an Artifact to the MechtronKernel that runs it
// -- the missing piece neutron_api.create_mechtron needs to host a new
// mechtron from nothing but the Artifact its creator named (spec.md
// §4.4.4). A WASM-backed deployment answers this with wasmkernel.Load
// plus whatever Codec the named artifact's build expects; this package
// only names the seam.
type KernelFactory interface {
	Get(artifact state.Artifact) (mechtron.MechtronKernel, error)
}

// Config is the process-wide default threaded through every
// nucleus/shell call. A context value carrying one of these is the
// primary path; the package-level Default is a convenience only, never
// read directly by core dispatch code.
type Config struct {
	Artifacts ArtifactCache
	Schemas   SchemaFactory
	Kernels   KernelFactory
	MaxHops   uint8
	NodeKind  string
}

type ctxKey struct{}

// WithConfig threads cfg through ctx for the nucleus/shell call tree.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext recovers the Config threaded by WithConfig, falling back
// to Default if the context never carried one -- the "process-wide
// default... acceptable as a convenience only" escape hatch spec.md §9
// explicitly allows.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}
	return Default
}

// Default is the fallback Config used when no context value is present.
// Production call sites should always thread one explicitly via
// WithConfig.
var Default = &Config{MaxHops: 255}
