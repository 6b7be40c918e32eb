// Package wasmkernel adapts a compiled WASM module into a
// mechtron.MechtronKernel: the WASM module host spec.md §6 lists as an
// opaque external collaborator. Grounded directly on wasm/executor.go's
// load-module-then-call-named-export pattern, generalized from a single
// hardcoded "main" export to the kernel's create/port/extra/update call
// surface.
package wasmkernel

import (
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/uberscott/mechtron/internal/errs"
	"github.com/uberscott/mechtron/internal/mechtron"
	"github.com/uberscott/mechtron/internal/message"
	"github.com/uberscott/mechtron/internal/state"
)

// Codec translates between kernel calls and the flat byte buffers a WASM
// export exchanges across the host boundary. Left as a caller-supplied
// interface, same as config.ArtifactCache/SchemaFactory -- the wire
// format a given WASM module expects is a property of that module's
// build, not of this host.
type Codec interface {
	EncodeCreate(info mechtron.Info, createMsg *message.Message) ([]byte, error)
	EncodePort(info mechtron.Info, msgs []*message.Message) ([]byte, error)
	EncodeExtra(info mechtron.Info, ro *state.Snapshot, msg *message.Message) ([]byte, error)
	EncodeUpdate(info mechtron.Info) ([]byte, error)
	DecodeBuilders(out []byte) ([]*message.Builder, error)
}

// Kernel wraps one loaded WASM instance and the sets of export names it
// recognizes for each of the four kernel call kinds.
type Kernel struct {
	instance *wasmer.Instance
	codec    Codec

	ports   map[string]bool
	extras  map[string]bool
	updates map[string]bool
}

// Load compiles and instantiates wasmBytes and binds it to codec. ports,
// extras, and updates name the WASM exports recognized for each call
// kind; anything else reports not-found the same way an ordinary Go
// MechtronKernel does for an unknown name.
func Load(wasmBytes []byte, codec Codec, ports, extras, updates []string) (*Kernel, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "wasm module compile failed: "+err.Error())
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, errs.New(errs.ConfigurationError, "wasm instance failed: "+err.Error())
	}
	return &Kernel{
		instance: instance,
		codec:    codec,
		ports:    toSet(ports),
		extras:   toSet(extras),
		updates:  toSet(updates),
	}, nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// callExport invokes the named WASM export with input and returns its
// raw result bytes, mirroring wasm/executor.go's Execute body exactly
// (including its single-return-value, byte-slice-or-nothing convention)
// against an already-loaded instance instead of compiling fresh each
// call.
func (k *Kernel) callExport(name string, input []byte) ([]byte, error) {
	fn, err := k.instance.Exports.GetFunction(name)
	if err != nil {
		return nil, errs.New(errs.NotFound, "no such wasm export: "+name)
	}
	result, err := fn(input)
	if err != nil {
		return nil, errs.New(errs.ProtocolViolation, "wasm export "+name+" failed: "+err.Error())
	}
	if b, ok := result.([]byte); ok {
		return b, nil
	}
	return nil, nil
}

func (k *Kernel) Create(info mechtron.Info, ctx mechtron.Context, st *state.State, createMsg *message.Message) ([]*message.Builder, error) {
	input, err := k.codec.EncodeCreate(info, createMsg)
	if err != nil {
		return nil, err
	}
	out, err := k.callExport("create", input)
	if err != nil {
		return nil, err
	}
	return k.codec.DecodeBuilders(out)
}

func (k *Kernel) Port(name string) (mechtron.PortHandler, bool) {
	if !k.ports[name] {
		return nil, false
	}
	return func(info mechtron.Info, ctx mechtron.Context, st *state.State, msgs []*message.Message) ([]*message.Builder, error) {
		input, err := k.codec.EncodePort(info, msgs)
		if err != nil {
			return nil, err
		}
		out, err := k.callExport(name, input)
		if err != nil {
			return nil, err
		}
		return k.codec.DecodeBuilders(out)
	}, true
}

func (k *Kernel) Extra(name string) (mechtron.ExtraHandler, bool) {
	if !k.extras[name] {
		return nil, false
	}
	return func(info mechtron.Info, ctx mechtron.Context, ro *state.Snapshot, msg *message.Message) ([]*message.Builder, error) {
		input, err := k.codec.EncodeExtra(info, ro, msg)
		if err != nil {
			return nil, err
		}
		out, err := k.callExport(name, input)
		if err != nil {
			return nil, err
		}
		return k.codec.DecodeBuilders(out)
	}, true
}

func (k *Kernel) Update(phase string) (mechtron.UpdateHandler, bool) {
	if !k.updates[phase] {
		return nil, false
	}
	return func(info mechtron.Info, ctx mechtron.Context, st *state.State) ([]*message.Builder, error) {
		input, err := k.codec.EncodeUpdate(info)
		if err != nil {
			return nil, err
		}
		out, err := k.callExport(phase, input)
		if err != nil {
			return nil, err
		}
		return k.codec.DecodeBuilders(out)
	}, true
}
