package wire

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/uberscott/mechtron/internal/errs"
)

// compressBytes brotli-compresses b for the wire. TagMessageTransport is
// the one frame variant whose payload is arbitrary mechtron-authored
// content rather than a small fixed field, so it is the one the teacher's
// brotli dependency actually has something to do (spec.md's MessageTransport
// note), mirroring the compression step the teacher's mesh coordinator
// applies to large resource payloads before they leave a node.
func compressBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, errs.New(errs.ProtocolViolation, "brotli compress failed: "+err.Error())
	}
	if err := w.Close(); err != nil {
		return nil, errs.New(errs.ProtocolViolation, "brotli compress close failed: "+err.Error())
	}
	return buf.Bytes(), nil
}

func decompressBytes(b []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(b))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.New(errs.ProtocolViolation, "brotli decompress failed: "+err.Error())
	}
	return out, nil
}
