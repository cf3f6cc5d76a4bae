package compile

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// An artifact is a magic header followed by the canonical CBOR
// encoding of an artifact record.
const (
	magic           = "p2w!"
	artifactVersion = 1
)

type artifact struct {
	Version     int      `cbor:"1,keyasint"`
	Module      string   `cbor:"2,keyasint"`
	WAT         string   `cbor:"3,keyasint"`
	Exports     []string `cbor:"4,keyasint"`
	HostVersion string   `cbor:"5,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compile: CBOR encoding mode: %v", err))
	}
	encMode = em
}

// Encode returns the compiled artifact of prog. Encoding is
// deterministic.
func (prog *Program) Encode() ([]byte, error) {
	data, err := encMode.Marshal(artifact{
		Version:     artifactVersion,
		Module:      prog.Module,
		WAT:         prog.WAT,
		Exports:     prog.Exports,
		HostVersion: prog.HostVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", prog.Module, err)
	}
	return append([]byte(magic), data...), nil
}

// DecodeProgram decodes a compiled artifact produced by Encode.
func DecodeProgram(data []byte) (*Program, error) {
	if !bytes.HasPrefix(data, []byte(magic)) {
		return nil, fmt.Errorf("not a compiled module")
	}
	var a artifact
	if err := cbor.Unmarshal(data[len(magic):], &a); err != nil {
		return nil, fmt.Errorf("not a compiled module: %w", err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("compiled module has version %d, want %d", a.Version, artifactVersion)
	}
	return &Program{
		Module:      a.Module,
		WAT:         a.WAT,
		Exports:     a.Exports,
		HostVersion: a.HostVersion,
	}, nil
}
