package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// SerializedProgram is the compiled guest program handed to every new
// server session.
type SerializedProgram []byte

// PublicValues are the outputs a guest program commits to.
type PublicValues []byte

// Input is the data fed to a guest program. A nil Proofs means no
// auxiliary proofs are attached.
type Input struct {
	Stdin  []byte
	Proofs []byte
}

// NewInput returns an Input with stdin and no auxiliary proofs.
func NewInput(stdin []byte) Input {
	return Input{Stdin: stdin}
}

// WithProofs returns a copy of in carrying serialized auxiliary proofs.
func (in Input) WithProofs(proofs []byte) Input {
	in.Proofs = proofs
	return in
}

// WithPrefixedStdin returns a copy of in whose stdin is data preceded by
// its length as a little-endian u32.
func (in Input) WithPrefixedStdin(data []byte) Input {
	buf := make([]byte, 4, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	in.Stdin = append(buf, data...)
	return in
}

// ProofKind selects the proof system used when proving.
type ProofKind uint8

const (
	ProofCompressed ProofKind = iota
	ProofGroth16
)

// ErrInvalidProofKind is returned for unknown proof kinds.
var ErrInvalidProofKind = errors.New("invalid proof kind")

func (k ProofKind) String() string {
	switch k {
	case ProofCompressed:
		return "compressed"
	case ProofGroth16:
		return "groth16"
	default:
		return fmt.Sprintf("ProofKind(%d)", uint8(k))
	}
}

// ParseProofKind parses "compressed" or "groth16" case-insensitively.
func ParseProofKind(s string) (ProofKind, error) {
	switch strings.ToLower(s) {
	case "compressed":
		return ProofCompressed, nil
	case "groth16":
		return ProofGroth16, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidProofKind, s)
	}
}

// ProofKindFromWire converts the integer carried on the wire.
func ProofKindFromWire(v int) (ProofKind, error) {
	if v < int(ProofCompressed) || v > int(ProofGroth16) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidProofKind, v)
	}
	return ProofKind(v), nil
}

func (k ProofKind) MarshalText() ([]byte, error) {
	if k > ProofGroth16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProofKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ProofKind) UnmarshalText(text []byte) error {
	parsed, err := ParseProofKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Proof is an opaque proof tagged with the proof system that produced it.
type Proof struct {
	Kind  ProofKind
	Bytes []byte
}
