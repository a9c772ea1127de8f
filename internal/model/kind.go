package model

import (
	"fmt"
	"strings"
)

// BackendKind identifies one of the supported proving backends.
// The ordinal is stable and is used to derive per-kind ports.
type BackendKind uint8

const (
	Airbender BackendKind = iota
	Jolt
	Miden
	Nexus
	OpenVM
	Pico
	Risc0
	SP1
	Ziren
	Zisk
)

var kindNames = [...]string{
	Airbender: "airbender",
	Jolt:      "jolt",
	Miden:     "miden",
	Nexus:     "nexus",
	OpenVM:    "openvm",
	Pico:      "pico",
	Risc0:     "risc0",
	SP1:       "sp1",
	Ziren:     "ziren",
	Zisk:      "zisk",
}

// AllKinds returns every backend kind in ordinal order.
func AllKinds() []BackendKind {
	kinds := make([]BackendKind, len(kindNames))
	for i := range kindNames {
		kinds[i] = BackendKind(i)
	}
	return kinds
}

// String returns the lowercase name of the kind.
func (k BackendKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("BackendKind(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k BackendKind) Valid() bool {
	return int(k) < len(kindNames)
}

// ParseBackendKind parses a kind name case-insensitively.
func ParseBackendKind(s string) (BackendKind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return BackendKind(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported backend kind `%s`, expect one of [%s]", s, strings.Join(kindNames[:], ", "))
}

// MarshalText implements encoding.TextMarshaler.
func (k BackendKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid backend kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *BackendKind) UnmarshalText(text []byte) error {
	parsed, err := ParseBackendKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
