package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBackendKindOrdinals(t *testing.T) {
	tests := []struct {
		kind    BackendKind
		name    string
		ordinal uint8
	}{
		{Airbender, "airbender", 0},
		{Jolt, "jolt", 1},
		{Miden, "miden", 2},
		{Nexus, "nexus", 3},
		{OpenVM, "openvm", 4},
		{Pico, "pico", 5},
		{Risc0, "risc0", 6},
		{SP1, "sp1", 7},
		{Ziren, "ziren", 8},
		{Zisk, "zisk", 9},
	}
	for _, tt := range tests {
		if tt.kind.String() != tt.name {
			t.Errorf("String() = %q, want %q", tt.kind.String(), tt.name)
		}
		if uint8(tt.kind) != tt.ordinal {
			t.Errorf("%s ordinal = %d, want %d", tt.name, uint8(tt.kind), tt.ordinal)
		}
	}
	if n := len(AllKinds()); n != len(tests) {
		t.Errorf("len(AllKinds()) = %d, want %d", n, len(tests))
	}
}

func TestParseBackendKind(t *testing.T) {
	for _, k := range AllKinds() {
		got, err := ParseBackendKind(strings.ToUpper(k.String()))
		if err != nil {
			t.Fatalf("ParseBackendKind(%q): %v", strings.ToUpper(k.String()), err)
		}
		if got != k {
			t.Errorf("ParseBackendKind(%q) = %v, want %v", k.String(), got, k)
		}
	}

	_, err := ParseBackendKind("cairo")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
	for _, want := range []string{"`cairo`", "airbender", "zisk"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestBackendKindJSON(t *testing.T) {
	data, err := json.Marshal(map[string]BackendKind{"backend": SP1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"backend":"sp1"}` {
		t.Errorf("Marshal = %s", data)
	}

	var out struct {
		Backend BackendKind `json:"backend"`
	}
	if err := json.Unmarshal([]byte(`{"backend":"Risc0"}`), &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Backend != Risc0 {
		t.Errorf("Backend = %v, want risc0", out.Backend)
	}

	if _, err := json.Marshal(BackendKind(42)); err == nil {
		t.Error("expected error marshaling invalid kind")
	}
}
