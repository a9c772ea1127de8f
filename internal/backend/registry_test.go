package backend_test

import (
	"errors"
	"testing"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/model"
)

func TestRegistryRegisterAndKinds(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(model.Zisk, backend.NewEcho)
	reg.Register(model.Airbender, backend.NewEcho)
	reg.Register(model.SP1, backend.NewEcho)

	kinds := reg.Kinds()
	want := []model.BackendKind{model.Airbender, model.SP1, model.Zisk}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Kinds()[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestRegistryLookupUnregistered(t *testing.T) {
	reg := backend.NewRegistry()

	if _, err := reg.Lookup(model.Risc0); err == nil {
		t.Fatal("Lookup() of unregistered kind should fail")
	}
}

func TestRegistryNew(t *testing.T) {
	reg := backend.NewRegistry()
	reg.Register(model.SP1, backend.NewEcho)

	b, err := reg.New(model.SP1, model.CPU(), model.SerializedProgram{1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if b.Name() != "echo" {
		t.Errorf("Name() = %q, want %q", b.Name(), "echo")
	}
}

func TestRegistryNewFactoryError(t *testing.T) {
	reg := backend.NewRegistry()
	boom := errors.New("no device")
	reg.Register(model.Risc0, func(model.Resource, model.SerializedProgram) (backend.Backend, error) {
		return nil, boom
	})

	_, err := reg.New(model.Risc0, model.GPU(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("New() error = %v, want wrapped %v", err, boom)
	}
}
