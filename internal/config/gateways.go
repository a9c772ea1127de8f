package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/eth-act/ere/internal/model"
)

// ErrNoGateways is returned when a gateways file lists no gateway.
var ErrNoGateways = errors.New("no gateways configured")

// Gateway is one entry of the daemon gateways file.
type Gateway struct {
	Backend  model.BackendKind
	Resource model.Resource
	// Program is the path of the compiled guest program.
	Program string
}

type gatewayEntry struct {
	Backend  string          `yaml:"backend"`
	Resource *model.Resource `yaml:"resource"`
	// Relative paths are resolved against the gateways file directory.
	Program string `yaml:"program"`
}

type gatewaysFile struct {
	Gateways []gatewayEntry `yaml:"gateways"`
}

// LoadGateways reads and validates the gateways file at path.
func LoadGateways(path string) ([]Gateway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gateways file: %w", err)
	}

	var f gatewaysFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse gateways file %s: %w", path, err)
	}
	if len(f.Gateways) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoGateways)
	}

	dir := filepath.Dir(path)
	out := make([]Gateway, 0, len(f.Gateways))
	seen := make(map[model.BackendKind]bool, len(f.Gateways))
	for i, e := range f.Gateways {
		if e.Backend == "" {
			return nil, fmt.Errorf("gateway %d: backend is required", i)
		}
		kind, err := model.ParseBackendKind(e.Backend)
		if err != nil {
			return nil, fmt.Errorf("gateway %d: %w", i, err)
		}
		if seen[kind] {
			return nil, fmt.Errorf("gateway %d: duplicate backend %s", i, kind)
		}
		seen[kind] = true

		g := Gateway{Backend: kind, Resource: model.CPU(), Program: e.Program}
		if e.Resource != nil {
			g.Resource = *e.Resource
		}
		if err := g.Resource.Validate(); err != nil {
			return nil, fmt.Errorf("gateway %s: %w", kind, err)
		}
		if g.Program == "" {
			return nil, fmt.Errorf("gateway %s: program is required", kind)
		}
		if !filepath.IsAbs(g.Program) {
			g.Program = filepath.Join(dir, g.Program)
		}
		out = append(out, g)
	}
	return out, nil
}

// ReadProgram loads the compiled program of g.
func (g Gateway) ReadProgram() (model.SerializedProgram, error) {
	data, err := os.ReadFile(g.Program)
	if err != nil {
		return nil, fmt.Errorf("read %s program: %w", g.Backend, err)
	}
	return data, nil
}
