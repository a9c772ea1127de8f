package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResourceKind names the variant of a Resource.
type ResourceKind string

const (
	ResourceCPU     ResourceKind = "cpu"
	ResourceGPU     ResourceKind = "gpu"
	ResourceNetwork ResourceKind = "network"
	ResourceCluster ResourceKind = "cluster"
)

// ErrMissingEndpoint is returned for remote resources without an endpoint.
var ErrMissingEndpoint = errors.New("remote resource requires an endpoint")

// Resource selects where proving happens. Endpoint and APIKey are only
// meaningful for the network and cluster variants.
type Resource struct {
	Kind     ResourceKind
	Endpoint string
	APIKey   string
}

func CPU() Resource { return Resource{Kind: ResourceCPU} }

func GPU() Resource { return Resource{Kind: ResourceGPU} }

func Network(endpoint, apiKey string) Resource {
	return Resource{Kind: ResourceNetwork, Endpoint: endpoint, APIKey: apiKey}
}

func Cluster(endpoint, apiKey string) Resource {
	return Resource{Kind: ResourceCluster, Endpoint: endpoint, APIKey: apiKey}
}

// IsGPU reports whether the resource needs GPU images and device flags.
func (r Resource) IsGPU() bool {
	return r.Kind == ResourceGPU
}

func (r Resource) remote() bool {
	return r.Kind == ResourceNetwork || r.Kind == ResourceCluster
}

// Validate checks that the variant is known and remote variants carry an
// endpoint.
func (r Resource) Validate() error {
	switch r.Kind {
	case ResourceCPU, ResourceGPU:
		return nil
	case ResourceNetwork, ResourceCluster:
		if r.Endpoint == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingEndpoint)
		}
		return nil
	default:
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
}

// Args renders the resource as server launch arguments.
func (r Resource) Args() []string {
	args := []string{string(r.Kind)}
	if r.remote() {
		args = append(args, "--endpoint", r.Endpoint)
		if r.APIKey != "" {
			args = append(args, "--api-key", r.APIKey)
		}
	}
	return args
}

func (r Resource) String() string {
	if r.remote() {
		return string(r.Kind) + "(" + r.Endpoint + ")"
	}
	return string(r.Kind)
}

// ParseResource parses the plain "cpu" and "gpu" forms.
func ParseResource(s string) (Resource, error) {
	switch ResourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case ResourceCPU:
		return CPU(), nil
	case ResourceGPU:
		return GPU(), nil
	default:
		return Resource{}, fmt.Errorf("unsupported resource %q, expect cpu, gpu, network or cluster", s)
	}
}

type remoteConfig struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	APIKey   string `json:"api-key,omitempty" yaml:"api-key,omitempty"`
}

func (r Resource) encoded() any {
	if r.remote() {
		return map[string]remoteConfig{
			string(r.Kind): {Endpoint: r.Endpoint, APIKey: r.APIKey},
		}
	}
	return string(r.Kind)
}

// MarshalJSON encodes cpu and gpu as strings and remote variants as a
// single-key object.
func (r Resource) MarshalJSON() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r.encoded())
}

// UnmarshalJSON accepts "cpu", "gpu", {"network": {...}}, {"cluster": {...}}
// and a bare {"endpoint": ...} object, which is read as network.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseResource(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("decode resource: %w", err)
	}
	for _, kind := range []ResourceKind{ResourceNetwork, ResourceCluster} {
		raw, ok := tagged[string(kind)]
		if !ok {
			continue
		}
		var cfg remoteConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("decode %s resource: %w", kind, err)
		}
		return r.setRemote(kind, cfg)
	}

	var cfg remoteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("decode network resource: %w", err)
	}
	return r.setRemote(ResourceNetwork, cfg)
}

// MarshalYAML implements yaml.Marshaler with the same shapes as JSON.
func (r Resource) MarshalYAML() (any, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r.encoded(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler with the same shapes as JSON.
func (r *Resource) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseResource(node.Value)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}

	var tagged map[string]yaml.Node
	if err := node.Decode(&tagged); err != nil {
		return fmt.Errorf("decode resource: %w", err)
	}
	for _, kind := range []ResourceKind{ResourceNetwork, ResourceCluster} {
		inner, ok := tagged[string(kind)]
		if !ok {
			continue
		}
		var cfg remoteConfig
		if err := inner.Decode(&cfg); err != nil {
			return fmt.Errorf("decode %s resource: %w", kind, err)
		}
		return r.setRemote(kind, cfg)
	}

	var cfg remoteConfig
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("decode network resource: %w", err)
	}
	return r.setRemote(ResourceNetwork, cfg)
}

func (r *Resource) setRemote(kind ResourceKind, cfg remoteConfig) error {
	res := Resource{Kind: kind, Endpoint: cfg.Endpoint, APIKey: cfg.APIKey}
	if err := res.Validate(); err != nil {
		return err
	}
	*r = res
	return nil
}
