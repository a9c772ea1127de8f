package model

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestResourceArgs(t *testing.T) {
	tests := []struct {
		name string
		res  Resource
		want []string
	}{
		{"cpu", CPU(), []string{"cpu"}},
		{"gpu", GPU(), []string{"gpu"}},
		{"network", Network("http://prover:3000", ""), []string{"network", "--endpoint", "http://prover:3000"}},
		{"network with key", Network("http://prover:3000", "secret"), []string{"network", "--endpoint", "http://prover:3000", "--api-key", "secret"}},
		{"cluster", Cluster("http://cluster", "k"), []string{"cluster", "--endpoint", "http://cluster", "--api-key", "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Args(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Args() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResourceValidate(t *testing.T) {
	if err := Network("", "k").Validate(); !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("Validate() = %v, want ErrMissingEndpoint", err)
	}
	if err := (Resource{Kind: "tpu"}).Validate(); err == nil {
		t.Error("expected error for unknown kind")
	}
	if !GPU().IsGPU() || CPU().IsGPU() {
		t.Error("IsGPU mismatch")
	}
}

func TestResourceJSON(t *testing.T) {
	tests := []struct {
		name string
		res  Resource
		json string
	}{
		{"cpu", CPU(), `"cpu"`},
		{"gpu", GPU(), `"gpu"`},
		{"network", Network("http://p", "k"), `{"network":{"endpoint":"http://p","api-key":"k"}}`},
		{"cluster", Cluster("http://c", ""), `{"cluster":{"endpoint":"http://c"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.res)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tt.json {
				t.Errorf("Marshal = %s, want %s", data, tt.json)
			}
			var got Resource
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got != tt.res {
				t.Errorf("Unmarshal = %+v, want %+v", got, tt.res)
			}
		})
	}
}

func TestResourceJSONUntaggedEndpoint(t *testing.T) {
	var got Resource
	if err := json.Unmarshal([]byte(`{"endpoint":"http://p","api-key":"k"}`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != Network("http://p", "k") {
		t.Errorf("got %+v, want network", got)
	}

	if err := json.Unmarshal([]byte(`"tpu"`), &got); err == nil {
		t.Error("expected error for unknown resource string")
	}
	if err := json.Unmarshal([]byte(`{"network":{}}`), &got); !errors.Is(err, ErrMissingEndpoint) {
		t.Errorf("err = %v, want ErrMissingEndpoint", err)
	}
}

func TestResourceYAML(t *testing.T) {
	type doc struct {
		Resource Resource `yaml:"resource"`
	}

	tests := []struct {
		name string
		in   string
		want Resource
	}{
		{"scalar", "resource: GPU\n", GPU()},
		{"tagged", "resource:\n  network:\n    endpoint: http://p\n    api-key: k\n", Network("http://p", "k")},
		{"cluster", "resource:\n  cluster:\n    endpoint: http://c\n", Cluster("http://c", "")},
		{"untagged", "resource:\n  endpoint: http://p\n", Network("http://p", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d doc
			if err := yaml.Unmarshal([]byte(tt.in), &d); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if d.Resource != tt.want {
				t.Errorf("got %+v, want %+v", d.Resource, tt.want)
			}

			out, err := yaml.Marshal(d)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var back doc
			if err := yaml.Unmarshal(out, &back); err != nil {
				t.Fatalf("re-Unmarshal %s: %v", out, err)
			}
			if back.Resource != tt.want {
				t.Errorf("round trip = %+v, want %+v", back.Resource, tt.want)
			}
		})
	}
}
