// Package lirgen builds a Linear IR from a YAML subgraph description.
//
// A description lists the expressions in execution order, then the loops
// over contiguous ranges of them:
//
//	name: exp
//	ops:
//	  - {name: param, kind: Parameter, shape: [1, 100]}
//	  - {name: load, kind: Load, inputs: [param]}
//	  - {name: exp, kind: Exp, inputs: [load]}
//	  - {name: store, kind: Store, inputs: [exp]}
//	  - {name: result, kind: Result, inputs: [store]}
//	loops:
//	  - {begin: load, end: store, work_amount: 100, increment: 8,
//	     entries: [load.in0], exits: [store.out0]}
package lirgen

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Subgraph is the YAML description of one subgraph.
type Subgraph struct {
	Name  string     `yaml:"name"`
	Ops   []OpSpec   `yaml:"ops"`
	Loops []LoopSpec `yaml:"loops,omitempty"`
}

// OpSpec describes one expression.
type OpSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	// DType is the element type name ("float32", "int8", ...). Defaults to
	// the type of the first input, or float32.
	DType string `yaml:"dtype,omitempty"`
	// Shape of the outputs. Defaults to the shape of the first input.
	Shape []int `yaml:"shape,omitempty"`
	// Inputs reference outputs of earlier ops, as "name" or "name.outN".
	Inputs []string `yaml:"inputs,omitempty"`
	// Outputs overrides the number of outputs (1, or 0 for results).
	Outputs *int `yaml:"outputs,omitempty"`
	// Group is the register group of a buffer.
	Group int `yaml:"group,omitempty"`
}

// LoopSpec describes a loop over the ops Begin..End (inclusive). Loops
// enclosing others must be listed first.
type LoopSpec struct {
	Begin      string     `yaml:"begin"`
	End        string     `yaml:"end"`
	WorkAmount int        `yaml:"work_amount"`
	Increment  int        `yaml:"increment"`
	Dim        int        `yaml:"dim"`
	Entries    []PortSpec `yaml:"entries"`
	Exits      []PortSpec `yaml:"exits"`
}

// PortSpec references a loop port, "load.in0" or "store.out0". The mapping
// form also sets the pointer arithmetic attributes:
//
//	{port: load.in0, incremented: false, dim: 1}
type PortSpec struct {
	Port        string `yaml:"port"`
	Incremented *bool  `yaml:"incremented,omitempty"`
	Dim         *int   `yaml:"dim,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (p *PortSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*p = PortSpec{Port: value.Value}
		return nil
	}
	type plain PortSpec
	return value.Decode((*plain)(p))
}

// Parse decodes a subgraph description.
func Parse(data []byte) (*Subgraph, error) {
	var sg Subgraph
	if err := yaml.Unmarshal(data, &sg); err != nil {
		return nil, errors.Wrap(err, "failed to decode subgraph")
	}
	if sg.Name == "" {
		sg.Name = "subgraph"
	}
	if len(sg.Ops) == 0 {
		return nil, errors.Errorf("subgraph %q has no ops", sg.Name)
	}
	return &sg, nil
}

// LoadFile reads and decodes a subgraph description file.
func LoadFile(path string) (*Subgraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read subgraph %q", path)
	}
	sg, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "in %q", path)
	}
	return sg, nil
}

// Marshal encodes the subgraph back to YAML.
func (sg *Subgraph) Marshal() ([]byte, error) {
	return yaml.Marshal(sg)
}

// portRef is a parsed "name", "name.inN" or "name.outN" reference.
type portRef struct {
	name   string
	output bool
	index  int
}

// parsePortRef parses a port reference. Bare names refer to output 0.
func parsePortRef(s string) (portRef, error) {
	name, port, found := strings.Cut(s, ".")
	if name == "" {
		return portRef{}, errors.Errorf("invalid port reference %q", s)
	}
	if !found {
		return portRef{name: name, output: true}, nil
	}
	ref := portRef{name: name}
	var digits string
	switch {
	case strings.HasPrefix(port, "out"):
		ref.output, digits = true, strings.TrimPrefix(port, "out")
	case strings.HasPrefix(port, "in"):
		digits = strings.TrimPrefix(port, "in")
	default:
		return portRef{}, errors.Errorf("invalid port reference %q: expected in<N> or out<N> after the dot", s)
	}
	idx, err := strconv.Atoi(digits)
	if err != nil || idx < 0 {
		return portRef{}, errors.Errorf("invalid port index in %q", s)
	}
	ref.index = idx
	return ref, nil
}
