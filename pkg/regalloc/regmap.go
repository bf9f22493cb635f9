package regalloc

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// RegMap maps abstract registers to physical registers.
type RegMap map[lir.Reg]lir.Reg

// Merge returns the union of m and other; other wins on conflicts.
func (m RegMap) Merge(other RegMap) RegMap {
	out := make(RegMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Translate maps every register of regs.
func (m RegMap) Translate(regs lir.RegSet) (lir.RegSet, error) {
	out := lir.NewRegSet()
	for r := range regs {
		phys, found := m[r]
		if !found {
			return nil, errors.Errorf("no physical register for %s", r)
		}
		out.Add(phys)
	}
	return out, nil
}

// Apply writes the physical register of every port descriptor of ir, looking
// up the abstract register each descriptor keeps. Applying the same map again
// changes nothing.
func (m RegMap) Apply(ir *lir.LinearIR) error {
	apply := func(e *lir.Expression, descs []*lir.PortDescriptor, kind string) error {
		for i, d := range descs {
			abstract := d.AbstractReg()
			if !abstract.IsDefined() {
				continue
			}
			phys, found := m[abstract]
			if !found {
				return errors.Errorf("%s %s%d: no physical register for %s", e, kind, i, abstract)
			}
			d.SetReg(phys)
		}
		return nil
	}
	for _, e := range ir.Expressions() {
		if err := apply(e, e.InputDescs(), "in"); err != nil {
			return err
		}
		if err := apply(e, e.OutputDescs(), "out"); err != nil {
			return err
		}
	}
	return nil
}

// MarshalYAML encodes the map as "abstract: physical" string pairs.
func (m RegMap) MarshalYAML() (any, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k.String()] = v.String()
	}
	return out, nil
}

// UnmarshalYAML decodes the form written by MarshalYAML.
func (m *RegMap) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]string
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "register map")
	}
	out := make(RegMap, len(raw))
	for k, v := range raw {
		abstract, err := lir.ParseReg(k)
		if err != nil {
			return errors.Wrapf(err, "register map key")
		}
		phys, err := lir.ParseReg(v)
		if err != nil {
			return errors.Wrapf(err, "register map value for %s", k)
		}
		if abstract.Type != phys.Type {
			return errors.Errorf("register map: %s mapped to %s across banks", abstract, phys)
		}
		out[abstract] = phys
	}
	*m = out
	return nil
}
