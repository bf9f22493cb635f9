package lirgen

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// builder keeps the state of one Build call.
type builder struct {
	sg    *Subgraph
	ir    *lir.LinearIR
	loops []*LoopSpec // marked so far
}

// Build creates the Linear IR described by sg, with its loops registered in
// the loop manager. Loop markers are not inserted and the IR is not
// enumerated: the pipeline does both.
func Build(sg *Subgraph) (*lir.LinearIR, error) {
	b := &builder{sg: sg, ir: lir.New(sg.Name)}
	for i := range sg.Ops {
		if err := b.addOp(&sg.Ops[i]); err != nil {
			return nil, errors.WithMessagef(err, "subgraph %q, op #%d", sg.Name, i)
		}
	}
	for i := range sg.Loops {
		if err := b.addLoop(&sg.Loops[i]); err != nil {
			return nil, errors.WithMessagef(err, "subgraph %q, loop #%d", sg.Name, i)
		}
	}
	klog.V(1).Infof("lirgen.Build(%s): %d expressions, %d loops", sg.Name, b.ir.Len(), b.ir.LoopManager().Len())
	return b.ir, nil
}

func (b *builder) addOp(spec *OpSpec) error {
	if spec.Name == "" {
		return errors.New("op has no name")
	}
	if spec.Kind == "" {
		return errors.Errorf("op %q has no kind", spec.Name)
	}
	if b.ir.Expr(spec.Name) != nil {
		return errors.Errorf("duplicate op name %q", spec.Name)
	}

	inputs := make([]*lir.PortConnector, len(spec.Inputs))
	for i, in := range spec.Inputs {
		c, err := b.output(in)
		if err != nil {
			return errors.WithMessagef(err, "op %q input #%d", spec.Name, i)
		}
		inputs[i] = c
	}

	op := lir.Op{Kind: spec.Kind, Shape: slices.Clone(spec.Shape), RegGroup: spec.Group, NumOutputs: 1}
	if lir.RoleForKind(spec.Kind) == lir.RoleResult {
		op.NumOutputs = 0
	}
	if spec.Outputs != nil {
		if *spec.Outputs < 0 {
			return errors.Errorf("op %q has a negative number of outputs", spec.Name)
		}
		op.NumOutputs = *spec.Outputs
	}
	if op.Shape == nil && len(inputs) > 0 {
		op.Shape = slices.Clone(inputs[0].Source().Descriptor().Shape())
	}
	if op.Shape == nil && op.NumOutputs > 0 {
		return errors.Errorf("op %q needs a shape", spec.Name)
	}

	switch {
	case spec.DType != "":
		dtype, err := dtypes.DTypeString(spec.DType)
		if err != nil {
			return errors.Wrapf(err, "op %q", spec.Name)
		}
		op.DType = dtype
	case len(inputs) > 0:
		op.DType = inputs[0].Source().Expr.DType()
	default:
		op.DType = dtypes.Float32
	}
	b.ir.Add(spec.Name, op, inputs...)
	return nil
}

// output resolves a reference to the output connector of an earlier op.
func (b *builder) output(s string) (*lir.PortConnector, error) {
	ref, err := parsePortRef(s)
	if err != nil {
		return nil, err
	}
	if !ref.output {
		return nil, errors.Errorf("%q: inputs must reference outputs", s)
	}
	e := b.ir.Expr(ref.name)
	if e == nil {
		return nil, errors.Errorf("%q: unknown op, inputs must be defined before use", s)
	}
	if ref.index >= e.NumOutputs() {
		return nil, errors.Errorf("%q: op has %d outputs", s, e.NumOutputs())
	}
	return e.Output(ref.index), nil
}

func (b *builder) addLoop(spec *LoopSpec) error {
	begin, end := b.index(spec.Begin), b.index(spec.End)
	switch {
	case begin < 0:
		return errors.Errorf("unknown begin op %q", spec.Begin)
	case end < 0:
		return errors.Errorf("unknown end op %q", spec.End)
	case begin > end:
		return errors.Errorf("begin op %q comes after end op %q", spec.Begin, spec.End)
	case spec.Increment <= 0:
		return errors.Errorf("increment must be positive, got %d", spec.Increment)
	case spec.WorkAmount < 0:
		return errors.Errorf("work amount must not be negative, got %d", spec.WorkAmount)
	case len(spec.Entries) == 0 || len(spec.Exits) == 0:
		return errors.New("loop needs entry and exit ports")
	}
	for _, prev := range b.loops {
		pb, pe := b.index(prev.Begin), b.index(prev.End)
		if end < pb || pe < begin || (pb <= begin && end <= pe) {
			continue
		}
		return errors.Errorf("loop [%s, %s] encloses or overlaps loop [%s, %s] listed before it, enclosing loops come first",
			spec.Begin, spec.End, prev.Begin, prev.End)
	}
	entries, err := b.loopPorts(spec, spec.Entries, begin, end, false)
	if err != nil {
		return err
	}
	exits, err := b.loopPorts(spec, spec.Exits, begin, end, true)
	if err != nil {
		return err
	}
	info := lir.NewUnifiedLoopInfo(spec.WorkAmount, spec.Increment, entries, exits)
	b.ir.LoopManager().MarkLoop(b.ir, begin, end+1, info)
	b.loops = append(b.loops, spec)
	return nil
}

func (b *builder) loopPorts(spec *LoopSpec, ports []PortSpec, begin, end int, output bool) ([]lir.LoopPort, error) {
	result := make([]lir.LoopPort, 0, len(ports))
	for _, p := range ports {
		ref, err := parsePortRef(p.Port)
		if err != nil {
			return nil, err
		}
		if ref.output != output {
			if output {
				return nil, errors.Errorf("exit port %q must be an output", p.Port)
			}
			return nil, errors.Errorf("entry port %q must be an input", p.Port)
		}
		idx := b.index(ref.name)
		if idx < begin || idx > end {
			return nil, errors.Errorf("port %q is not inside the loop [%s, %s]", p.Port, spec.Begin, spec.End)
		}
		e := b.ir.At(idx)
		var port lir.ExpressionPort
		if output {
			if ref.index >= e.NumOutputs() {
				return nil, errors.Errorf("port %q: op has %d outputs", p.Port, e.NumOutputs())
			}
			port = e.OutputPort(ref.index)
		} else {
			if ref.index >= e.NumInputs() {
				return nil, errors.Errorf("port %q: op has %d inputs", p.Port, e.NumInputs())
			}
			port = e.InputPort(ref.index)
		}
		dim := spec.Dim
		if p.Dim != nil {
			dim = *p.Dim
		}
		lp := lir.NewLoopPort(port, dim)
		if p.Incremented != nil {
			lp.IsIncremented = *p.Incremented
		}
		result = append(result, lp)
	}
	return result, nil
}

// index returns the position of the named op, or -1.
func (b *builder) index(name string) int {
	e := b.ir.Expr(name)
	if e == nil {
		return -1
	}
	return b.ir.Index(e)
}
