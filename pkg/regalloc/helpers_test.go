package regalloc

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/target"
)

// irBuilder appends single-output expressions consuming the first output of
// their inputs.
type irBuilder struct {
	ir *lir.LinearIR
}

func newIRBuilder(name string) *irBuilder {
	return &irBuilder{ir: lir.New(name)}
}

func (b *irBuilder) add(name, kind string, inputs ...*lir.Expression) *lir.Expression {
	numOutputs := 1
	if kind == "Result" {
		numOutputs = 0
	}
	connectors := make([]*lir.PortConnector, len(inputs))
	for i, in := range inputs {
		connectors[i] = in.Output(0)
	}
	return b.ir.Add(name, lir.Op{Kind: kind, DType: dtypes.Float32, Shape: []int{1, 64}, NumOutputs: numOutputs}, connectors...)
}

func (b *irBuilder) buffer(name string, group int, inputs ...*lir.Expression) *lir.Expression {
	connectors := make([]*lir.PortConnector, len(inputs))
	for i, in := range inputs {
		connectors[i] = in.Output(0)
	}
	return b.ir.Add(name, lir.Op{Kind: "Buffer", DType: dtypes.Float32, Shape: []int{1, 64}, NumOutputs: 1, RegGroup: group}, connectors...)
}

func newManager(gp, vec int) *RegManager {
	return NewRegManager(target.NewGenerator(target.NewGeneric(gp, vec)))
}

// scenarioA: two parameters, three chained elementwise ops, one result.
func scenarioA() *lir.LinearIR {
	b := newIRBuilder("scenario_a")
	p0 := b.add("param0", "Parameter")
	p1 := b.add("param1", "Parameter")
	l0 := b.add("load0", "Load", p0)
	l1 := b.add("load1", "Load", p1)
	add := b.add("add", "Add", l0, l1)
	relu := b.add("relu", "Relu", add)
	exp := b.add("exp", "Exp", relu)
	st := b.add("store", "Store", exp)
	b.add("result", "Result", st)
	b.ir.Enumerate()
	return b.ir
}

func allocate(t *testing.T, ir *lir.LinearIR, mgr *RegManager) *AllocationResult {
	t.Helper()
	InitLiveRanges(ir, mgr)
	result, err := AssignRegisters(ir, mgr)
	if err != nil {
		t.Fatalf("AssignRegisters: %+v", err)
	}
	return result
}

// resetRegs clears every register of ir so live ranges can be recomputed.
func resetRegs(ir *lir.LinearIR) {
	for _, e := range ir.Expressions() {
		for _, d := range e.InputDescs() {
			d.SetAbstractReg(lir.Reg{})
		}
		for _, d := range e.OutputDescs() {
			d.SetAbstractReg(lir.Reg{})
		}
	}
}
