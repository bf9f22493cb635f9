package regalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

func TestInitLiveRangesScenarioA(t *testing.T) {
	ir := scenarioA()
	mgr := newManager(16, 16)
	InitLiveRanges(ir, mgr)

	// Boundary values are global.
	global := LiveInterval{Start: 0, Stop: ir.Len() - 1}
	assert.Equal(t, lir.GPR(0), ir.Expr("param0").OutputDesc(0).Reg())
	assert.Equal(t, lir.GPR(1), ir.Expr("param1").OutputDesc(0).Reg())
	assert.Equal(t, lir.GPR(2), ir.Expr("result").InputDesc(0).Reg())
	for _, r := range []lir.Reg{lir.GPR(0), lir.GPR(1), lir.GPR(2)} {
		assert.Equal(t, global, mgr.LiveRange(r), "global %s", r)
	}

	// Intermediate values live from their producer to their sole consumer.
	for _, tt := range []struct {
		name string
		want LiveInterval
	}{
		{"load0", LiveInterval{2, 4}},
		{"load1", LiveInterval{3, 4}},
		{"add", LiveInterval{4, 5}},
		{"relu", LiveInterval{5, 6}},
		{"exp", LiveInterval{6, 7}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := ir.Expr(tt.name)
			r := e.OutputDesc(0).Reg()
			assert.Equal(t, lir.RegTypeVec, r.Type)
			assert.Equal(t, tt.want, mgr.LiveRange(r))
			for _, c := range e.Output(0).Consumers() {
				assert.Equal(t, r, c.Descriptor().Reg(), "register propagated to %s", c.Expr)
			}
		})
	}
	assert.Len(t, mgr.Regs(), 8)

	// Registers expiring at an expression are still live there.
	add := ir.Expr("add")
	assert.True(t, mgr.LiveRegs(add).Equal(lir.NewRegSet(
		lir.GPR(0), lir.GPR(1), lir.GPR(2), ir.Expr("load0").OutputDesc(0).Reg(), ir.Expr("load1").OutputDesc(0).Reg())))
	relu := ir.Expr("relu")
	assert.False(t, mgr.LiveRegs(relu).Contains(ir.Expr("load0").OutputDesc(0).Reg()))
	assert.Empty(t, mgr.LiveRegs(ir.Expr("result")))
}

func TestInitLiveRangesShapeInferChains(t *testing.T) {
	b := newIRBuilder("reshape")
	p := b.add("param", "Parameter")
	rs := b.add("reshape", "Reshape", p)
	l := b.add("load", "Load", rs)
	st := b.add("store", "Store", l)
	rs2 := b.add("reshape_out", "Reshape", st)
	b.add("result", "Result", rs2)
	b.ir.Enumerate()

	mgr := newManager(16, 16)
	InitLiveRanges(b.ir, mgr)
	assert.Equal(t, lir.GPR(0), rs.OutputDesc(0).Reg(), "parameter chain shares the parameter register")
	assert.Equal(t, lir.GPR(1), st.OutputDesc(0).Reg(), "result chain shares the result register")
	assert.Equal(t, LiveInterval{0, 5}, mgr.LiveRange(lir.GPR(1)))

	result, err := AssignRegisters(b.ir, mgr)
	require.NoError(t, err)
	assert.Equal(t, lir.GPR(0), rs.OutputDesc(0).Reg())
	assert.Equal(t, lir.GPR(1), rs2.OutputDesc(0).Reg())
	assert.NoError(t, Verify(b.ir, mgr, result))
}

func TestInitLiveRangesLoopCarried(t *testing.T) {
	b := newIRBuilder("loop_carried")
	p0 := b.add("param0", "Parameter")
	p1 := b.add("param1", "Parameter")
	scalar := b.add("scalar", "Scalar")
	l := b.add("load", "Load", p0)
	add := b.add("add", "Add", scalar, l)
	st := b.add("store", "Store", add)
	b.add("result", "Result", st)
	_ = p1

	ir := b.ir
	loops := ir.LoopManager()
	id := loops.MarkLoop(ir, ir.Index(l), ir.Index(st)+1, lir.NewUnifiedLoopInfo(64, 8,
		[]lir.LoopPort{lir.NewLoopPort(l.InputPort(0), 0)},
		[]lir.LoopPort{lir.NewLoopPort(st.OutputPort(0), 0)}))
	lir.InsertLoopMarkers(ir, id)
	ir.Enumerate()

	mgr := newManager(16, 16)
	InitLiveRanges(ir, mgr)
	end := lir.LoopEndOf(ir, id)
	interval := mgr.LiveRange(scalar.OutputDesc(0).Reg())
	assert.Equal(t, scalar.ExecNum(), interval.Start)
	assert.Equal(t, end.ExecNum(), interval.Stop, "value consumed in the loop lives until LoopEnd")

	// Values produced inside the loop are not extended.
	assert.Equal(t, LiveInterval{l.ExecNum(), add.ExecNum()}, mgr.LiveRange(l.OutputDesc(0).Reg()))
	// The work amount register lives from LoopBegin to LoopEnd.
	begin := ir.At(ir.Index(end) - 4)
	require.Equal(t, lir.RoleLoopBegin, begin.Role())
	assert.Equal(t, LiveInterval{begin.ExecNum(), end.ExecNum()}, mgr.LiveRange(begin.OutputDesc(0).Reg()))
	assert.Empty(t, mgr.LiveRegs(end))
}

func TestInitLiveRangesRequiresEnumeration(t *testing.T) {
	b := newIRBuilder("raw")
	b.add("param", "Parameter")
	assert.Panics(t, func() { InitLiveRanges(b.ir, newManager(4, 4)) })
}

func TestRegManagerContracts(t *testing.T) {
	mgr := newManager(4, 4)
	r := lir.Vec(0)
	assert.False(t, mgr.HasLiveRange(r))
	assert.Panics(t, func() { mgr.LiveRange(r) })
	mgr.SetLiveRange(r, LiveInterval{1, 3}, false)
	assert.Panics(t, func() { mgr.SetLiveRange(r, LiveInterval{1, 4}, false) })
	mgr.SetLiveRange(r, LiveInterval{1, 4}, true)
	assert.Equal(t, LiveInterval{1, 4}, mgr.LiveRange(r))
	assert.Panics(t, func() { mgr.SetLiveRange(lir.Vec(1), LiveInterval{3, 1}, false) })

	e := lir.NewExpression("e", lir.Op{Kind: "Add"})
	assert.Panics(t, func() { mgr.LiveRegs(e) })
	mgr.SetLiveRegs(e, lir.NewRegSet(r), false)
	assert.Panics(t, func() { mgr.SetLiveRegs(e, lir.NewRegSet(), false) })
	mgr.SetLiveRegs(e, lir.NewRegSet(), true)
	assert.Empty(t, mgr.LiveRegs(e))

	assert.Equal(t, 4, mgr.PoolSize(lir.RegTypeGPR))
	assert.Equal(t, 0, mgr.PoolSize(lir.RegTypeMask))
}

func TestLiveIntervalOverlaps(t *testing.T) {
	a := LiveInterval{2, 4}
	assert.True(t, a.Overlaps(LiveInterval{4, 6}), "touching at one index overlaps")
	assert.True(t, a.Overlaps(LiveInterval{0, 2}))
	assert.True(t, a.Overlaps(LiveInterval{3, 3}))
	assert.False(t, a.Overlaps(LiveInterval{5, 6}))
	assert.Equal(t, "[2, 4]", a.String())
}
