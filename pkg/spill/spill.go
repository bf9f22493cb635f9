// Package spill saves the live registers of a kernel around calls that leave
// it, and computes the save areas the code generator reserves on the stack.
package spill

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/regalloc"
)

// Pair is one RegSpillBegin/RegSpillEnd bracket around an external call.
type Pair struct {
	Begin, Call, End *lir.Expression
}

// InsertRegSpills brackets every external call of ir with a RegSpillBegin and
// a RegSpillEnd expression carrying the registers live at the call. It must
// run after AssignRegisters, so the live sets hold physical registers.
//
// The IR is enumerated again once the markers are inserted; live ranges in mgr
// move with it and both markers get the live set of their call.
func InsertRegSpills(ir *lir.LinearIR, mgr *regalloc.RegManager) []Pair {
	before := slices.Clone(ir.Expressions())
	var pairs []Pair
	for i := 0; i < ir.Len(); i++ {
		call := ir.At(i)
		if call.Role() != lir.RoleExternalCall {
			continue
		}
		if !mgr.HasLiveRegs(call) {
			exceptions.Panicf("InsertRegSpills(%s): no live registers recorded for %s, run InitLiveRanges first", ir.Name, call.Name())
		}
		live := mgr.LiveRegs(call).Copy()
		n := len(pairs)
		begin := lir.NewExpression(ir.UniqueName(fmt.Sprintf("reg_spill_begin_%d", n)),
			lir.Op{Kind: "RegSpillBegin", Regs: live})
		end := lir.NewExpression(ir.UniqueName(fmt.Sprintf("reg_spill_end_%d", n)),
			lir.Op{Kind: "RegSpillEnd", Regs: live})
		begin.SetLoopIDs(call.LoopIDs())
		end.SetLoopIDs(call.LoopIDs())
		ir.InsertAt(i+1, end)
		ir.InsertAt(i, begin)
		mgr.SetLiveRegs(begin, live.Copy(), false)
		mgr.SetLiveRegs(end, live.Copy(), false)
		klog.V(2).Infof("InsertRegSpills(%s): %s spills %s", ir.Name, call.Name(), live)
		pairs = append(pairs, Pair{Begin: begin, Call: call, End: end})
		i += 2
	}
	ir.Enumerate()
	if len(pairs) > 0 {
		shiftLiveRanges(mgr, before)
	}
	klog.V(1).Infof("InsertRegSpills(%s): %d external calls bracketed", ir.Name, len(pairs))
	return pairs
}

// shiftLiveRanges renumbers the live ranges of mgr after markers were
// inserted. before holds the expressions in their previous order.
func shiftLiveRanges(mgr *regalloc.RegManager, before []*lir.Expression) {
	moved := func(idx int) int { return before[idx].ExecNum() }
	for _, r := range mgr.Regs() {
		interval := mgr.LiveRange(r)
		mgr.SetLiveRange(r, regalloc.LiveInterval{Start: moved(interval.Start), Stop: moved(interval.Stop)}, true)
	}
}
