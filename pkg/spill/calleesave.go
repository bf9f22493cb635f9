package spill

import (
	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/target"
)

// FindUsedRegs returns every register held by a port descriptor of ir. Spill
// markers are skipped: they only save and restore.
func FindUsedRegs(ir *lir.LinearIR) lir.RegSet {
	used := lir.NewRegSet()
	for _, e := range ir.Expressions() {
		for _, d := range e.InputDescs() {
			if d.Reg().IsDefined() {
				used.Add(d.Reg())
			}
		}
		for _, d := range e.OutputDescs() {
			if d.Reg().IsDefined() {
				used.Add(d.Reg())
			}
		}
	}
	return used
}

// KernelCalleeSaved returns the callee-saved registers of m the kernel writes,
// sorted. The kernel prologue saves them and its epilogue restores them.
func KernelCalleeSaved(ir *lir.LinearIR, m target.Machine) []lir.Reg {
	var result []lir.Reg
	for _, r := range FindUsedRegs(ir).Slice() {
		if m.IsCalleeSaved(r) {
			result = append(result, r)
		}
	}
	return result
}
