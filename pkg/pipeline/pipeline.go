// Package pipeline runs the kernel compilation passes over a Linear IR: loop
// initialization and decomposition, live ranges, register assignment and
// register spills.
package pipeline

import (
	"cmp"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/iterations"
	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/regalloc"
	"github.com/raymyers/ralph-jit/pkg/spill"
	"github.com/raymyers/ralph-jit/pkg/target"
)

// Options select the optional passes.
type Options struct {
	// SkipSpecificIterations keeps the loops unified instead of splitting
	// them into first, main and tail iterations.
	SkipSpecificIterations bool
	// DisableRegSpills skips the RegSpillBegin/RegSpillEnd insertion around
	// external calls.
	DisableRegSpills bool
}

// Result is a compiled kernel.
type Result struct {
	IR         *lir.LinearIR
	Machine    target.Machine
	Manager    *regalloc.RegManager
	Allocation *regalloc.AllocationResult
	// Spills lists the spill brackets inserted around external calls.
	Spills []spill.Pair
	// CalleeSaved lists the callee-saved registers the kernel prologue saves.
	CalleeSaved []lir.Reg
}

// Compile runs the passes over ir for machine m. The IR is modified in place.
//
// Running out of registers returns an error wrapping
// regalloc.ErrNotEnoughRegisters: callers are expected to give up fusing the
// subgraph. Contract violations found by the passes are returned as errors
// too.
func Compile(ir *lir.LinearIR, m target.Machine, opts Options) (*Result, error) {
	var (
		result *Result
		err    error
	)
	if exception := exceptions.TryCatch[error](func() { result, err = compile(ir, m, opts) }); exception != nil {
		return nil, errors.WithMessagef(exception, "compiling %s for %s", ir.Name, m.Name())
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling %s for %s", ir.Name, m.Name())
	}
	return result, nil
}

func compile(ir *lir.LinearIR, m target.Machine, opts Options) (*Result, error) {
	iterations.InitLoops(ir)
	InsertLoopMarkers(ir)
	if !opts.SkipSpecificIterations {
		iterations.InsertSpecificIterations(ir)
	}
	ir.Enumerate()

	mgr := regalloc.NewRegManager(target.NewGenerator(m))
	regalloc.InitLiveRanges(ir, mgr)
	allocation, err := regalloc.AssignRegisters(ir, mgr)
	if err != nil {
		return nil, err
	}
	if err := regalloc.Verify(ir, mgr, allocation); err != nil {
		return nil, errors.WithMessage(err, "register assignment check failed")
	}

	result := &Result{IR: ir, Machine: m, Manager: mgr, Allocation: allocation}
	if !opts.DisableRegSpills {
		result.Spills = spill.InsertRegSpills(ir, mgr)
	}
	result.CalleeSaved = spill.KernelCalleeSaved(ir, m)
	klog.V(1).Infof("Compile(%s): %d expressions, %d loops, %d registers, %d spill brackets, callee-saved %v",
		ir.Name, ir.Len(), ir.LoopManager().Len(), len(allocation.RegToPhys()), len(result.Spills), result.CalleeSaved)
	return result, nil
}

// InsertLoopMarkers inserts the LoopBegin/LoopEnd pairs of every loop of ir,
// innermost loops first so outer markers enclose them.
func InsertLoopMarkers(ir *lir.LinearIR) {
	depth := make(map[int]int)
	for _, e := range ir.Expressions() {
		for d, id := range e.LoopIDs() {
			depth[id] = max(depth[id], d)
		}
	}
	ids := ir.LoopManager().IDs()
	slices.SortStableFunc(ids, func(a, b int) int { return cmp.Compare(depth[b], depth[a]) })
	for _, id := range ids {
		lir.InsertLoopMarkers(ir, id)
	}
}
