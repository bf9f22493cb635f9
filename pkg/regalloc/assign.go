package regalloc

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// AllocationResult holds the result of register assignment.
type AllocationResult struct {
	// Manual holds the registers pinned by convention (parameters, results,
	// buffer groups, accumulators).
	Manual RegMap
	// Auto holds the registers assigned by linear scan.
	Auto RegMap
}

// RegToPhys returns the complete abstract to physical map.
func (a *AllocationResult) RegToPhys() RegMap {
	return a.Manual.Merge(a.Auto)
}

// IsManual reports whether abstract register r was pinned.
func (a *AllocationResult) IsManual(r lir.Reg) bool {
	_, found := a.Manual[r]
	return found
}

// AssignRegisters maps every abstract register recorded by InitLiveRanges to
// a physical register, then rewrites the port descriptors and the live sets
// of ir to physical registers.
//
// Pinned registers are removed from the pools before linear scan runs, so it
// never hands them out. Running out of registers in a pool returns an error
// wrapping ErrNotEnoughRegisters.
func AssignRegisters(ir *lir.LinearIR, mgr *RegManager) (*AllocationResult, error) {
	for r := range mgr.LiveRanges() {
		if r.Type != lir.RegTypeGPR && r.Type != lir.RegTypeVec {
			exceptions.Panicf("AssignRegisters(%s): unsupported register bank of %s", ir.Name, r)
		}
	}
	manual := assignManually(ir)

	pinned := make(map[lir.Reg]bool, len(manual))
	for _, phys := range manual {
		pinned[phys] = true
	}
	result := &AllocationResult{Manual: manual, Auto: make(RegMap)}
	for _, bank := range []lir.RegType{lir.RegTypeGPR, lir.RegTypeVec} {
		size := mgr.PoolSize(bank)
		var pool []lir.Reg
		for i := 0; i < size; i++ {
			if r := lir.NewReg(bank, i); !pinned[r] {
				pool = append(pool, r)
			}
		}
		for phys := range pinned {
			if phys.Type == bank && phys.Idx >= size {
				return nil, errors.Wrapf(ErrNotEnoughRegisters, "%s pool of %d registers cannot hold pinned register %s",
					bank, size, phys)
			}
		}

		intervals := make(map[lir.Reg]LiveInterval)
		for r, interval := range mgr.LiveRanges() {
			if r.Type == bank && !result.IsManual(r) {
				intervals[r] = interval
			}
		}
		assigned, err := NewLinearScan(bank, pool).Allocate(intervals)
		if err != nil {
			return nil, errors.WithMessagef(err, "AssignRegisters(%s)", ir.Name)
		}
		for r, phys := range assigned {
			result.Auto[r] = phys
		}
		klog.V(1).Infof("AssignRegisters(%s): %s pool %d/%d free after pinning, %d registers by linear scan",
			ir.Name, bank, len(pool), size, len(assigned))
	}

	regToPhys := result.RegToPhys()
	if err := regToPhys.Apply(ir); err != nil {
		exceptions.Panicf("AssignRegisters(%s): %v", ir.Name, err)
	}
	for _, e := range ir.Expressions() {
		live, err := regToPhys.Translate(mgr.LiveRegs(e))
		if err != nil {
			exceptions.Panicf("AssignRegisters(%s): live regs of %s: %v", ir.Name, e, err)
		}
		mgr.SetLiveRegs(e, live, true)
	}
	return result, nil
}
