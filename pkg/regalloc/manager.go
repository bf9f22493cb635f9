// Package regalloc computes live ranges over a Linear IR and assigns physical
// registers to them: manual pinning for ABI-fixed values, then linear scan over
// each register bank.
package regalloc

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/exceptions"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// Backend is the code generator view the register allocator depends on.
type Backend interface {
	GPRegCount() int
	VecRegCount() int
	// OutRegType returns the bank of output idx of e.
	OutRegType(e *lir.Expression, idx int) lir.RegType
}

// LiveInterval is the span of execution indices [Start, Stop] during which a
// register holds a meaningful value.
type LiveInterval struct {
	Start, Stop int
}

// Overlaps reports whether both intervals share at least one index. Touching at
// a single index counts as overlapping.
func (i LiveInterval) Overlaps(other LiveInterval) bool {
	return i.Start <= other.Stop && other.Start <= i.Stop
}

// Contains reports whether idx is within the interval.
func (i LiveInterval) Contains(idx int) bool {
	return i.Start <= idx && idx <= i.Stop
}

// Compare orders intervals by start, then by stop.
func (i LiveInterval) Compare(other LiveInterval) int {
	if c := cmp.Compare(i.Start, other.Start); c != 0 {
		return c
	}
	return cmp.Compare(i.Stop, other.Stop)
}

func (i LiveInterval) String() string {
	return fmt.Sprintf("[%d, %d]", i.Start, i.Stop)
}

// RegManager is shared by InitLiveRanges and AssignRegisters while one Linear
// IR is compiled. It owns the live range of every register and the set of
// registers live at every expression.
type RegManager struct {
	backend    Backend
	liveRanges map[lir.Reg]LiveInterval
	liveRegs   map[*lir.Expression]lir.RegSet
}

// NewRegManager creates a manager querying backend for banks and pool sizes.
func NewRegManager(backend Backend) *RegManager {
	return &RegManager{
		backend:    backend,
		liveRanges: make(map[lir.Reg]LiveInterval),
		liveRegs:   make(map[*lir.Expression]lir.RegSet),
	}
}

// RegType returns the bank output idx of e lives in.
func (m *RegManager) RegType(e *lir.Expression, idx int) lir.RegType {
	return m.backend.OutRegType(e, idx)
}

// GPRegCount returns the size of the GP register pool
func (m *RegManager) GPRegCount() int { return m.backend.GPRegCount() }

// VecRegCount returns the size of the vector register pool
func (m *RegManager) VecRegCount() int { return m.backend.VecRegCount() }

// PoolSize returns the number of physical registers of bank t.
func (m *RegManager) PoolSize(t lir.RegType) int {
	switch t {
	case lir.RegTypeGPR:
		return m.GPRegCount()
	case lir.RegTypeVec:
		return m.VecRegCount()
	}
	return 0
}

// SetLiveRange records the live interval of r. Setting it twice is only
// allowed with force.
func (m *RegManager) SetLiveRange(r lir.Reg, interval LiveInterval, force bool) {
	if _, found := m.liveRanges[r]; found && !force {
		exceptions.Panicf("RegManager.SetLiveRange(%s): live range already set", r)
	}
	if interval.Start > interval.Stop {
		exceptions.Panicf("RegManager.SetLiveRange(%s): invalid interval %s", r, interval)
	}
	m.liveRanges[r] = interval
}

// LiveRange returns the live interval of r, which must have been set.
func (m *RegManager) LiveRange(r lir.Reg) LiveInterval {
	interval, found := m.liveRanges[r]
	if !found {
		exceptions.Panicf("RegManager.LiveRange(%s): live range was not set", r)
	}
	return interval
}

// HasLiveRange reports whether a live interval was recorded for r
func (m *RegManager) HasLiveRange(r lir.Reg) bool {
	_, found := m.liveRanges[r]
	return found
}

// LiveRanges returns the live-range map. It must not be modified
func (m *RegManager) LiveRanges() map[lir.Reg]LiveInterval { return m.liveRanges }

// Regs returns the registers with a live range, sorted
func (m *RegManager) Regs() []lir.Reg {
	return slices.SortedFunc(maps.Keys(m.liveRanges), lir.Reg.Compare)
}

// SetLiveRegs records the registers live at e. Setting them twice is only
// allowed with force.
func (m *RegManager) SetLiveRegs(e *lir.Expression, regs lir.RegSet, force bool) {
	if _, found := m.liveRegs[e]; found && !force {
		exceptions.Panicf("RegManager.SetLiveRegs(%s): live regs already set", e)
	}
	m.liveRegs[e] = regs
}

// LiveRegs returns the registers live at e, which must have been set.
func (m *RegManager) LiveRegs(e *lir.Expression) lir.RegSet {
	regs, found := m.liveRegs[e]
	if !found {
		exceptions.Panicf("RegManager.LiveRegs(%s): live regs were not set", e)
	}
	return regs
}

// HasLiveRegs reports whether the live set of e was recorded
func (m *RegManager) HasLiveRegs(e *lir.Expression) bool {
	_, found := m.liveRegs[e]
	return found
}
