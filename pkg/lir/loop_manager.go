package lir

import (
	"maps"
	"slices"

	"github.com/gomlx/exceptions"
)

// LoopManager owns the LoopInfo of every loop of a Linear IR, keyed by loop id.
type LoopManager struct {
	loops  map[int]LoopInfo
	nextID int
}

// NewLoopManager creates an empty registry.
func NewLoopManager() *LoopManager {
	return &LoopManager{loops: make(map[int]LoopInfo)}
}

// Add registers a loop and returns its id.
func (m *LoopManager) Add(info LoopInfo) int {
	id := m.nextID
	m.nextID++
	m.loops[id] = info
	return id
}

// Replace swaps the LoopInfo of an existing loop.
func (m *LoopManager) Replace(id int, info LoopInfo) {
	if _, found := m.loops[id]; !found {
		exceptions.Panicf("LoopManager.Replace(%d): unknown loop", id)
	}
	m.loops[id] = info
}

// Loop returns the LoopInfo of loop id.
func (m *LoopManager) Loop(id int) LoopInfo {
	info, found := m.loops[id]
	if !found {
		exceptions.Panicf("LoopManager.Loop(%d): unknown loop", id)
	}
	return info
}

// Unified returns loop id, which must not have been expanded yet.
func (m *LoopManager) Unified(id int) *UnifiedLoopInfo {
	info, ok := m.Loop(id).(*UnifiedLoopInfo)
	if !ok {
		exceptions.Panicf("LoopManager.Unified(%d): loop is %T", id, m.loops[id])
	}
	return info
}

// Expanded returns loop id, which must have been expanded.
func (m *LoopManager) Expanded(id int) *ExpandedLoopInfo {
	info, ok := m.Loop(id).(*ExpandedLoopInfo)
	if !ok {
		exceptions.Panicf("LoopManager.Expanded(%d): loop is %T", id, m.loops[id])
	}
	return info
}

// IDs returns the registered loop ids in ascending order.
func (m *LoopManager) IDs() []int {
	return slices.Sorted(maps.Keys(m.loops))
}

// Len returns the number of registered loops.
func (m *LoopManager) Len() int { return len(m.loops) }

// MarkLoop registers info as a new loop enclosing the expressions at
// [begin, end) and returns its id. Enclosing loops must be marked before the
// loops nested in them.
func (m *LoopManager) MarkLoop(ir *LinearIR, begin, end int, info LoopInfo) int {
	if begin < 0 || end > ir.Len() || begin >= end {
		exceptions.Panicf("LoopManager.MarkLoop: invalid range [%d, %d) for %d expressions", begin, end, ir.Len())
	}
	id := m.Add(info)
	for _, e := range ir.exprs[begin:end] {
		e.loopIDs = append(e.loopIDs, id)
	}
	return id
}

// OuterLoops returns the ids of the loops enclosing loop id, outermost first.
func (m *LoopManager) OuterLoops(ir *LinearIR, id int) []int {
	begin, _ := LoopBounds(ir, id)
	return ir.exprs[begin].loopIDs
}

// Depth returns the nesting depth of loop id (0 for outermost loops).
func (m *LoopManager) Depth(ir *LinearIR, id int) int {
	return len(m.OuterLoops(ir, id))
}
