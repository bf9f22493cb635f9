package lir

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// UndefinedDimIdx marks a loop port without an associated dimension.
const UndefinedDimIdx = -1

// LoopPort is an entry or exit point of a loop together with the pointer
// arithmetic applied to it.
type LoopPort struct {
	Port ExpressionPort

	// IsIncremented is false for ports whose data pointer must not move
	// between iterations.
	IsIncremented bool
	// DimIdx is the dimension the loop iterates over, counted from the
	// innermost one.
	DimIdx int

	PtrIncrement       int64
	FinalizationOffset int64
	DataSize           int64
}

// NewLoopPort creates an incremented loop port over dimension dimIdx.
func NewLoopPort(port ExpressionPort, dimIdx int) LoopPort {
	return LoopPort{Port: port, IsIncremented: true, DimIdx: dimIdx}
}

// CloneWithNewExpr returns a copy referencing the mapped expression.
func (p LoopPort) CloneWithNewExpr(m ExpressionMap) LoopPort {
	p.Port.Expr = m.Lookup(p.Port.Expr)
	return p
}

// IterType identifies a specific-iteration variant of a loop.
type IterType int

const (
	IterFirst IterType = iota
	IterMain
	IterLast
)

func (t IterType) String() string {
	switch t {
	case IterFirst:
		return "first"
	case IterMain:
		return "main"
	case IterLast:
		return "last"
	}
	return "unknown"
}

// IterHandler is run on a freshly expanded loop of a given iteration type.
type IterHandler func(ir *LinearIR, loopID int, loop *ExpandedLoopInfo)

// SpecificIterationHandlers holds the handlers registered per iteration type.
type SpecificIterationHandlers struct {
	handlers [3][]IterHandler
}

// Register appends a handler for the given iteration type.
func (h *SpecificIterationHandlers) Register(t IterType, handler IterHandler) {
	h.handlers[t] = append(h.handlers[t], handler)
}

// Handlers returns the handlers registered for t.
func (h *SpecificIterationHandlers) Handlers(t IterType) []IterHandler {
	return h.handlers[t]
}

// Clone returns an independent copy of the registrations.
func (h *SpecificIterationHandlers) Clone() SpecificIterationHandlers {
	var c SpecificIterationHandlers
	for t := range h.handlers {
		c.handlers[t] = slices.Clone(h.handlers[t])
	}
	return c
}

// LoopInfo describes one loop of the Linear IR.
//
// The order of the entry and exit points defines where the loop markers go:
// LoopBegin right before the first entry expression and LoopEnd right after
// the last exit expression.
type LoopInfo interface {
	WorkAmount() int
	Increment() int
	EntryPoints() []LoopPort
	ExitPoints() []LoopPort

	// DimIdx returns the common dimension of the incremented ports, or
	// UndefinedDimIdx if there is none.
	DimIdx() int

	// CloneWithNewExpr returns a structural copy in which every port refers
	// to the expression m maps it to. Numeric attributes are preserved.
	CloneWithNewExpr(m ExpressionMap) LoopInfo
}

type loopBase struct {
	workAmount int
	increment  int
	entries    []LoopPort
	exits      []LoopPort
}

func (l *loopBase) WorkAmount() int          { return l.workAmount }
func (l *loopBase) Increment() int           { return l.increment }
func (l *loopBase) EntryPoints() []LoopPort  { return l.entries }
func (l *loopBase) ExitPoints() []LoopPort   { return l.exits }
func (l *loopBase) SetWorkAmount(amount int) { l.workAmount = amount }
func (l *loopBase) SetIncrement(inc int)     { l.increment = inc }

// Ports returns the entry points followed by the exit points.
func (l *loopBase) Ports() []LoopPort {
	return slices.Concat(l.entries, l.exits)
}

// NumPorts returns the number of entry and exit points.
func (l *loopBase) NumPorts() int { return len(l.entries) + len(l.exits) }

func (l *loopBase) DimIdx() int {
	dim := UndefinedDimIdx
	for _, p := range l.Ports() {
		if !p.IsIncremented {
			continue
		}
		if dim == UndefinedDimIdx {
			dim = p.DimIdx
		} else if dim != p.DimIdx {
			return UndefinedDimIdx
		}
	}
	return dim
}

func (l *loopBase) cloneBase(m ExpressionMap) loopBase {
	c := loopBase{
		workAmount: l.workAmount,
		increment:  l.increment,
		entries:    make([]LoopPort, len(l.entries)),
		exits:      make([]LoopPort, len(l.exits)),
	}
	for i, p := range l.entries {
		c.entries[i] = p.CloneWithNewExpr(m)
	}
	for i, p := range l.exits {
		c.exits[i] = p.CloneWithNewExpr(m)
	}
	return c
}

// UnifiedLoopInfo describes a loop before it is split into specific iterations.
type UnifiedLoopInfo struct {
	loopBase
	handlers SpecificIterationHandlers
}

// NewUnifiedLoopInfo creates a unified loop.
func NewUnifiedLoopInfo(workAmount, increment int, entries, exits []LoopPort) *UnifiedLoopInfo {
	if increment <= 0 {
		exceptions.Panicf("NewUnifiedLoopInfo: increment must be positive, got %d", increment)
	}
	return &UnifiedLoopInfo{loopBase: loopBase{
		workAmount: workAmount,
		increment:  increment,
		entries:    slices.Clone(entries),
		exits:      slices.Clone(exits),
	}}
}

// Handlers returns the specific-iteration handlers, which can be registered to.
func (l *UnifiedLoopInfo) Handlers() *SpecificIterationHandlers { return &l.handlers }

// IsIncremented returns the per-port increment flags.
func (l *UnifiedLoopInfo) IsIncremented() []bool {
	return portAttrs(l.Ports(), func(p LoopPort) bool { return p.IsIncremented })
}

// PtrIncrements returns the per-port pointer increments.
func (l *UnifiedLoopInfo) PtrIncrements() []int64 {
	return portAttrs(l.Ports(), func(p LoopPort) int64 { return p.PtrIncrement })
}

// FinalizationOffsets returns the per-port finalization offsets.
func (l *UnifiedLoopInfo) FinalizationOffsets() []int64 {
	return portAttrs(l.Ports(), func(p LoopPort) int64 { return p.FinalizationOffset })
}

// DataSizes returns the per-port element sizes in bytes.
func (l *UnifiedLoopInfo) DataSizes() []int64 {
	return portAttrs(l.Ports(), func(p LoopPort) int64 { return p.DataSize })
}

// UpdatePorts applies fn to every entry point, then to every exit point.
func (l *UnifiedLoopInfo) UpdatePorts(fn func(p *LoopPort)) {
	for i := range l.entries {
		fn(&l.entries[i])
	}
	for i := range l.exits {
		fn(&l.exits[i])
	}
}

// SetDimIdx sets the dimension of every port.
func (l *UnifiedLoopInfo) SetDimIdx(dimIdx int) {
	l.UpdatePorts(func(p *LoopPort) { p.DimIdx = dimIdx })
}

func (l *UnifiedLoopInfo) CloneWithNewExpr(m ExpressionMap) LoopInfo {
	return &UnifiedLoopInfo{loopBase: l.cloneBase(m), handlers: l.handlers.Clone()}
}

func portAttrs[T any](ports []LoopPort, get func(LoopPort) T) []T {
	out := make([]T, len(ports))
	for i, p := range ports {
		out[i] = get(p)
	}
	return out
}

// ExpandedLoopInfo is one specific-iteration variant of a unified loop, with
// dense per-port arrays indexed like Ports().
type ExpandedLoopInfo struct {
	loopBase
	ptrIncrements       []int64
	finalizationOffsets []int64
	dataSizes           []int64
	iterType            IterType
	unified             *UnifiedLoopInfo
}

// NewExpandedLoopInfo creates an expanded loop. The dense arrays must have one
// value per entry and exit point.
func NewExpandedLoopInfo(workAmount, increment int, entries, exits []LoopPort,
	ptrIncrements, finalizationOffsets, dataSizes []int64,
	iterType IterType, unified *UnifiedLoopInfo) *ExpandedLoopInfo {
	l := &ExpandedLoopInfo{
		loopBase: loopBase{
			workAmount: workAmount,
			increment:  increment,
			entries:    slices.Clone(entries),
			exits:      slices.Clone(exits),
		},
		ptrIncrements:       slices.Clone(ptrIncrements),
		finalizationOffsets: slices.Clone(finalizationOffsets),
		dataSizes:           slices.Clone(dataSizes),
		iterType:            iterType,
		unified:             unified,
	}
	l.validate()
	return l
}

func (l *ExpandedLoopInfo) validate() {
	n := l.NumPorts()
	if len(l.ptrIncrements) != n || len(l.finalizationOffsets) != n || len(l.dataSizes) != n {
		exceptions.Panicf("ExpandedLoopInfo(%s): dense arrays (%d ptr increments, %d finalization offsets, %d data sizes) do not match %d loop ports",
			l.iterType, len(l.ptrIncrements), len(l.finalizationOffsets), len(l.dataSizes), n)
	}
	if l.unified == nil {
		exceptions.Panicf("ExpandedLoopInfo(%s): missing unified loop", l.iterType)
	}
}

// Unified returns the loop this variant was expanded from. It is shared by
// every variant.
func (l *ExpandedLoopInfo) Unified() *UnifiedLoopInfo { return l.unified }

// IterType returns the iteration variant.
func (l *ExpandedLoopInfo) IterType() IterType { return l.iterType }

// Handlers returns the handlers of the unified loop for this variant.
func (l *ExpandedLoopInfo) Handlers() []IterHandler {
	return l.unified.handlers.Handlers(l.iterType)
}

func (l *ExpandedLoopInfo) PtrIncrements() []int64       { return l.ptrIncrements }
func (l *ExpandedLoopInfo) FinalizationOffsets() []int64 { return l.finalizationOffsets }
func (l *ExpandedLoopInfo) DataSizes() []int64           { return l.dataSizes }

func (l *ExpandedLoopInfo) CloneWithNewExpr(m ExpressionMap) LoopInfo {
	return &ExpandedLoopInfo{
		loopBase:            l.cloneBase(m),
		ptrIncrements:       slices.Clone(l.ptrIncrements),
		finalizationOffsets: slices.Clone(l.finalizationOffsets),
		dataSizes:           slices.Clone(l.dataSizes),
		iterType:            l.iterType,
		unified:             l.unified,
	}
}
