package spill

import (
	"fmt"
	"io"

	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/target"
)

const (
	stackAlignment = 16 // x86-64 System V keeps rsp 16-byte aligned at calls
	gpSlotSize     = 8
	maskSlotSize   = 8
)

// Slot is the save location of one register, relative to the stack pointer
// after the save area has been reserved.
type Slot struct {
	Reg    lir.Reg
	Offset int64
	Size   int64
}

// Layout describes a register save area.
//
//	+---------------------------+  <- rsp before RegSpillBegin
//	| padding to 16 bytes       |
//	| last register             |
//	| ...                       |
//	| first register            |  offset 0
//	+---------------------------+  <- rsp after RegSpillBegin
type Layout struct {
	Slots []Slot
	// Size is the number of bytes used by the slots.
	Size int64
	// TotalSize is Size rounded up to the stack alignment.
	TotalSize int64
}

// slotSize returns the bytes needed to save r on machine m.
func slotSize(r lir.Reg, m target.Machine) int64 {
	switch r.Type {
	case lir.RegTypeVec:
		return int64(m.VecLen())
	case lir.RegTypeMask:
		return maskSlotSize
	default:
		return gpSlotSize
	}
}

// ComputeLayout lays out the save area of regs, in register order, vector
// registers aligned to their own size.
func ComputeLayout(regs lir.RegSet, m target.Machine) *Layout {
	layout := &Layout{}
	var offset int64
	for _, r := range regs.Slice() {
		size := slotSize(r, m)
		offset = alignUp(offset, min(size, stackAlignment))
		layout.Slots = append(layout.Slots, Slot{Reg: r, Offset: offset, Size: size})
		offset += size
	}
	layout.Size = offset
	layout.TotalSize = alignUp(offset, stackAlignment)
	return layout
}

// Print writes the layout with register names from m.
func (l *Layout) Print(w io.Writer, m target.Machine) {
	fmt.Fprintf(w, "save area: %d bytes (%d used)\n", l.TotalSize, l.Size)
	for _, s := range l.Slots {
		fmt.Fprintf(w, "  [rsp+%d] %s (%d bytes)\n", s.Offset, m.RegName(s.Reg), s.Size)
	}
}

// alignUp rounds n up to the next multiple of align.
func alignUp(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) / align * align
}
