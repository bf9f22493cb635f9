package lir

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs a Linear IR in a readable format.
type Printer struct {
	w io.Writer

	// RegName renders a register. Defaults to Reg.String.
	RegName func(Reg) string
}

// NewPrinter creates a new Linear IR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, RegName: Reg.String}
}

// PrintIR prints the expressions in execution order.
func (p *Printer) PrintIR(ir *LinearIR) {
	fmt.Fprintf(p.w, "%s() {\n", ir.Name)
	if n := ir.loops.Len(); n > 0 {
		fmt.Fprintf(p.w, "  ; loops = %d\n", n)
	}
	depth := 0
	for _, e := range ir.exprs {
		if e.role == RoleLoopEnd {
			depth--
		}
		p.printExpression(e, depth)
		if e.role == RoleLoopBegin {
			depth++
		}
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printExpression(e *Expression, depth int) {
	fmt.Fprintf(p.w, "  %3d: %s", e.execNum, strings.Repeat("  ", max(depth, 0)))
	if len(e.outDescs) > 0 {
		outs := make([]string, len(e.outDescs))
		for i, d := range e.outDescs {
			outs[i] = p.RegName(d.reg)
		}
		fmt.Fprintf(p.w, "%s = ", strings.Join(outs, ", "))
	}
	fmt.Fprintf(p.w, "%s", e.kind)
	if e.role.IsLoopMarker() {
		fmt.Fprintf(p.w, "#%d", e.loopID)
	}
	ins := make([]string, len(e.inDescs))
	for i, d := range e.inDescs {
		ins[i] = p.RegName(d.reg)
	}
	fmt.Fprintf(p.w, " %s(%s)", e.name, strings.Join(ins, ", "))
	if e.role == RoleBuffer {
		fmt.Fprintf(p.w, " group=%d", e.regGroup)
	}
	if e.regs != nil {
		names := make([]string, 0, len(e.regs))
		for _, r := range e.regs.Slice() {
			names = append(names, p.RegName(r))
		}
		fmt.Fprintf(p.w, " regs={%s}", strings.Join(names, ", "))
	}
	fmt.Fprintln(p.w)
}

// PrintLoops prints the loop infos of the program.
func (p *Printer) PrintLoops(ir *LinearIR) {
	for _, id := range ir.loops.IDs() {
		p.PrintLoop(id, ir.loops.Loop(id))
	}
}

// PrintLoop prints one loop info.
func (p *Printer) PrintLoop(id int, info LoopInfo) {
	kind := "unified"
	var ptrIncs, finOffs, sizes []int64
	switch l := info.(type) {
	case *UnifiedLoopInfo:
		ptrIncs, finOffs, sizes = l.PtrIncrements(), l.FinalizationOffsets(), l.DataSizes()
	case *ExpandedLoopInfo:
		kind = "expanded/" + l.iterType.String()
		ptrIncs, finOffs, sizes = l.ptrIncrements, l.finalizationOffsets, l.dataSizes
	}
	fmt.Fprintf(p.w, "loop %d (%s): work_amount=%d increment=%d dim=%d\n",
		id, kind, info.WorkAmount(), info.Increment(), info.DimIdx())
	i := 0
	printPorts := func(label string, ports []LoopPort) {
		for _, port := range ports {
			fmt.Fprintf(p.w, "  %s %s.%s%d incremented=%t ptr_increment=%d finalization_offset=%d data_size=%d\n",
				label, port.Port.Expr.name, port.Port.Type, port.Port.Index, port.IsIncremented,
				ptrIncs[i], finOffs[i], sizes[i])
			i++
		}
	}
	printPorts("entry", info.EntryPoints())
	printPorts("exit", info.ExitPoints())
}
