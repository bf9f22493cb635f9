package lir

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
)

// InsertLoopMarkers inserts the LoopBegin and LoopEnd expressions of loop id.
//
// LoopBegin goes right before the first entry expression and LoopEnd right
// after the last exit expression. Markers of loops nested inside are kept
// inside. LoopBegin produces the work-amount register, LoopEnd consumes the
// data pointer of every loop port and then the LoopBegin output.
func InsertLoopMarkers(ir *LinearIR, id int) (begin, end *Expression) {
	info := ir.loops.Loop(id)
	if len(info.EntryPoints()) == 0 || len(info.ExitPoints()) == 0 {
		exceptions.Panicf("InsertLoopMarkers(%d): loop needs entry and exit points", id)
	}
	first := -1
	for _, p := range info.EntryPoints() {
		idx := ir.Index(p.Port.Expr)
		if idx < 0 {
			exceptions.Panicf("InsertLoopMarkers(%d): entry expression %s is not in the program", id, p.Port.Expr)
		}
		if first < 0 || idx < first {
			first = idx
		}
	}
	last := -1
	for _, p := range info.ExitPoints() {
		idx := ir.Index(p.Port.Expr)
		if idx < 0 {
			exceptions.Panicf("InsertLoopMarkers(%d): exit expression %s is not in the program", id, p.Port.Expr)
		}
		last = max(last, idx)
	}
	if last < first {
		exceptions.Panicf("InsertLoopMarkers(%d): last exit expression precedes the first entry expression", id)
	}
	for first > 0 && isNestedMarker(ir.exprs[first-1], RoleLoopBegin, id) {
		first--
	}
	for last+1 < ir.Len() && isNestedMarker(ir.exprs[last+1], RoleLoopEnd, id) {
		last++
	}

	outer := outerLoopIDs(ir.exprs[first].loopIDs, id)
	begin = NewExpression(ir.UniqueName(fmt.Sprintf("loop_begin_%d", id)),
		Op{Kind: "LoopBegin", Role: RoleLoopBegin, NumOutputs: 1, LoopID: id})
	begin.loopIDs = outer

	var inputs []*PortConnector
	for _, p := range info.EntryPoints() {
		inputs = append(inputs, p.Port.Connector())
	}
	for _, p := range info.ExitPoints() {
		inputs = append(inputs, p.Port.Connector())
	}
	inputs = append(inputs, begin.Output(0))
	end = NewExpression(ir.UniqueName(fmt.Sprintf("loop_end_%d", id)),
		Op{Kind: "LoopEnd", Role: RoleLoopEnd, LoopID: id}, inputs...)
	end.loopIDs = slices.Clone(outer)

	ir.InsertAt(last+1, end)
	ir.InsertAt(first, begin)
	return begin, end
}

func isNestedMarker(e *Expression, role Role, id int) bool {
	return e.role == role && e.loopID != id && slices.Contains(e.loopIDs, id)
}

// outerLoopIDs returns the prefix of ids enclosing loop id.
func outerLoopIDs(ids []int, id int) []int {
	pos := slices.Index(ids, id)
	if pos < 0 {
		return slices.Clone(ids)
	}
	return slices.Clone(ids[:pos])
}

// LoopBounds returns the positions of the LoopBegin and LoopEnd markers of
// loop id.
func LoopBounds(ir *LinearIR, id int) (begin, end int) {
	begin, end = -1, -1
	for i, e := range ir.exprs {
		if e.loopID != id {
			continue
		}
		switch e.role {
		case RoleLoopBegin:
			begin = i
		case RoleLoopEnd:
			end = i
		}
	}
	if begin < 0 || end < 0 || end < begin {
		exceptions.Panicf("LoopBounds(%d): loop markers not found", id)
	}
	return begin, end
}

// LoopEndOf returns the LoopEnd marker of loop id.
func LoopEndOf(ir *LinearIR, id int) *Expression {
	_, end := LoopBounds(ir, id)
	return ir.exprs[end]
}
