package iterations

import (
	"cmp"
	"slices"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// Variant is one specific iteration of a unified loop.
type Variant struct {
	Type       lir.IterType
	WorkAmount int
	Increment  int
}

// Variants returns the specific iterations a loop of workAmount and increment
// splits into, in execution order:
//   - the first iteration, if hasFirst and workAmount >= increment;
//   - the main body, covering the largest multiple of increment left;
//   - the tail, covering the remainder with an increment equal to it.
//
// A loop with no work keeps a single main body.
func Variants(workAmount, increment int, hasFirst bool) []Variant {
	if increment <= 0 {
		exceptions.Panicf("Variants: increment must be positive, got %d", increment)
	}
	var variants []Variant
	rem := workAmount
	if hasFirst && rem >= increment {
		variants = append(variants, Variant{Type: lir.IterFirst, WorkAmount: increment, Increment: increment})
		rem -= increment
	}
	if rem >= increment {
		body := rem / increment * increment
		variants = append(variants, Variant{Type: lir.IterMain, WorkAmount: body, Increment: increment})
		rem -= body
	}
	if rem > 0 {
		variants = append(variants, Variant{Type: lir.IterLast, WorkAmount: rem, Increment: rem})
	}
	if len(variants) == 0 {
		variants = append(variants, Variant{Type: lir.IterMain, WorkAmount: 0, Increment: increment})
	}
	return variants
}

// InsertSpecificIterations replaces every unified loop by its expanded
// variants, innermost loops first. The original body becomes the last
// variant; every other variant is a clone of the body (nested loops included)
// inserted before it. Only the last variant resets the data pointers, so it
// alone carries the finalization offsets of the unified loop.
//
// Loop markers must have been inserted.
func InsertSpecificIterations(ir *lir.LinearIR) {
	loops := ir.LoopManager()
	var pending []int
	depth := make(map[int]int)
	for _, id := range loops.IDs() {
		if _, ok := loops.Loop(id).(*lir.UnifiedLoopInfo); ok {
			pending = append(pending, id)
			depth[id] = loops.Depth(ir, id)
		}
	}
	slices.SortStableFunc(pending, func(a, b int) int { return cmp.Compare(depth[b], depth[a]) })
	for _, id := range pending {
		expand(ir, id)
	}
}

func expand(ir *lir.LinearIR, id int) {
	loops := ir.LoopManager()
	unified := loops.Unified(id)
	handlers := unified.Handlers()
	variants := Variants(unified.WorkAmount(), unified.Increment(), len(handlers.Handlers(lir.IterFirst)) > 0)

	ptrIncrements := unified.PtrIncrements()
	finalizationOffsets := unified.FinalizationOffsets()
	dataSizes := unified.DataSizes()
	noOffsets := make([]int64, len(finalizationOffsets))

	insertPos, _ := lir.LoopBounds(ir, id)
	for i, v := range variants {
		if i == len(variants)-1 {
			expanded := lir.NewExpandedLoopInfo(v.WorkAmount, v.Increment, unified.EntryPoints(), unified.ExitPoints(),
				ptrIncrements, finalizationOffsets, dataSizes, v.Type, unified)
			loops.Replace(id, expanded)
			runHandlers(ir, id, expanded)
			klog.V(1).Infof("InsertSpecificIterations(%s): loop %d %s work_amount=%d increment=%d",
				ir.Name, id, v.Type, v.WorkAmount, v.Increment)
			break
		}

		begin, end := lir.LoopBounds(ir, id)
		clones, mapping := ir.CloneRange(begin, end+1)
		ports := unified.CloneWithNewExpr(mapping)
		expanded := lir.NewExpandedLoopInfo(v.WorkAmount, v.Increment, ports.EntryPoints(), ports.ExitPoints(),
			ptrIncrements, noOffsets, dataSizes, v.Type, unified)
		newID := loops.Add(expanded)
		renumber := map[int]int{id: newID}
		for _, c := range clones {
			if c.Role() == lir.RoleLoopBegin && c.LoopID() != id {
				inner := c.LoopID()
				renumber[inner] = loops.Add(loops.Loop(inner).CloneWithNewExpr(mapping))
			}
		}
		for _, c := range clones {
			if c.Role().IsLoopMarker() {
				c.SetLoopID(renumber[c.LoopID()])
			}
			ids := slices.Clone(c.LoopIDs())
			for j, lid := range ids {
				if n, found := renumber[lid]; found {
					ids[j] = n
				}
			}
			c.SetLoopIDs(ids)
		}
		ir.InsertAt(insertPos, clones...)
		insertPos += len(clones)
		runHandlers(ir, newID, expanded)
		klog.V(1).Infof("InsertSpecificIterations(%s): loop %d -> %d %s work_amount=%d increment=%d",
			ir.Name, id, newID, v.Type, v.WorkAmount, v.Increment)
	}
}

func runHandlers(ir *lir.LinearIR, id int, loop *lir.ExpandedLoopInfo) {
	for _, h := range loop.Handlers() {
		h(ir, id, loop)
	}
}
