// Package iterations initialises the pointer arithmetic of loops and splits
// unified loops into their specific iterations (first, main body, tail).
package iterations

import (
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// InitLoops fills the pointer arithmetic of every port of every unified loop:
//   - DataSize is the element size of the value behind the port;
//   - PtrIncrement is the stride, in elements, of the loop dimension in the
//     port shape, or 0 if the port is not incremented or is broadcast along
//     the dimension;
//   - FinalizationOffset moves the pointer back by the whole work amount.
func InitLoops(ir *lir.LinearIR) {
	loops := ir.LoopManager()
	for _, id := range loops.IDs() {
		unified, ok := loops.Loop(id).(*lir.UnifiedLoopInfo)
		if !ok {
			continue
		}
		workAmount := unified.WorkAmount()
		unified.UpdatePorts(func(p *lir.LoopPort) {
			p.DataSize = int64(p.Port.Connector().Source().Expr.DType().Memory())
			p.PtrIncrement = 0
			if p.IsIncremented {
				p.PtrIncrement = stride(p.Port.Descriptor().Shape(), p.DimIdx, workAmount)
			}
			p.FinalizationOffset = -p.PtrIncrement * int64(workAmount)
		})
		klog.V(1).Infof("InitLoops(%s): loop %d work_amount=%d increment=%d ptr_increments=%v",
			ir.Name, id, workAmount, unified.Increment(), unified.PtrIncrements())
	}
}

// stride returns the distance in elements between two consecutive indices of
// dimension dimIdx (counted from the innermost one) of shape.
func stride(shape []int, dimIdx int, workAmount int) int64 {
	if dimIdx == lir.UndefinedDimIdx || dimIdx < 0 || dimIdx >= len(shape) {
		return 0
	}
	axis := len(shape) - 1 - dimIdx
	if shape[axis] == 1 && workAmount > 1 {
		// Broadcast: every iteration reads the same element.
		return 0
	}
	s := int64(1)
	for _, dim := range shape[axis+1:] {
		s *= int64(dim)
	}
	return s
}
