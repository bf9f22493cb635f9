package target

import (
	"github.com/raymyers/ralph-jit/pkg/lir"
)

// Generator answers the code generator queries of the register allocator.
type Generator struct {
	Machine
}

// NewGenerator creates a generator for m.
func NewGenerator(m Machine) *Generator {
	return &Generator{Machine: m}
}

// OutRegType returns the register bank output idx of e lives in: data
// pointers and loop counters go to GP registers, loaded and computed values to
// vector registers.
func (g *Generator) OutRegType(e *lir.Expression, idx int) lir.RegType {
	switch e.Role() {
	case lir.RoleParameter, lir.RoleResult, lir.RoleBuffer, lir.RoleShapeInfer,
		lir.RoleLoopBegin, lir.RoleLoopEnd, lir.RoleStore, lir.RoleExternalCall,
		lir.RoleRegSpillBegin, lir.RoleRegSpillEnd:
		return lir.RegTypeGPR
	case lir.RoleLoad, lir.RoleBroadcastLoad, lir.RoleScalar, lir.RoleFill, lir.RoleVectorBuffer,
		lir.RoleHorizonMax, lir.RoleHorizonSum, lir.RoleOp:
		return lir.RegTypeVec
	}
	return lir.RegTypeUndefined
}
