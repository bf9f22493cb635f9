package regalloc

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// manualPinner collects the registers fixed by the runtime conventions.
type manualPinner struct {
	ir   *lir.LinearIR
	pins RegMap
}

// assignManually pins the registers that must not go through linear scan:
//   - parameters and results, with their shape-infer chains, get one data
//     pointer GP register each, in order;
//   - buffers of the same register group share one GP register, placed after
//     the parameters and results;
//   - a horizontal reduction shares one vector register with its input and
//     with the Fill/VectorBuffer seeding it, so they act as an accumulator.
func assignManually(ir *lir.LinearIR) RegMap {
	p := &manualPinner{ir: ir, pins: make(RegMap)}
	params, results := ir.Parameters(), ir.Results()
	ioIdx := 0
	for _, param := range params {
		p.pin(param.Output(0), lir.GPR(ioIdx))
		for _, si := range lir.ShapeInferConsumers(param) {
			p.pin(si.Output(0), lir.GPR(ioIdx))
		}
		ioIdx++
	}
	for _, result := range results {
		p.pin(result.Input(0), lir.GPR(ioIdx))
		for _, si := range lir.ShapeInferProducers(result) {
			p.pin(si.Input(0), lir.GPR(ioIdx))
		}
		ioIdx++
	}

	bufferOffset := len(params) + len(results)
	accumulator := 0
	for _, e := range ir.Expressions() {
		switch {
		case e.Role() == lir.RoleBuffer:
			r := lir.GPR(bufferOffset + e.RegGroup())
			for _, in := range e.Inputs() {
				p.pin(in, r)
			}
			for _, si := range lir.ShapeInferConsumers(e) {
				p.pin(si.Input(0), r)
				p.pin(si.Output(0), r)
			}
			p.pin(e.Output(0), r)

		case e.Role().IsHorizonReduce():
			r := lir.Vec(accumulator)
			input := e.Input(0)
			for _, t := range input.Source().Expr.Inputs() {
				fill := t.Source().Expr
				if fill.Role() != lir.RoleFill || fill.NumInputs() == 0 {
					continue
				}
				if fill.Input(0).Source().Expr.Role() == lir.RoleVectorBuffer {
					p.pin(t, r)
					p.pin(fill.Input(0), r)
				}
			}
			p.pin(input, r)
			accumulator++
		}
	}
	klog.V(1).Infof("AssignRegisters(%s): %d manually pinned registers, %d accumulators",
		ir.Name, len(p.pins), accumulator)
	return p.pins
}

func (p *manualPinner) pin(c *lir.PortConnector, phys lir.Reg) {
	abstract := c.Source().Descriptor().AbstractReg()
	if !abstract.IsDefined() {
		exceptions.Panicf("AssignRegisters(%s): %s has no abstract register, InitLiveRanges must run first",
			p.ir.Name, c.Source().Expr)
	}
	if abstract.Type != phys.Type {
		exceptions.Panicf("AssignRegisters(%s): cannot pin %s of %s to %s",
			p.ir.Name, abstract, c.Source().Expr, phys)
	}
	if prev, found := p.pins[abstract]; found && prev != phys {
		exceptions.Panicf("AssignRegisters(%s): %s of %s pinned to both %s and %s",
			p.ir.Name, abstract, c.Source().Expr, prev, phys)
	}
	p.pins[abstract] = phys
}
