package regalloc

import (
	"slices"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// regCounter hands out abstract register indices, independently per bank.
type regCounter map[lir.RegType]int

func (c regCounter) next(t lir.RegType) lir.Reg {
	r := lir.NewReg(t, c[t])
	c[t]++
	return r
}

// expiryQueue maps an expiration index to the registers expiring there.
type expiryQueue map[int]lir.RegSet

func (q expiryQueue) push(stop int, r lir.Reg) {
	if q[stop] == nil {
		q[stop] = lir.NewRegSet()
	}
	q[stop].Add(r)
}

// evictBefore drops the registers expiring strictly before idx. Registers
// expiring at idx stay: they may be inputs of the expression at idx.
func (q expiryQueue) evictBefore(idx int) {
	for stop := range q {
		if stop < idx {
			delete(q, stop)
		}
	}
}

func (q expiryQueue) live() lir.RegSet {
	live := lir.NewRegSet()
	for _, regs := range q {
		for r := range regs {
			live.Add(r)
		}
	}
	return live
}

// liveRangeBuilder holds the state of one InitLiveRanges run.
type liveRangeBuilder struct {
	ir       *lir.LinearIR
	mgr      *RegManager
	counter  regCounter
	expiring expiryQueue
	loopEnds map[int]int // loop id -> exec index of its LoopEnd
}

// InitLiveRanges assigns an abstract register to every output of every
// expression, propagates it to the consumers and records its live interval in
// mgr, along with the set of registers live at each expression.
//
// Parameters and results, with the shape-infer chains attached to them, get
// one GP register each, live over the whole program. A value consumed inside
// a loop that does not contain its producer stays live until the LoopEnd of
// the outermost such loop, since the body runs again.
//
// The Linear IR must be enumerated.
func InitLiveRanges(ir *lir.LinearIR, mgr *RegManager) {
	b := &liveRangeBuilder{
		ir:       ir,
		mgr:      mgr,
		counter:  make(regCounter),
		expiring: make(expiryQueue),
		loopEnds: make(map[int]int),
	}
	for i, e := range ir.Expressions() {
		if e.ExecNum() != i {
			exceptions.Panicf("InitLiveRanges(%s): expression %s has exec number %d at position %d, Linear IR is not enumerated",
				ir.Name, e, e.ExecNum(), i)
		}
		if e.Role() == lir.RoleLoopEnd {
			b.loopEnds[e.LoopID()] = i
		}
	}
	if ir.Len() == 0 {
		return
	}
	b.initGlobalRegs()
	for _, e := range ir.Expressions() {
		b.visit(e)
	}
	klog.V(1).Infof("InitLiveRanges(%s): %d expressions, %d gp and %d vec abstract registers",
		ir.Name, ir.Len(), b.counter[lir.RegTypeGPR], b.counter[lir.RegTypeVec])
}

// initGlobalRegs pins the graph boundary values to always-alive GP registers.
func (b *liveRangeBuilder) initGlobalRegs() {
	interval := LiveInterval{Start: 0, Stop: b.ir.Len() - 1}
	assign := func(connectors []*lir.PortConnector) {
		if connectors[0].Source().Descriptor().AbstractReg().IsDefined() {
			return
		}
		r := b.counter.next(lir.RegTypeGPR)
		for _, c := range connectors {
			for _, member := range c.Group() {
				setConnectorReg(member, r)
			}
		}
		b.mgr.SetLiveRange(r, interval, false)
		b.expiring.push(interval.Stop, r)
		klog.V(2).Infof("InitLiveRanges(%s): global %s %s", b.ir.Name, r, interval)
	}
	for _, param := range b.ir.Parameters() {
		connectors := []*lir.PortConnector{param.Output(0)}
		for _, si := range lir.ShapeInferConsumers(param) {
			connectors = append(connectors, si.Output(0))
		}
		assign(connectors)
	}
	for _, result := range b.ir.Results() {
		connectors := []*lir.PortConnector{result.Input(0)}
		for _, si := range lir.ShapeInferProducers(result) {
			connectors = append(connectors, si.Input(0))
		}
		assign(connectors)
	}
}

func (b *liveRangeBuilder) visit(e *lir.Expression) {
	if e.Role() == lir.RoleLoopEnd || e.Role() == lir.RoleResult {
		b.mgr.SetLiveRegs(e, lir.NewRegSet(), false)
		return
	}
	start := e.ExecNum()
	b.expiring.evictBefore(start)
	live := b.expiring.live()
	b.mgr.SetLiveRegs(e, live, false)
	klog.V(2).Infof("InitLiveRanges(%s): %s live %s", b.ir.Name, e, live)

	for i, out := range e.Outputs() {
		if e.OutputDesc(i).AbstractReg().IsDefined() {
			// Global register, or an alias group already seen in a clone.
			continue
		}
		t := b.mgr.RegType(e, i)
		if t == lir.RegTypeUndefined {
			exceptions.Panicf("InitLiveRanges(%s): output %d of %s has no register type", b.ir.Name, i, e)
		}
		r := b.counter.next(t)
		stop := start
		for _, member := range out.Group() {
			setConnectorReg(member, r)
			stop = max(stop, b.lastUse(member))
		}
		interval := LiveInterval{Start: start, Stop: stop}
		b.mgr.SetLiveRange(r, interval, false)
		b.expiring.push(stop, r)
		klog.V(2).Infof("InitLiveRanges(%s): %s.out%d -> %s %s", b.ir.Name, e, i, r, interval)
	}
}

// lastUse returns the last execution index the value of c must survive to.
func (b *liveRangeBuilder) lastUse(c *lir.PortConnector) int {
	producer := c.Source().Expr
	stop := producer.ExecNum()
	for _, consumer := range c.Consumers() {
		stop = max(stop, consumer.Expr.ExecNum())
		if end, found := b.loopCarriedEnd(producer, consumer.Expr); found {
			stop = max(stop, end)
		}
	}
	return stop
}

// loopCarriedEnd finds the outermost loop containing consumer but not
// producer and returns the exec index of its LoopEnd.
func (b *liveRangeBuilder) loopCarriedEnd(producer, consumer *lir.Expression) (int, bool) {
	for _, id := range consumer.LoopIDs() {
		if slices.Contains(producer.LoopIDs(), id) {
			continue
		}
		end, found := b.loopEnds[id]
		return end, found
	}
	return 0, false
}

func setConnectorReg(c *lir.PortConnector, r lir.Reg) {
	c.Source().Descriptor().SetAbstractReg(r)
	for _, consumer := range c.Consumers() {
		consumer.Descriptor().SetAbstractReg(r)
	}
}
