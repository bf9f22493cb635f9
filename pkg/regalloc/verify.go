package regalloc

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// Verify checks an assigned Linear IR and returns every violation found:
//   - each port register is physical and within its pool;
//   - each value is produced and consumed within its live interval;
//   - abstract registers whose intervals overlap got distinct physical
//     registers, unless both were pinned (buffer groups and accumulators share
//     on purpose).
func Verify(ir *lir.LinearIR, mgr *RegManager, result *AllocationResult) error {
	var err error
	regToPhys := result.RegToPhys()

	checkDesc := func(e *lir.Expression, kind string, i int, d *lir.PortDescriptor) {
		abstract, phys := d.AbstractReg(), d.Reg()
		if !abstract.IsDefined() {
			err = multierr.Append(err, errors.Errorf("%s %s%d: no register assigned", e, kind, i))
			return
		}
		if want, found := regToPhys[abstract]; !found || want != phys {
			err = multierr.Append(err, errors.Errorf("%s %s%d: %s holds %s, expected %s",
				e, kind, i, abstract, phys, want))
		}
		if size := mgr.PoolSize(phys.Type); phys.Idx < 0 || phys.Idx >= size {
			err = multierr.Append(err, errors.Errorf("%s %s%d: %s outside the %s pool of %d registers",
				e, kind, i, phys, phys.Type, size))
		}
	}
	for _, e := range ir.Expressions() {
		for i, d := range e.InputDescs() {
			checkDesc(e, "in", i, d)
		}
		for i, d := range e.OutputDescs() {
			checkDesc(e, "out", i, d)
			abstract := d.AbstractReg()
			if !abstract.IsDefined() || !mgr.HasLiveRange(abstract) {
				continue
			}
			interval := mgr.LiveRange(abstract)
			if !interval.Contains(e.ExecNum()) {
				err = multierr.Append(err, errors.Errorf("%s out%d: produced at %d outside %s of %s",
					e, i, e.ExecNum(), interval, abstract))
			}
			for _, consumer := range e.Output(i).Consumers() {
				if !interval.Contains(consumer.Expr.ExecNum()) {
					err = multierr.Append(err, errors.Errorf("%s: consumes %s at %d outside %s",
						consumer.Expr, abstract, consumer.Expr.ExecNum(), interval))
				}
			}
		}
	}

	byPhys := make(map[lir.Reg][]lir.Reg)
	for _, r := range mgr.Regs() {
		if phys, found := regToPhys[r]; found {
			byPhys[phys] = append(byPhys[phys], r)
		} else {
			err = multierr.Append(err, errors.Errorf("%s: no physical register", r))
		}
	}
	for phys, regs := range byPhys {
		for i, a := range regs {
			for _, b := range regs[i+1:] {
				if result.IsManual(a) && result.IsManual(b) {
					continue
				}
				ia, ib := mgr.LiveRange(a), mgr.LiveRange(b)
				if ia.Overlaps(ib) {
					err = multierr.Append(err, errors.Errorf("%s %s and %s %s overlap but both use %s",
						a, ia, b, ib, phys))
				}
			}
		}
	}
	return err
}
