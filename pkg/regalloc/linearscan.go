package regalloc

import (
	"cmp"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// ErrNotEnoughRegisters is returned when a register pool is exhausted.
var ErrNotEnoughRegisters = errors.New("not enough registers for a snippet")

// intervalReg is an abstract register with its live interval.
type intervalReg struct {
	interval LiveInterval
	reg      lir.Reg
}

// byStop orders by interval stop, then start.
func byStop(a, b intervalReg) int {
	if c := cmp.Compare(a.interval.Stop, b.interval.Stop); c != 0 {
		return c
	}
	return cmp.Compare(a.interval.Start, b.interval.Start)
}

// LinearScan allocates the physical registers of one bank.
type LinearScan struct {
	bank lir.RegType
	pool []lir.Reg // physical registers available, ascending

	active   []intervalReg // sorted by stop, then start
	free     []lir.Reg     // stack of free physical registers, top is last
	assigned RegMap
}

// NewLinearScan creates an allocator over pool. The free stack is loaded in
// descending order so registers are handed out in ascending order.
func NewLinearScan(bank lir.RegType, pool []lir.Reg) *LinearScan {
	pool = slices.Clone(pool)
	slices.SortFunc(pool, lir.Reg.Compare)
	free := make([]lir.Reg, 0, len(pool))
	for i := len(pool) - 1; i >= 0; i-- {
		if pool[i].Type != bank {
			exceptions.Panicf("NewLinearScan(%s): pool register %s is in another bank", bank, pool[i])
		}
		free = append(free, pool[i])
	}
	return &LinearScan{bank: bank, pool: pool, free: free, assigned: make(RegMap)}
}

// Allocate assigns a physical register to every interval. Intervals are
// processed by start, then stop; two registers with the same interval are a
// contract violation. An interval starting where an active one stops still
// conflicts with it.
func (s *LinearScan) Allocate(intervals map[lir.Reg]LiveInterval) (RegMap, error) {
	sorted := make([]intervalReg, 0, len(intervals))
	for r, interval := range intervals {
		if r.Type != s.bank {
			exceptions.Panicf("LinearScan(%s): register %s is in another bank", s.bank, r)
		}
		sorted = append(sorted, intervalReg{interval: interval, reg: r})
	}
	slices.SortFunc(sorted, func(a, b intervalReg) int {
		if c := a.interval.Compare(b.interval); c != 0 {
			return c
		}
		return a.reg.Compare(b.reg)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].interval == sorted[i-1].interval {
			exceptions.Panicf("LinearScan(%s): %s and %s have the same live interval %s",
				s.bank, sorted[i-1].reg, sorted[i].reg, sorted[i].interval)
		}
	}

	for _, cur := range sorted {
		s.expire(cur.interval.Start)
		if len(s.active) == len(s.pool) {
			return nil, errors.Wrapf(ErrNotEnoughRegisters, "%s pool of %d registers exhausted allocating %s live over %s",
				s.bank, len(s.pool), cur.reg, cur.interval)
		}
		top := len(s.free) - 1
		phys := s.free[top]
		s.free = s.free[:top]
		s.assigned[cur.reg] = phys
		pos, _ := slices.BinarySearchFunc(s.active, cur, byStop)
		s.active = slices.Insert(s.active, pos, cur)
		klog.V(2).Infof("LinearScan(%s): %s %s -> %s", s.bank, cur.reg, cur.interval, phys)
	}
	return s.assigned, nil
}

// expire returns to the free stack the physical registers of the active
// intervals stopping strictly before start.
func (s *LinearScan) expire(start int) {
	n := 0
	for n < len(s.active) && s.active[n].interval.Stop < start {
		s.free = append(s.free, s.assigned[s.active[n].reg])
		n++
	}
	s.active = s.active[n:]
}
