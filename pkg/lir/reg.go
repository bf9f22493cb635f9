package lir

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RegType is the register bank a value lives in.
type RegType int

const (
	RegTypeUndefined RegType = iota
	RegTypeGPR
	RegTypeVec
	RegTypeMask
)

func (t RegType) String() string {
	switch t {
	case RegTypeGPR:
		return "gpr"
	case RegTypeVec:
		return "vec"
	case RegTypeMask:
		return "mask"
	default:
		return "undefined"
	}
}

// Reg is a register handle: a bank plus an index inside the bank.
// Before AssignRegisters runs the index is abstract (unbounded); afterwards it
// is the physical index inside the machine's register file.
type Reg struct {
	Type RegType
	Idx  int
}

// NewReg creates a register of the given bank.
func NewReg(t RegType, idx int) Reg {
	return Reg{Type: t, Idx: idx}
}

// GPR is a shorthand for NewReg(RegTypeGPR, idx).
func GPR(idx int) Reg { return Reg{Type: RegTypeGPR, Idx: idx} }

// Vec is a shorthand for NewReg(RegTypeVec, idx).
func Vec(idx int) Reg { return Reg{Type: RegTypeVec, Idx: idx} }

// IsDefined returns true if the register was assigned a bank.
func (r Reg) IsDefined() bool {
	return r.Type != RegTypeUndefined
}

func (r Reg) String() string {
	if !r.IsDefined() {
		return "undef"
	}
	return fmt.Sprintf("%s%d", r.Type, r.Idx)
}

// Compare orders registers by bank first, then by index.
func (r Reg) Compare(other Reg) int {
	if c := cmp.Compare(r.Type, other.Type); c != 0 {
		return c
	}
	return cmp.Compare(r.Idx, other.Idx)
}

// ParseReg parses the String form of a register ("gpr3", "vec0", "mask1").
func ParseReg(s string) (Reg, error) {
	for _, t := range []RegType{RegTypeGPR, RegTypeVec, RegTypeMask} {
		prefix := t.String()
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		idx, err := strconv.Atoi(s[len(prefix):])
		if err != nil || idx < 0 {
			return Reg{}, errors.Errorf("invalid register index in %q", s)
		}
		return NewReg(t, idx), nil
	}
	return Reg{}, errors.Errorf("invalid register %q", s)
}

// RegSet is a set of registers
type RegSet map[Reg]struct{}

// NewRegSet creates a set holding the given registers
func NewRegSet(regs ...Reg) RegSet {
	s := make(RegSet, len(regs))
	for _, r := range regs {
		s.Add(r)
	}
	return s
}

// Add inserts a register
func (s RegSet) Add(r Reg) {
	s[r] = struct{}{}
}

// Remove deletes a register
func (s RegSet) Remove(r Reg) {
	delete(s, r)
}

// Contains reports whether r is in the set
func (s RegSet) Contains(r Reg) bool {
	_, ok := s[r]
	return ok
}

// Copy returns an independent copy
func (s RegSet) Copy() RegSet {
	c := make(RegSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Union returns s ∪ other
func (s RegSet) Union(other RegSet) RegSet {
	u := s.Copy()
	for r := range other {
		u.Add(r)
	}
	return u
}

// Minus returns s \ other
func (s RegSet) Minus(other RegSet) RegSet {
	d := make(RegSet)
	for r := range s {
		if !other.Contains(r) {
			d.Add(r)
		}
	}
	return d
}

// Equal reports whether both sets hold the same registers
func (s RegSet) Equal(other RegSet) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other.Contains(r) {
			return false
		}
	}
	return true
}

// OfType returns the registers of a single bank
func (s RegSet) OfType(t RegType) RegSet {
	sub := make(RegSet)
	for r := range s {
		if r.Type == t {
			sub.Add(r)
		}
	}
	return sub
}

// Slice returns the registers sorted by bank and index (deterministic output)
func (s RegSet) Slice() []Reg {
	regs := make([]Reg, 0, len(s))
	for r := range s {
		regs = append(regs, r)
	}
	slices.SortFunc(regs, Reg.Compare)
	return regs
}

func (s RegSet) String() string {
	parts := make([]string, 0, len(s))
	for _, r := range s.Slice() {
		parts = append(parts, r.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
