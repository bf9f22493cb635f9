package target

import (
	"slices"
	"strings"

	"github.com/mmcloughlin/avo/reg"
	"github.com/pkg/errors"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// ISA is an x86-64 vector extension level.
type ISA int

const (
	SSE41 ISA = iota
	AVX2
	AVX512
)

var isaNames = map[ISA]string{
	SSE41:  "sse41",
	AVX2:   "avx2",
	AVX512: "avx512",
}

func (isa ISA) String() string { return isaNames[isa] }

// ParseISA parses "sse41", "avx2" or "avx512".
func ParseISA(s string) (ISA, error) {
	for isa, name := range isaNames {
		if strings.EqualFold(s, name) {
			return isa, nil
		}
	}
	return 0, errors.Errorf("unknown ISA %q (expected sse41, avx2 or avx512)", s)
}

// gpRegs is the allocatable GP register file, in physical index order.
// RSP is never allocated.
var gpRegs = []reg.Register{
	reg.RAX, reg.RCX, reg.RDX, reg.RBX, reg.RBP, reg.RSI, reg.RDI,
	reg.R8, reg.R9, reg.R10, reg.R11, reg.R12, reg.R13, reg.R14, reg.R15,
}

// System V callee-saved registers.
var sysVCalleeSaved = []reg.Register{reg.RBX, reg.RBP, reg.R12, reg.R13, reg.R14, reg.R15}

var (
	xmmRegs = []reg.Register{
		reg.X0, reg.X1, reg.X2, reg.X3, reg.X4, reg.X5, reg.X6, reg.X7,
		reg.X8, reg.X9, reg.X10, reg.X11, reg.X12, reg.X13, reg.X14, reg.X15,
	}
	ymmRegs = []reg.Register{
		reg.Y0, reg.Y1, reg.Y2, reg.Y3, reg.Y4, reg.Y5, reg.Y6, reg.Y7,
		reg.Y8, reg.Y9, reg.Y10, reg.Y11, reg.Y12, reg.Y13, reg.Y14, reg.Y15,
	}
	zmmRegs = []reg.Register{
		reg.Z0, reg.Z1, reg.Z2, reg.Z3, reg.Z4, reg.Z5, reg.Z6, reg.Z7,
		reg.Z8, reg.Z9, reg.Z10, reg.Z11, reg.Z12, reg.Z13, reg.Z14, reg.Z15,
		reg.Z16, reg.Z17, reg.Z18, reg.Z19, reg.Z20, reg.Z21, reg.Z22, reg.Z23,
		reg.Z24, reg.Z25, reg.Z26, reg.Z27, reg.Z28, reg.Z29, reg.Z30, reg.Z31,
	}
	maskRegs = []reg.Register{reg.K0, reg.K1, reg.K2, reg.K3, reg.K4, reg.K5, reg.K6, reg.K7}
)

// X64 is an x86-64 machine with the System V ABI.
type X64 struct {
	isa ISA
	vec []reg.Register
}

// NewX64 creates an x86-64 machine for the given vector extension.
func NewX64(isa ISA) *X64 {
	m := &X64{isa: isa}
	switch isa {
	case AVX512:
		m.vec = zmmRegs
	case AVX2:
		m.vec = ymmRegs
	default:
		m.vec = xmmRegs
	}
	return m
}

func (m *X64) Name() string     { return "x64-" + m.isa.String() }
func (m *X64) ISA() ISA         { return m.isa }
func (m *X64) GPRegCount() int  { return len(gpRegs) }
func (m *X64) VecRegCount() int { return len(m.vec) }

func (m *X64) MaskRegCount() int {
	if m.isa == AVX512 {
		return len(maskRegs)
	}
	return 0
}

func (m *X64) VecLen() int {
	switch m.isa {
	case AVX512:
		return 64
	case AVX2:
		return 32
	}
	return 16
}

func (m *X64) physical(r lir.Reg) reg.Register {
	var file []reg.Register
	switch r.Type {
	case lir.RegTypeGPR:
		file = gpRegs
	case lir.RegTypeVec:
		file = m.vec
	case lir.RegTypeMask:
		if m.isa == AVX512 {
			file = maskRegs
		}
	}
	if r.Idx < 0 || r.Idx >= len(file) {
		return nil
	}
	return file[r.Idx]
}

// RegName returns the Go assembler name (AX, Y3, K1, ...) of r, or the
// register's abstract form when r is out of the register file.
func (m *X64) RegName(r lir.Reg) string {
	if p := m.physical(r); p != nil {
		return p.Asm()
	}
	return r.String()
}

func (m *X64) IsCalleeSaved(r lir.Reg) bool {
	p := m.physical(r)
	if p == nil || r.Type != lir.RegTypeGPR {
		return false
	}
	return slices.ContainsFunc(sysVCalleeSaved, func(cs reg.Register) bool { return cs.Asm() == p.Asm() })
}
