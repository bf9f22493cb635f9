// Package target describes the hardware the JIT kernels run on: register
// pool sizes, register names and the ABI, plus the code generator queries
// the register allocator depends on.
package target

import (
	"fmt"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

// Machine is a hardware description.
type Machine interface {
	Name() string
	GPRegCount() int
	VecRegCount() int
	MaskRegCount() int
	// VecLen is the vector register width in bytes.
	VecLen() int
	// RegName returns the assembler name of a physical register.
	RegName(r lir.Reg) string
	// IsCalleeSaved reports whether the ABI requires a kernel writing r to
	// save and restore it.
	IsCalleeSaved(r lir.Reg) bool
}

// Generic is a table-driven machine, used for tests and for machine
// description files.
type Generic struct {
	MachineName string `toml:"name"`
	GPRegs      int    `toml:"gp_regs"`
	VecRegs     int    `toml:"vec_regs"`
	MaskRegs    int    `toml:"mask_regs"`
	VecBytes    int    `toml:"vec_len"`
	// CalleeSaved lists the callee-saved GP register indices.
	CalleeSaved []int `toml:"callee_saved"`
}

// NewGeneric creates a machine with the given pool sizes and 16-byte vectors.
func NewGeneric(gpRegs, vecRegs int) *Generic {
	return &Generic{MachineName: "generic", GPRegs: gpRegs, VecRegs: vecRegs, VecBytes: 16}
}

func (m *Generic) Name() string      { return m.MachineName }
func (m *Generic) GPRegCount() int   { return m.GPRegs }
func (m *Generic) VecRegCount() int  { return m.VecRegs }
func (m *Generic) MaskRegCount() int { return m.MaskRegs }
func (m *Generic) VecLen() int       { return m.VecBytes }

func (m *Generic) RegName(r lir.Reg) string {
	switch r.Type {
	case lir.RegTypeGPR:
		return fmt.Sprintf("r%d", r.Idx)
	case lir.RegTypeVec:
		return fmt.Sprintf("v%d", r.Idx)
	case lir.RegTypeMask:
		return fmt.Sprintf("k%d", r.Idx)
	}
	return r.String()
}

func (m *Generic) IsCalleeSaved(r lir.Reg) bool {
	return r.Type == lir.RegTypeGPR && slices.Contains(m.CalleeSaved, r.Idx)
}

// LoadMachine reads a machine description file (TOML).
func LoadMachine(path string) (*Generic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read machine file %q", path)
	}
	return ParseMachine(data)
}

// ParseMachine decodes a TOML machine description.
func ParseMachine(data []byte) (*Generic, error) {
	m := &Generic{MachineName: "custom", VecBytes: 16}
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "failed to parse machine description")
	}
	if m.GPRegs <= 0 || m.VecRegs <= 0 {
		return nil, errors.Errorf("machine %q: gp_regs and vec_regs must be positive, got %d and %d",
			m.MachineName, m.GPRegs, m.VecRegs)
	}
	if m.VecBytes <= 0 || m.VecBytes%4 != 0 {
		return nil, errors.Errorf("machine %q: invalid vec_len %d", m.MachineName, m.VecBytes)
	}
	for _, idx := range m.CalleeSaved {
		if idx < 0 || idx >= m.GPRegs {
			return nil, errors.Errorf("machine %q: callee-saved register %d out of range [0, %d)",
				m.MachineName, idx, m.GPRegs)
		}
	}
	return m, nil
}

// limited restricts the pools of another machine.
type limited struct {
	Machine
	gp, vec int
}

// Limit returns m with its GP and vector pools capped to gp and vec registers.
// A non-positive limit keeps the machine's own count.
func Limit(m Machine, gp, vec int) Machine {
	if gp <= 0 {
		gp = m.GPRegCount()
	}
	if vec <= 0 {
		vec = m.VecRegCount()
	}
	return &limited{Machine: m, gp: min(gp, m.GPRegCount()), vec: min(vec, m.VecRegCount())}
}

func (l *limited) GPRegCount() int  { return l.gp }
func (l *limited) VecRegCount() int { return l.vec }
