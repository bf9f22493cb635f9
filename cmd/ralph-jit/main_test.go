package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/regalloc"
)

const expSubgraph = `name: exp
ops:
  - {name: param, kind: Parameter, dtype: float32, shape: [1, 100]}
  - {name: load, kind: Load, inputs: [param]}
  - {name: exp, kind: Exp, inputs: [load]}
  - {name: store, kind: Store, inputs: [exp]}
  - {name: result, kind: Result, inputs: [store]}
loops:
  - {begin: load, end: store, work_amount: 100, increment: 8, entries: [load.in0], exits: [store.out0]}
`

// resetFlags restores the flag variables between test runs
func resetFlags() {
	dLIR, dLoops, dLive, dRegs, dSpill = false, false, false, false, false
	isaName, machineFile, regMapFile = "avx2", "", ""
	gpRegs, vecRegs = 0, 0
	noIterations, noSpills = false, false
}

// writeFile writes content to name inside a fresh temporary directory
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// execute runs the root command and returns stdout, stderr and the error
func execute(args ...string) (string, string, error) {
	resetFlags()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestDumpFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	expectedFlags := []string{"dlir", "dloops", "dlive", "dregs", "dspill", "isa", "machine", "gp-regs", "vec-regs", "regmap", "no-iterations", "no-spills"}
	for _, flagName := range expectedFlags {
		if cmd.Flags().Lookup(flagName) == nil {
			t.Errorf("expected flag --%s to exist", flagName)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	got := normalizeFlags([]string{"-dlir", "-dspill", "--dregs", "-v=2", "-dother", "file.yaml"})
	want := []string{"--dlir", "--dspill", "--dregs", "-v=2", "-dother", "file.yaml"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("normalizeFlags = %v, want %v", got, want)
	}
}

func TestNoArgsPrintsHelp(t *testing.T) {
	out, _, err := execute()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "ralph-jit [subgraph.yaml]") {
		t.Errorf("expected usage in output, got %q", out)
	}
}

func TestCompileSummary(t *testing.T) {
	path := writeFile(t, "exp.yaml", expSubgraph)
	out, errOut, err := execute(path)
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, errOut)
	}
	if out != "" {
		t.Errorf("expected no dump without dump flags, got %q", out)
	}
	want := "ralph-jit: compiled exp for x64-avx2: 12 expressions, 2 loops"
	if !strings.Contains(errOut, want) {
		t.Errorf("expected %q in stderr, got %q", want, errOut)
	}
}

func TestNoIterations(t *testing.T) {
	path := writeFile(t, "exp.yaml", expSubgraph)
	out, errOut, err := execute("-dloops", "--no-iterations", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, errOut)
	}
	if !strings.Contains(out, "loop 0 (unified): work_amount=100 increment=8 dim=0") {
		t.Errorf("expected the unified loop, got %q", out)
	}
}

func TestRegMapFile(t *testing.T) {
	path := writeFile(t, "exp.yaml", expSubgraph)
	regMapPath := filepath.Join(t.TempDir(), "regs.yaml")
	_, errOut, err := execute("--regmap", regMapPath, path)
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, errOut)
	}

	data, err := os.ReadFile(regMapPath)
	if err != nil {
		t.Fatalf("register map not written: %v", err)
	}
	var m regalloc.RegMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to decode register map: %v", err)
	}
	if got := m[lir.GPR(0)]; got != lir.GPR(0) {
		t.Errorf("parameter register mapped to %s, want gpr0", got)
	}
	if got := m[lir.GPR(1)]; got != lir.GPR(1) {
		t.Errorf("result register mapped to %s, want gpr1", got)
	}
	vec := 0
	for abstract := range m {
		if abstract.Type == lir.RegTypeVec {
			vec++
		}
	}
	if vec == 0 {
		t.Errorf("expected vector registers in %v", m)
	}
}

func TestMachineFile(t *testing.T) {
	path := writeFile(t, "exp.yaml", expSubgraph)
	machine := writeFile(t, "tiny.toml", "name = \"tiny\"\ngp_regs = 4\nvec_regs = 2\nvec_len = 32\n")
	out, errOut, err := execute("--machine", machine, "--dregs", path)
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, errOut)
	}
	if !strings.Contains(out, "-> r0") || !strings.Contains(out, "-> v1") {
		t.Errorf("expected generic register names, got %q", out)
	}

	_, errOut, err = execute("--machine", machine, "--vec-regs", "1", path)
	if err == nil {
		t.Fatal("expected an error with a single vector register")
	}
	if !strings.Contains(errOut, "does not fit in the registers of tiny") {
		t.Errorf("unexpected stderr %q", errOut)
	}
}

func TestErrors(t *testing.T) {
	path := writeFile(t, "exp.yaml", expSubgraph)
	bad := writeFile(t, "bad.yaml", "ops: [{name: a, kind: Load, inputs: [nope]}]")
	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"unknown isa", []string{"--isa", "neon", path}, "unknown ISA"},
		{"negative cap", []string{"--gp-regs", "-1", path}, "must not be negative"},
		{"missing file", []string{filepath.Join(t.TempDir(), "missing.yaml")}, "failed to read subgraph"},
		{"bad subgraph", []string{bad}, "unknown op"},
		{"missing machine", []string{"--machine", filepath.Join(t.TempDir(), "m.toml"), path}, "failed to read machine file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, errOut, err := execute(tc.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.HasPrefix(errOut, "ralph-jit: ") {
				t.Errorf("expected ralph-jit prefix, got %q", errOut)
			}
			if !strings.Contains(errOut, tc.wantMsg) {
				t.Errorf("expected %q in stderr, got %q", tc.wantMsg, errOut)
			}
		})
	}
}
