package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/raymyers/ralph-jit/pkg/lir"
	"github.com/raymyers/ralph-jit/pkg/lirgen"
	"github.com/raymyers/ralph-jit/pkg/pipeline"
	"github.com/raymyers/ralph-jit/pkg/regalloc"
	"github.com/raymyers/ralph-jit/pkg/spill"
	"github.com/raymyers/ralph-jit/pkg/target"
)

var version = "0.1.0"

// Debug flags for dumping compilation stages
var (
	dLIR   bool
	dLoops bool
	dLive  bool
	dRegs  bool
	dSpill bool
)

// Target and pipeline options
var (
	isaName      string
	machineFile  string
	gpRegs       int
	vecRegs      int
	regMapFile   string
	noIterations bool
	noSpills     bool
)

func main() {
	os.Exit(run())
}

func run() int {
	klog.InitFlags(nil)
	defer klog.Flush()
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the dump flags that also accept the single-dash style
var debugFlagNames = []string{"dlir", "dloops", "dlive", "dregs", "dspill"}

// normalizeFlags converts single-dash dump flags like -dlir to --dlir
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = arg
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-jit [subgraph.yaml]",
		Short: "ralph-jit compiles fused subgraphs into register-allocated kernels",
		Long: `ralph-jit lowers a subgraph description to a Linear IR, splits its
loops into first, main and tail iterations, computes live ranges and
assigns physical registers. The dump flags print each stage.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return doCompile(args[0], out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dLIR, "dlir", false, "Dump the Linear IR with physical registers")
	rootCmd.Flags().BoolVar(&dLoops, "dloops", false, "Dump the loop infos")
	rootCmd.Flags().BoolVar(&dLive, "dlive", false, "Dump live intervals of the abstract registers")
	rootCmd.Flags().BoolVar(&dRegs, "dregs", false, "Dump the abstract to physical register map")
	rootCmd.Flags().BoolVar(&dSpill, "dspill", false, "Dump register spills and callee-saved registers")

	rootCmd.Flags().StringVar(&isaName, "isa", "avx2", "x86-64 vector extension: sse41, avx2 or avx512")
	rootCmd.Flags().StringVar(&machineFile, "machine", "", "Machine description file (TOML), overrides --isa")
	rootCmd.Flags().IntVar(&gpRegs, "gp-regs", 0, "Cap the general-purpose register pool (0 keeps the machine's)")
	rootCmd.Flags().IntVar(&vecRegs, "vec-regs", 0, "Cap the vector register pool (0 keeps the machine's)")
	rootCmd.Flags().StringVar(&regMapFile, "regmap", "", "Write the register map (YAML) to this file")
	rootCmd.Flags().BoolVar(&noIterations, "no-iterations", false, "Keep loops unified, without first/main/tail iterations")
	rootCmd.Flags().BoolVar(&noSpills, "no-spills", false, "Do not spill live registers around external calls")

	return rootCmd
}

// selectMachine builds the target from the command-line flags.
func selectMachine() (target.Machine, error) {
	var m target.Machine
	if machineFile != "" {
		generic, err := target.LoadMachine(machineFile)
		if err != nil {
			return nil, err
		}
		m = generic
	} else {
		isa, err := target.ParseISA(isaName)
		if err != nil {
			return nil, err
		}
		m = target.NewX64(isa)
	}
	if gpRegs < 0 || vecRegs < 0 {
		return nil, errors.New("register pool caps must not be negative")
	}
	if gpRegs > 0 || vecRegs > 0 {
		m = target.Limit(m, gpRegs, vecRegs)
	}
	return m, nil
}

// doCompile compiles a subgraph file and prints the requested stages.
func doCompile(filename string, out, errOut io.Writer) error {
	m, err := selectMachine()
	if err != nil {
		fmt.Fprintf(errOut, "ralph-jit: %v\n", err)
		return err
	}
	sg, err := lirgen.LoadFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-jit: %v\n", err)
		return err
	}
	ir, err := lirgen.Build(sg)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-jit: %s: %v\n", filename, err)
		return err
	}
	result, err := pipeline.Compile(ir, m, pipeline.Options{
		SkipSpecificIterations: noIterations,
		DisableRegSpills:       noSpills,
	})
	if err != nil {
		if errors.Is(err, regalloc.ErrNotEnoughRegisters) {
			fmt.Fprintf(errOut, "ralph-jit: %s: subgraph does not fit in the registers of %s: %v\n", filename, m.Name(), err)
		} else {
			fmt.Fprintf(errOut, "ralph-jit: %s: %v\n", filename, err)
		}
		return err
	}

	printer := lir.NewPrinter(out)
	printer.RegName = m.RegName
	if dLIR {
		printer.PrintIR(result.IR)
	}
	if dLoops {
		printer.PrintLoops(result.IR)
	}
	if dLive {
		printLiveRanges(out, result)
	}
	if dRegs {
		printRegMap(out, result)
	}
	if dSpill {
		printSpills(out, result)
	}
	if regMapFile != "" {
		if err := writeRegMap(regMapFile, result.Allocation.RegToPhys()); err != nil {
			fmt.Fprintf(errOut, "ralph-jit: %v\n", err)
			return err
		}
	}
	if !dLIR && !dLoops && !dLive && !dRegs && !dSpill {
		fmt.Fprintf(errOut, "ralph-jit: compiled %s for %s: %d expressions, %d loops\n",
			sg.Name, m.Name(), result.IR.Len(), result.IR.LoopManager().Len())
	}
	return nil
}

func printLiveRanges(w io.Writer, result *pipeline.Result) {
	fmt.Fprintf(w, "live ranges of %s:\n", result.IR.Name)
	for _, r := range result.Manager.Regs() {
		fmt.Fprintf(w, "  %-6s %s\n", r, result.Manager.LiveRange(r))
	}
}

func printRegMap(w io.Writer, result *pipeline.Result) {
	regToPhys := result.Allocation.RegToPhys()
	fmt.Fprintf(w, "registers of %s:\n", result.IR.Name)
	for _, r := range result.Manager.Regs() {
		how := "scan"
		if result.Allocation.IsManual(r) {
			how = "pinned"
		}
		fmt.Fprintf(w, "  %-6s -> %-4s (%s)\n", r, result.Machine.RegName(regToPhys[r]), how)
	}
}

func printSpills(w io.Writer, result *pipeline.Result) {
	m := result.Machine
	fmt.Fprintf(w, "spills of %s:\n", result.IR.Name)
	for _, p := range result.Spills {
		fmt.Fprintf(w, "%s at %d: ", p.Call.Name(), p.Call.ExecNum())
		spill.ComputeLayout(p.Begin.SpillRegs(), m).Print(w, m)
	}
	names := make([]string, len(result.CalleeSaved))
	for i, r := range result.CalleeSaved {
		names[i] = m.RegName(r)
	}
	fmt.Fprintf(w, "callee-saved: %v\n", names)
}

// writeRegMap writes the abstract to physical register map as YAML.
func writeRegMap(path string, m regalloc.RegMap) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode register map")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write register map %q", path)
	}
	return nil
}
