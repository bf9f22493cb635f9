package lirgen

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-jit/pkg/lir"
)

func TestLoadFileAndBuild(t *testing.T) {
	sg := must.M1(LoadFile("testdata/exp.yaml"))
	assert.Equal(t, "exp", sg.Name)
	require.Len(t, sg.Ops, 5)
	require.Len(t, sg.Loops, 1)

	ir, err := Build(sg)
	require.NoError(t, err)
	require.Equal(t, 5, ir.Len())
	load := ir.Expr("load")
	require.NotNil(t, load)
	assert.Equal(t, lir.RoleLoad, load.Role())
	assert.Equal(t, dtypes.Float32, load.DType())
	assert.Equal(t, []int{1, 100}, load.OutputDesc(0).Shape())
	assert.Same(t, ir.Expr("param").Output(0), load.Input(0))
	assert.Equal(t, 0, ir.Expr("result").NumOutputs())

	loops := ir.LoopManager()
	require.Equal(t, 1, loops.Len())
	loop := loops.Unified(0)
	assert.Equal(t, 100, loop.WorkAmount())
	assert.Equal(t, 8, loop.Increment())
	assert.Equal(t, 0, loop.DimIdx())
	require.Len(t, loop.EntryPoints(), 1)
	assert.Equal(t, load.InputPort(0), loop.EntryPoints()[0].Port)
	assert.Equal(t, ir.Expr("store").OutputPort(0), loop.ExitPoints()[0].Port)
	assert.Equal(t, []int{0}, load.LoopIDs())
	assert.Empty(t, ir.Expr("param").LoopIDs())
	assert.Equal(t, -1, load.ExecNum(), "Build must not enumerate")
}

func TestBuildAccumulatorAndBuffer(t *testing.T) {
	ir := must.M1(Build(must.M1(LoadFile("testdata/reduce.yaml"))))
	assert.Equal(t, 12, ir.Len())
	assert.Equal(t, lir.RoleVectorBuffer, ir.Expr("vbuf").Role())
	assert.Equal(t, lir.RoleHorizonMax, ir.Expr("hmax").Role())
	assert.Equal(t, []int{1, 8}, ir.Expr("fill").OutputDesc(0).Shape())
	require.Len(t, ir.Buffers(), 1)
	assert.Equal(t, 0, ir.Buffers()[0].RegGroup())
	assert.Equal(t, 0, ir.LoopManager().Len())
}

func TestBuildNestedLoops(t *testing.T) {
	sg := must.M1(Parse([]byte(`
name: nested
ops:
  - {name: param, kind: Parameter, dtype: float16, shape: [4, 100]}
  - {name: load, kind: Load, inputs: [param]}
  - {name: store, kind: Store, inputs: [load]}
  - {name: result, kind: Result, inputs: [store.out0]}
loops:
  - begin: load
    end: store
    work_amount: 4
    increment: 1
    dim: 1
    entries: [load.in0]
    exits: [store.out0]
  - begin: load
    end: store
    work_amount: 100
    increment: 16
    entries:
      - {port: load.in0, incremented: false}
    exits:
      - {port: store.out0, dim: 0}
`)))
	ir := must.M1(Build(sg))
	assert.Equal(t, dtypes.Float16, ir.Expr("load").DType())
	assert.Equal(t, []int{0, 1}, ir.Expr("load").LoopIDs())
	inner := ir.LoopManager().Unified(1)
	assert.False(t, inner.EntryPoints()[0].IsIncremented)
	assert.True(t, inner.ExitPoints()[0].IsIncremented)
	assert.Equal(t, 1, ir.LoopManager().Unified(0).DimIdx())
}

func TestBuildEnclosingLoopFirst(t *testing.T) {
	ir := must.M1(Build(must.M1(Parse([]byte(`
ops:
  - {name: param, kind: Parameter, shape: [4, 16]}
  - {name: scalar, kind: Scalar, shape: [1]}
  - {name: load, kind: Load, inputs: [param]}
  - {name: store, kind: Store, inputs: [load]}
  - {name: result, kind: Result, inputs: [store]}
loops:
  - {begin: scalar, end: store, work_amount: 4, increment: 1, dim: 1, entries: [load.in0], exits: [store.out0]}
  - {begin: load, end: store, work_amount: 16, increment: 8, entries: [load.in0], exits: [store.out0]}
`)))))
	assert.Equal(t, []int{0}, ir.Expr("scalar").LoopIDs())
	assert.Equal(t, []int{0, 1}, ir.Expr("load").LoopIDs())
	assert.Equal(t, []int{0, 1}, ir.Expr("store").LoopIDs())
}

func TestParsePortRef(t *testing.T) {
	tests := []struct {
		in      string
		want    portRef
		wantErr bool
	}{
		{in: "load", want: portRef{name: "load", output: true}},
		{in: "load.out1", want: portRef{name: "load", output: true, index: 1}},
		{in: "store.in0", want: portRef{name: "store"}},
		{in: "store.in", wantErr: true},
		{in: "store.x0", wantErr: true},
		{in: ".out0", wantErr: true},
		{in: "load.out-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePortRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	const ops = `
ops:
  - {name: param, kind: Parameter, shape: [1, 16]}
  - {name: load, kind: Load, inputs: [param]}
  - {name: store, kind: Store, inputs: [load]}
  - {name: result, kind: Result, inputs: [store]}
`
	const scalarOps = `
ops:
  - {name: param, kind: Parameter, shape: [1, 16]}
  - {name: scalar, kind: Scalar, shape: [1]}
  - {name: load, kind: Load, inputs: [param]}
  - {name: store, kind: Store, inputs: [load]}
  - {name: result, kind: Result, inputs: [store]}
`
	const innerLoop = "{begin: load, end: store, increment: 1, entries: [load.in0], exits: [store.out0]}"
	const outerLoop = "{begin: scalar, end: store, increment: 1, dim: 1, entries: [load.in0], exits: [store.out0]}"
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown input", "ops: [{name: a, kind: Load, inputs: [nope]}]", "unknown op"},
		{"input is not an output", "ops: [{name: p, kind: Parameter, shape: [4]}, {name: a, kind: Load, inputs: [p.in0]}]", "must reference outputs"},
		{"output out of range", "ops: [{name: p, kind: Parameter, shape: [4]}, {name: a, kind: Load, inputs: [p.out1]}]", "has 1 outputs"},
		{"duplicate name", "ops: [{name: p, kind: Parameter, shape: [4]}, {name: p, kind: Parameter, shape: [4]}]", "duplicate op name"},
		{"missing kind", "ops: [{name: p}]", "has no kind"},
		{"missing shape", "ops: [{name: p, kind: Parameter}]", "needs a shape"},
		{"unknown dtype", "ops: [{name: p, kind: Parameter, shape: [4], dtype: float3}]", "op \"p\""},
		{"begin after end", ops + "loops: [{begin: store, end: load, increment: 1, entries: [load.in0], exits: [store.out0]}]", "comes after"},
		{"zero increment", ops + "loops: [{begin: load, end: store, increment: 0, entries: [load.in0], exits: [store.out0]}]", "increment must be positive"},
		{"no exits", ops + "loops: [{begin: load, end: store, increment: 1, entries: [load.in0]}]", "needs entry and exit ports"},
		{"entry is an output", ops + "loops: [{begin: load, end: store, increment: 1, entries: [load.out0], exits: [store.out0]}]", "must be an input"},
		{"exit is an input", ops + "loops: [{begin: load, end: store, increment: 1, entries: [load.in0], exits: [store.in0]}]", "must be an output"},
		{"port outside loop", ops + "loops: [{begin: load, end: load, increment: 1, entries: [load.in0], exits: [store.out0]}]", "not inside the loop"},
		{"enclosing loop listed last", scalarOps + "loops: [" + innerLoop + ", " + outerLoop + "]", "encloses or overlaps loop [load, store]"},
		{"overlapping loops", scalarOps + "loops: [" + innerLoop + ", {begin: scalar, end: load, increment: 1, entries: [load.in0], exits: [load.out0]}]", "listed before it"},
		{"unknown begin", ops + "loops: [{begin: x, end: store, increment: 1, entries: [load.in0], exits: [store.out0]}]", "unknown begin op"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = Build(sg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("name: empty\n"))
	assert.ErrorContains(t, err, "has no ops")
	_, err = Parse([]byte("ops: {"))
	assert.ErrorContains(t, err, "failed to decode subgraph")
	_, err = LoadFile("testdata/missing.yaml")
	assert.ErrorContains(t, err, "failed to read subgraph")
}

func TestMarshalRoundTrip(t *testing.T) {
	sg := must.M1(LoadFile("testdata/exp.yaml"))
	again := must.M1(Parse(must.M1(sg.Marshal())))
	assert.Equal(t, sg, again)
}
