package lir

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// PortType tells whether an ExpressionPort is an input or an output.
type PortType int

const (
	Input PortType = iota
	Output
)

func (t PortType) String() string {
	if t == Output {
		return "out"
	}
	return "in"
}

// Op describes the operation an expression instantiates.
type Op struct {
	Kind       string       // operation kind, e.g. "Add", "Load", "Parameter"
	Role       Role         // structural role; derived from Kind when zero-valued and Kind is known
	DType      dtypes.DType // element type of the outputs
	Shape      []int        // shape of the outputs
	NumOutputs int          // number of outputs
	RegGroup   int          // buffer register group (RoleBuffer only)
	LoopID     int          // loop id (loop markers only)
	Regs       RegSet       // registers to spill (spill markers only)
}

// PortDescriptor is attached to one input or output of an expression and
// carries the register holding the value.
type PortDescriptor struct {
	shape    []int
	reg      Reg
	abstract Reg
}

// NewPortDescriptor creates a descriptor with an undefined register.
func NewPortDescriptor(shape []int) *PortDescriptor {
	return &PortDescriptor{shape: slices.Clone(shape)}
}

// Shape returns the shape of the value seen through this port.
func (d *PortDescriptor) Shape() []int { return d.shape }

// Reg returns the current register: undefined, abstract or physical.
func (d *PortDescriptor) Reg() Reg { return d.reg }

// AbstractReg returns the abstract register assigned by live-range analysis.
// It stays unchanged when the physical register is written.
func (d *PortDescriptor) AbstractReg() Reg { return d.abstract }

// SetAbstractReg assigns the abstract register (and the current one).
func (d *PortDescriptor) SetAbstractReg(r Reg) {
	d.abstract = r
	d.reg = r
}

// SetReg overwrites the current register, typically with a physical one.
func (d *PortDescriptor) SetReg(r Reg) { d.reg = r }

// Clone returns a copy without registers.
func (d *PortDescriptor) Clone() *PortDescriptor {
	return NewPortDescriptor(d.shape)
}

// ExpressionPort references one input or output of an expression.
type ExpressionPort struct {
	Expr  *Expression
	Type  PortType
	Index int
}

// Descriptor returns the port descriptor behind this port.
func (p ExpressionPort) Descriptor() *PortDescriptor {
	if p.Type == Output {
		return p.Expr.OutputDesc(p.Index)
	}
	return p.Expr.InputDesc(p.Index)
}

// Connector returns the connector attached to this port.
func (p ExpressionPort) Connector() *PortConnector {
	if p.Type == Output {
		return p.Expr.Output(p.Index)
	}
	return p.Expr.Input(p.Index)
}

// PortConnector links one output port to all the input ports consuming it.
//
// Connectors created by cloning a loop body can alias the connector they were
// cloned from: all connectors of an alias group carry the same value and are
// given the same register.
type PortConnector struct {
	source    ExpressionPort
	consumers []ExpressionPort
	root      *PortConnector
	aliases   []*PortConnector
}

// Root returns the connector heading the alias group of c.
func (c *PortConnector) Root() *PortConnector {
	if c.root != nil {
		return c.root
	}
	return c
}

// Group returns every connector of the alias group of c, root first.
func (c *PortConnector) Group() []*PortConnector {
	root := c.Root()
	return append([]*PortConnector{root}, root.aliases...)
}

// AliasOf makes c share the value of other.
func (c *PortConnector) AliasOf(other *PortConnector) {
	if c.root != nil || len(c.aliases) > 0 {
		exceptions.Panicf("PortConnector(%s).AliasOf(%s): connector already belongs to an alias group",
			c.source.Expr.name, other.source.Expr.name)
	}
	root := other.Root()
	if root == c {
		return
	}
	c.root = root
	root.aliases = append(root.aliases, c)
}

// Source returns the output port producing the value.
func (c *PortConnector) Source() ExpressionPort { return c.source }

// Consumers returns the input ports consuming the value, in insertion order.
func (c *PortConnector) Consumers() []ExpressionPort { return c.consumers }

// AddConsumer registers an input port as a consumer.
func (c *PortConnector) AddConsumer(p ExpressionPort) {
	c.consumers = append(c.consumers, p)
}

// RemoveConsumer unregisters an input port.
func (c *PortConnector) RemoveConsumer(p ExpressionPort) {
	c.consumers = slices.DeleteFunc(c.consumers, func(q ExpressionPort) bool { return q == p })
}

// Expression is one operation instance in the Linear IR.
type Expression struct {
	name     string
	kind     string
	role     Role
	dtype    dtypes.DType
	inputs   []*PortConnector
	inDescs  []*PortDescriptor
	outputs  []*PortConnector
	outDescs []*PortDescriptor
	execNum  int
	loopIDs  []int
	regGroup int
	loopID   int
	regs     RegSet
}

// NewExpression creates an expression consuming the given connectors.
// The expression is registered as a consumer of each input.
func NewExpression(name string, op Op, inputs ...*PortConnector) *Expression {
	role := op.Role
	if role == RoleOp {
		role = RoleForKind(op.Kind)
	}
	e := &Expression{
		name:     name,
		kind:     op.Kind,
		role:     role,
		dtype:    op.DType,
		execNum:  -1,
		regGroup: op.RegGroup,
		loopID:   op.LoopID,
	}
	if op.Regs != nil {
		e.regs = op.Regs.Copy()
	}
	for i, in := range inputs {
		if in == nil {
			exceptions.Panicf("NewExpression(%s): input #%d is nil", name, i)
		}
		e.inputs = append(e.inputs, in)
		e.inDescs = append(e.inDescs, NewPortDescriptor(in.source.Descriptor().Shape()))
		in.AddConsumer(ExpressionPort{Expr: e, Type: Input, Index: i})
	}
	for i := 0; i < op.NumOutputs; i++ {
		e.outputs = append(e.outputs, &PortConnector{source: ExpressionPort{Expr: e, Type: Output, Index: i}})
		e.outDescs = append(e.outDescs, NewPortDescriptor(op.Shape))
	}
	return e
}

// Name returns the expression name (unique within a LinearIR)
func (e *Expression) Name() string { return e.name }

// Kind returns the operation kind name
func (e *Expression) Kind() string { return e.kind }

// Role returns the structural role
func (e *Expression) Role() Role { return e.role }

// DType returns the element type of the outputs
func (e *Expression) DType() dtypes.DType { return e.dtype }

// NumInputs returns the number of inputs
func (e *Expression) NumInputs() int { return len(e.inputs) }

// NumOutputs returns the number of outputs
func (e *Expression) NumOutputs() int { return len(e.outputs) }

// Input returns the connector feeding input i
func (e *Expression) Input(i int) *PortConnector {
	if i < 0 || i >= len(e.inputs) {
		exceptions.Panicf("Expression(%s).Input(%d): out of range, expression has %d inputs", e.name, i, len(e.inputs))
	}
	return e.inputs[i]
}

// Output returns the connector of output i
func (e *Expression) Output(i int) *PortConnector {
	if i < 0 || i >= len(e.outputs) {
		exceptions.Panicf("Expression(%s).Output(%d): out of range, expression has %d outputs", e.name, i, len(e.outputs))
	}
	return e.outputs[i]
}

// Inputs returns all input connectors
func (e *Expression) Inputs() []*PortConnector { return e.inputs }

// Outputs returns all output connectors
func (e *Expression) Outputs() []*PortConnector { return e.outputs }

// InputDesc returns the descriptor of input i
func (e *Expression) InputDesc(i int) *PortDescriptor {
	if i < 0 || i >= len(e.inDescs) {
		exceptions.Panicf("Expression(%s).InputDesc(%d): out of range, expression has %d inputs", e.name, i, len(e.inDescs))
	}
	return e.inDescs[i]
}

// OutputDesc returns the descriptor of output i
func (e *Expression) OutputDesc(i int) *PortDescriptor {
	if i < 0 || i >= len(e.outDescs) {
		exceptions.Panicf("Expression(%s).OutputDesc(%d): out of range, expression has %d outputs", e.name, i, len(e.outDescs))
	}
	return e.outDescs[i]
}

// InputDescs returns all input descriptors
func (e *Expression) InputDescs() []*PortDescriptor { return e.inDescs }

// OutputDescs returns all output descriptors
func (e *Expression) OutputDescs() []*PortDescriptor { return e.outDescs }

// InputPort returns the ExpressionPort of input i
func (e *Expression) InputPort(i int) ExpressionPort {
	return ExpressionPort{Expr: e, Type: Input, Index: i}
}

// OutputPort returns the ExpressionPort of output i
func (e *Expression) OutputPort(i int) ExpressionPort {
	return ExpressionPort{Expr: e, Type: Output, Index: i}
}

// ExecNum returns the execution-order index, -1 before enumeration
func (e *Expression) ExecNum() int { return e.execNum }

// LoopIDs returns the ids of the loops enclosing the expression, outermost first.
// Loop markers do not list their own loop.
func (e *Expression) LoopIDs() []int { return e.loopIDs }

// SetLoopIDs replaces the enclosing loop ids
func (e *Expression) SetLoopIDs(ids []int) { e.loopIDs = slices.Clone(ids) }

// RegGroup returns the register group of a buffer
func (e *Expression) RegGroup() int { return e.regGroup }

// LoopID returns the loop a LoopBegin/LoopEnd marker belongs to
func (e *Expression) LoopID() int { return e.loopID }

// SetLoopID rebinds a loop marker to another loop
func (e *Expression) SetLoopID(id int) { e.loopID = id }

// SpillRegs returns the registers a spill marker saves/restores
func (e *Expression) SpillRegs() RegSet { return e.regs }

// Clone creates a copy of the expression (same op, fresh outputs, no registers)
// consuming the given inputs.
func (e *Expression) Clone(name string, inputs []*PortConnector) *Expression {
	if len(inputs) != len(e.inputs) {
		exceptions.Panicf("Expression(%s).Clone: got %d inputs, expected %d", e.name, len(inputs), len(e.inputs))
	}
	var shape []int
	if len(e.outDescs) > 0 {
		shape = e.outDescs[0].Shape()
	}
	c := NewExpression(name, Op{
		Kind:       e.kind,
		Role:       e.role,
		DType:      e.dtype,
		Shape:      shape,
		NumOutputs: len(e.outputs),
		RegGroup:   e.regGroup,
		LoopID:     e.loopID,
		Regs:       e.regs,
	}, inputs...)
	for i, d := range e.outDescs {
		c.outDescs[i] = d.Clone()
	}
	for i, d := range e.inDescs {
		c.inDescs[i] = d.Clone()
	}
	c.loopIDs = slices.Clone(e.loopIDs)
	return c
}

func (e *Expression) String() string { return e.name }
