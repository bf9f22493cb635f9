package lir

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
)

// LinearIR is a flat, execution-ordered list of expressions with explicit
// loop markers. Loops are described by the LoopManager.
type LinearIR struct {
	Name string

	exprs []*Expression
	names map[string]*Expression
	loops *LoopManager
	seq   int
}

// New creates an empty Linear IR
func New(name string) *LinearIR {
	return &LinearIR{
		Name:  name,
		names: make(map[string]*Expression),
		loops: NewLoopManager(),
	}
}

// LoopManager returns the loop registry of the program
func (ir *LinearIR) LoopManager() *LoopManager { return ir.loops }

// Expressions returns the expressions in execution order
func (ir *LinearIR) Expressions() []*Expression { return ir.exprs }

// Len returns the number of expressions
func (ir *LinearIR) Len() int { return len(ir.exprs) }

// At returns the expression at position i
func (ir *LinearIR) At(i int) *Expression { return ir.exprs[i] }

// Expr returns the expression with the given name, or nil
func (ir *LinearIR) Expr(name string) *Expression { return ir.names[name] }

// Index returns the position of e, or -1 if e is not part of the program.
func (ir *LinearIR) Index(e *Expression) int {
	return slices.Index(ir.exprs, e)
}

// UniqueName returns a name derived from base that no expression uses yet.
// Successive calls never return the same derived name.
func (ir *LinearIR) UniqueName(base string) string {
	if _, found := ir.names[base]; !found {
		return base
	}
	for {
		ir.seq++
		name := fmt.Sprintf("%s_%d", base, ir.seq)
		if _, found := ir.names[name]; !found {
			return name
		}
	}
}

func (ir *LinearIR) register(e *Expression) {
	if _, found := ir.names[e.name]; found {
		exceptions.Panicf("LinearIR(%s): duplicate expression name %q", ir.Name, e.name)
	}
	ir.names[e.name] = e
}

// Add appends a new expression built from op and returns it.
func (ir *LinearIR) Add(name string, op Op, inputs ...*PortConnector) *Expression {
	e := NewExpression(name, op, inputs...)
	ir.Append(e)
	return e
}

// Append adds already built expressions at the end of the program.
func (ir *LinearIR) Append(exprs ...*Expression) {
	for _, e := range exprs {
		ir.register(e)
	}
	ir.exprs = append(ir.exprs, exprs...)
}

// InsertAt inserts expressions so that the first of them ends up at position pos.
func (ir *LinearIR) InsertAt(pos int, exprs ...*Expression) {
	if pos < 0 || pos > len(ir.exprs) {
		exceptions.Panicf("LinearIR(%s).InsertAt(%d): position out of range [0, %d]", ir.Name, pos, len(ir.exprs))
	}
	for _, e := range exprs {
		ir.register(e)
	}
	ir.exprs = slices.Insert(ir.exprs, pos, exprs...)
}

// Enumerate assigns execution numbers following the current order.
func (ir *LinearIR) Enumerate() {
	for i, e := range ir.exprs {
		e.execNum = i
	}
}

// Parameters returns the parameter expressions in program order.
func (ir *LinearIR) Parameters() []*Expression { return ir.byRole(RoleParameter) }

// Results returns the result expressions in program order.
func (ir *LinearIR) Results() []*Expression { return ir.byRole(RoleResult) }

// Buffers returns the buffer expressions in program order.
func (ir *LinearIR) Buffers() []*Expression { return ir.byRole(RoleBuffer) }

func (ir *LinearIR) byRole(role Role) []*Expression {
	var out []*Expression
	for _, e := range ir.exprs {
		if e.role == role {
			out = append(out, e)
		}
	}
	return out
}

// ExpressionMap maps original expressions to their clones.
type ExpressionMap map[*Expression]*Expression

// Lookup returns the mapped expression, or e itself when e was not cloned.
func (m ExpressionMap) Lookup(e *Expression) *Expression {
	if c, found := m[e]; found {
		return c
	}
	return e
}

// CloneRange clones the expressions at [begin, end) and returns the clones and
// the mapping. Inputs produced inside the range are rewired to the cloned
// producers, inputs produced outside keep their original connector. Outputs
// consumed after the range alias the original output, so both copies write the
// same register.
// The clones are not inserted into the program.
func (ir *LinearIR) CloneRange(begin, end int) ([]*Expression, ExpressionMap) {
	inRange := make(map[*Expression]bool, end-begin)
	for _, e := range ir.exprs[begin:end] {
		inRange[e] = true
	}
	mapping := make(ExpressionMap, end-begin)
	clones := make([]*Expression, 0, end-begin)
	for _, e := range ir.exprs[begin:end] {
		inputs := make([]*PortConnector, len(e.inputs))
		for i, in := range e.inputs {
			src := in.source
			if c, found := mapping[src.Expr]; found {
				inputs[i] = c.outputs[src.Index]
			} else {
				inputs[i] = in
			}
		}
		c := e.Clone(ir.UniqueName(e.name), inputs)
		for i, out := range e.outputs {
			for _, consumer := range out.consumers {
				if !inRange[consumer.Expr] {
					c.outputs[i].AliasOf(out)
					break
				}
			}
		}
		mapping[e] = c
		clones = append(clones, c)
	}
	return clones, mapping
}

// ShapeInferConsumers returns the chain of shape-infer expressions that
// directly follow e through its first output, in chain order.
func ShapeInferConsumers(e *Expression) []*Expression {
	var chain []*Expression
	for cur := e; cur.NumOutputs() > 0; {
		var next *Expression
		for _, c := range cur.outputs[0].consumers {
			if c.Expr.role == RoleShapeInfer {
				next = c.Expr
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}

// ShapeInferProducers returns the chain of shape-infer expressions that
// directly precede e through its first input, nearest first.
func ShapeInferProducers(e *Expression) []*Expression {
	var chain []*Expression
	for cur := e; cur.NumInputs() > 0; {
		prev := cur.inputs[0].source.Expr
		if prev.role != RoleShapeInfer {
			break
		}
		chain = append(chain, prev)
		cur = prev
	}
	return chain
}
