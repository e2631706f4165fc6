// Package graph declares computations over gotch tensors as a graph of nodes
// that a Session evaluates against a Feed of placeholder bindings.
//
// gotch executes eagerly. A Node only records how to compute its value from
// the values of its inputs, so a model is described once (at compile time)
// and evaluated many times with different batches. Nodes work in NCHW layout;
// placeholders accept NHWC batches and permute on entry.
package graph

import (
	"fmt"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// Well-known collection keys.
const (
	RegularizationLosses = "regularization_losses"
	Summaries            = "summaries"
)

// EvalFunc computes a node value from the evaluated values of its inputs.
// Input tensors are owned by the Run and must not be dropped.
type EvalFunc func(r *Run, inputs []*ts.Tensor) (*ts.Tensor, error)

// Attr is a static node attribute. Value is one of int64, []int64, float64,
// string, []string or bool.
type Attr struct {
	Key   string
	Value interface{}
}

// Param is a named variable a node reads. Freezing turns params into constants.
type Param struct {
	Name   string
	Tensor *ts.Tensor
}

// Node is a single operation in a Graph.
type Node struct {
	name     string
	op       string
	inputs   []*Node
	channels int64
	dtype    gotch.DType
	attrs    []Attr
	params   []Param
	training bool
	eval     EvalFunc
}

// Name returns the full, scoped node name.
func (n *Node) Name() string {
	return n.name
}

// Op returns the op type.
func (n *Node) Op() string {
	return n.op
}

func (n *Node) Inputs() []*Node {
	return n.inputs
}

// Channels returns the static channel count of n's value.
func (n *Node) Channels() int64 {
	return n.channels
}

func (n *Node) DType() gotch.DType {
	return n.dtype
}

func (n *Node) Attrs() []Attr {
	return n.attrs
}

func (n *Node) Params() []Param {
	return n.params
}

// TrainingOnly reports whether n was marked with MarkTraining.
func (n *Node) TrainingOnly() bool {
	return n.training
}

// Attr returns the value of attribute key.
func (n *Node) Attr(key string) (interface{}, bool) {
	for _, a := range n.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// WithAttr appends a static attribute and returns n.
func (n *Node) WithAttr(key string, value interface{}) *Node {
	n.attrs = append(n.attrs, Attr{key, value})
	return n
}

// WithParam registers a variable read by n and returns n.
func (n *Node) WithParam(name string, t *ts.Tensor) *Node {
	n.params = append(n.params, Param{name, t})
	return n
}

// WithChannels sets the static channel count of n's value.
func (n *Node) WithChannels(c int64) *Node {
	n.channels = c
	return n
}

// MarkTraining flags n as used only for training (losses, optimizer steps,
// metrics, summaries). Freeze never exports such nodes.
func (n *Node) MarkTraining() *Node {
	n.training = true
	return n
}

func (n *Node) String() string {
	return fmt.Sprintf("%v(%v)", n.op, n.name)
}

// state is shared by a graph and all its scopes.
type state struct {
	nodes       []*Node
	used        map[string]int
	collections map[string][]*Node
}

// Graph is a name scope over a shared set of nodes.
type Graph struct {
	prefix string
	st     *state
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		st: &state{
			used:        make(map[string]int),
			collections: make(map[string][]*Node),
		},
	}
}

// Scope returns a view of g whose new nodes are named under name.
func (g *Graph) Scope(name string) *Graph {
	return &Graph{prefix: g.join(name), st: g.st}
}

// Prefix returns the scope path of g ("" for the root).
func (g *Graph) Prefix() string {
	return g.prefix
}

func (g *Graph) join(name string) string {
	if g.prefix == "" {
		return name
	}
	return g.prefix + "/" + name
}

// UniqueName returns a node name under g's scope that has not been used
// yet, suffixing "_1", "_2"... on repeats.
func (g *Graph) UniqueName(name string) string {
	full := g.join(name)
	count, ok := g.st.used[full]
	g.st.used[full] = count + 1
	if !ok {
		return full
	}
	return fmt.Sprintf("%v_%d", full, count)
}

// NewNode adds a node with op type op evaluated by eval. The new node inherits
// the channel count and dtype of its first input; use WithChannels to change it.
func (g *Graph) NewNode(op, name string, eval EvalFunc, inputs ...*Node) *Node {
	if name == "" {
		name = op
	}
	n := &Node{
		name:   g.UniqueName(name),
		op:     op,
		inputs: inputs,
		eval:   eval,
		dtype:  gotch.Float,
	}
	if len(inputs) > 0 {
		n.channels = inputs[0].channels
		n.dtype = inputs[0].dtype
	}
	g.st.nodes = append(g.st.nodes, n)
	return n
}

// Nodes returns every node in creation order.
func (g *Graph) Nodes() []*Node {
	return g.st.nodes
}

// Node finds a node by its full name.
func (g *Graph) Node(name string) (*Node, bool) {
	for _, n := range g.st.nodes {
		if n.name == name {
			return n, true
		}
	}
	return nil, false
}

// AddToCollection appends n to the named collection.
func (g *Graph) AddToCollection(key string, n *Node) {
	g.st.collections[key] = append(g.st.collections[key], n)
}

// Collection returns the nodes registered under key in insertion order.
func (g *Graph) Collection(key string) []*Node {
	return g.st.collections[key]
}

// Placeholder declares an NHWC input slot with a fixed channel count.
// Its value is the fed batch permuted to NCHW.
func (g *Graph) Placeholder(name string, dtype gotch.DType, channels int64) *Node {
	n := g.NewNode(OpPlaceholder, name, nil)
	n.channels = channels
	n.dtype = dtype
	n.WithAttr("dtype", dtype.String()).WithAttr("layout", "NHWC")
	n.eval = func(r *Run, _ []*ts.Tensor) (*ts.Tensor, error) {
		x, ok := r.feed.values[n]
		if !ok {
			return nil, fmt.Errorf("placeholder %q: %w", n.name, ErrNotFed)
		}
		size := x.MustSize()
		if len(size) != 4 {
			return nil, fmt.Errorf("placeholder %q: expected 4D NHWC tensor, got shape %v", n.name, size)
		}
		if size[3] != channels {
			return nil, fmt.Errorf("placeholder %q: expected %v channels, got shape %v", n.name, channels, size)
		}
		if x.DType() != dtype {
			return nil, fmt.Errorf("placeholder %q: expected dtype %v, got %v", n.name, dtype, x.DType())
		}
		nchw := x.MustPermute([]int64{0, 3, 1, 2}, false)
		if r.device != gotch.CPU {
			return nchw.MustTo(r.device, true), nil
		}
		return nchw, nil
	}
	return n
}

// IsPlaceholder reports whether n is a feedable slot.
func IsPlaceholder(n *Node) bool {
	return n != nil && n.op == OpPlaceholder
}
