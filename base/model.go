// Package base provides the lifecycle shared by super-resolution models:
// standard inputs, compilation, batched train/validate/test calls and export.
//
// A concrete model embeds *SuperResolution and implements Builder:
//
//	type Espcn struct{ *base.SuperResolution }
//	func (m *Espcn) BuildGraph() error   { ... }
//	func (m *Espcn) BuildLoss() error    { ... }
//	func (m *Espcn) BuildSummary() error { ... }
//
// then calls Compile once before feeding batches.
package base

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
	"github.com/sugarme/vsr/summary"
)

// State is the lifecycle state of a model.
type State int

const (
	Uninitialized State = iota
	Compiled
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Compiled:
		return "compiled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Builder is implemented by concrete architectures. Compile invokes the
// three steps in order.
type Builder interface {
	BuildGraph() error
	BuildLoss() error
	BuildSummary() error
}

// Model is a Builder backed by the shared SuperResolution state.
type Model interface {
	Builder
	Base() *SuperResolution
}

// SuperResolution holds the graph state shared by every architecture.
//
// Inputs, InputsPreproc, Label, Outputs and Loss are ordered: batch calls
// bind the i-th fed array to Inputs[i] (or Label[i]).
type SuperResolution struct {
	Graph   *graph.Graph
	Session *graph.Session

	Inputs        []*graph.Node
	InputsPreproc []*graph.Node
	Label         []*graph.Node
	Outputs       []*graph.Node
	Loss          []*graph.Node
	Metrics       *MetricSet
	SummaryOp     *graph.Node

	name        string
	scale       [2]int64
	weightDecay float64
	rgba        bool
	extra       Extra
	logger      *log.Logger

	globalStep int64
	state      State
}

// New creates an uncompiled model.
func New(opts Options) (*SuperResolution, error) {
	scale, err := NormalizeScale(opts.Scale)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	name := opts.Name
	if name == "" {
		name = DefaultName
	}

	return &SuperResolution{
		Graph:       graph.New(),
		Session:     graph.NewSession(opts.Device),
		Metrics:     NewMetricSet(),
		name:        name,
		scale:       scale,
		weightDecay: opts.WeightDecay,
		rgba:        opts.RGBInput,
		extra:       opts.Extra,
		logger:      logger,
	}, nil
}

// Base returns m. Architectures embedding *SuperResolution inherit it.
func (m *SuperResolution) Base() *SuperResolution { return m }

func (m *SuperResolution) Name() string {
	return m.name
}

// Scale returns the [height, width] upscaling factors.
func (m *SuperResolution) Scale() [2]int64 {
	return m.scale
}

func (m *SuperResolution) WeightDecay() float64 {
	return m.weightDecay
}

// RGBInput reports whether the model takes RGBA input.
func (m *SuperResolution) RGBInput() bool {
	return m.rgba
}

func (m *SuperResolution) State() State {
	return m.state
}

func (m *SuperResolution) Logger() *log.Logger {
	return m.logger
}

// Option returns the extra option called name, or nil.
func (m *SuperResolution) Option(name string) interface{} {
	return m.extra.Get(name)
}

// Extra returns all extra options.
func (m *SuperResolution) Extra() Extra {
	return m.extra
}

// GlobalStep returns the number of optimizer steps taken.
func (m *SuperResolution) GlobalStep() int64 {
	return m.globalStep
}

// Compiled reports whether Compile has run.
func (m *SuperResolution) Compiled() bool {
	return m.state == Compiled
}

// Compile builds graph, loss and summaries of m exactly once.
func Compile(m Model) error {
	b := m.Base()
	if b.state == Compiled {
		return ErrAlreadyCompiled
	}
	if err := m.BuildGraph(); err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	if err := m.BuildLoss(); err != nil {
		return fmt.Errorf("build loss: %w", err)
	}
	if err := m.BuildSummary(); err != nil {
		return fmt.Errorf("build summary: %w", err)
	}
	b.SummaryOp = summary.MergeAll(b.Graph)
	b.state = Compiled
	return nil
}

// BuildGraph creates the standard inputs:
//   - grayscale: one uint8 1-channel placeholder, preprocessed by a float cast.
//   - RGBA: one uint8 4-channel placeholder. RGB/255 is converted to YUV and
//     alpha is dropped. InputsPreproc[0] is UV (about [-0.5, 0.5]) and
//     InputsPreproc[1] is Y scaled back to [0, 255].
//
// Architectures call it first and build on InputsPreproc.
func (m *SuperResolution) BuildGraph() error {
	g := m.Graph
	if !m.rgba {
		in := g.Placeholder("input/lr/gray", gotch.Uint8, 1)
		m.Inputs = append(m.Inputs, in)
		m.InputsPreproc = append(m.InputsPreproc, graph.Cast(g, "cast/lr/gray_float", in, gotch.Float))
		return nil
	}

	in := g.Placeholder("input/lr/rgba", gotch.Uint8, 4)
	m.Inputs = append(m.Inputs, in)
	x := graph.Cast(g, "cast/lr/rgba_float", in, gotch.Float)
	x = graph.Scale(g, "normalize/lr/rgba", x, 1.0/255)
	rgb := graph.Slice(g, "discard_alpha", x, 0, 3)
	yuv := graph.RGBToYUV(g, "rgb_to_yuv", rgb)
	uv := graph.Slice(g, "input/lr/uv", yuv, 1, 2)
	y := graph.Slice(g, "input/lr/y", yuv, 0, 1)
	m.InputsPreproc = append(m.InputsPreproc, uv, graph.Scale(g, "input/lr/y_scaled", y, 255))
	return nil
}

// Describe writes a banner naming the model.
func (m *SuperResolution) Describe(w io.Writer) {
	fmt.Fprintln(w, "===================================")
	fmt.Fprintf(w, "Training model: %v\n", strings.ToUpper(m.name))
	fmt.Fprintln(w, "===================================")
}

// RegularizationLosses returns the weight penalties registered by Conv2d.
func (m *SuperResolution) RegularizationLosses() []*graph.Node {
	return m.Graph.Collection(graph.RegularizationLosses)
}

// Minimize returns a training node that evaluates loss, takes one Adam step
// at the run's learning rate and increments the global step. The optimizer
// covers the variables created so far, so call it after the graph is built.
func (m *SuperResolution) Minimize(g *graph.Graph, loss *graph.Node) (*graph.Node, error) {
	opt, err := nn.DefaultAdamConfig().Build(m.Session.VarStore(), 1e-3)
	if err != nil {
		return nil, err
	}
	n := g.NewNode("Minimize", "minimize", func(r *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		if !r.Training() {
			return nil, fmt.Errorf("minimize: not a training run")
		}
		opt.SetLR(r.LearningRate())
		opt.BackwardStep(in[0])
		m.globalStep++
		return in[0].MustDetach(false), nil
	}, loss)
	return n.MarkTraining(), nil
}

// Save writes all variables to path.
func (m *SuperResolution) Save(path string) error {
	return m.Session.VarStore().Save(path)
}

// Load restores variables written by Save. The model must be compiled so
// that its variables exist.
func (m *SuperResolution) Load(path string) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.Session.VarStore().Load(path)
}

func (m *SuperResolution) ready() error {
	if m.state != Compiled {
		return ErrNotCompiled
	}
	return nil
}
