package base

import (
	"fmt"
	"strings"

	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
)

// Padding modes of Conv2d.
type Padding int

const (
	Same Padding = iota
	Valid
)

func (p Padding) String() string {
	switch p {
	case Same:
		return "same"
	case Valid:
		return "valid"
	default:
		return fmt.Sprintf("Padding(%d)", int(p))
	}
}

// ConvConfig configures a Conv2d layer.
type ConvConfig struct {
	Filters    int64
	KernelSize int64
	Strides    int64
	Dilation   int64
	Padding    Padding
	UseBias    bool
	// UseBatchNorm inserts batch normalization between conv and activation.
	UseBatchNorm bool
	Activation   Activation
	Initializer  Initializer
	Regularizer  Regularizer
	// Name of the layer under the caller's scope. Defaults to "conv2d".
	Name string
}

// DefaultConvConfig returns a stride 1, same-padded, biased convolution
// without activation.
func DefaultConvConfig(filters, ksize int64) ConvConfig {
	return ConvConfig{
		Filters:    filters,
		KernelSize: ksize,
		Strides:    1,
		Dilation:   1,
		Padding:    Same,
		UseBias:    true,
	}
}

// Conv2d appends a 2D convolution to x under scope, optionally followed by
// batch normalization and an activation.
//
// All options are checked before any variable is created, so a failing
// call leaves the var store untouched. Kernel penalties are registered in
// the graph.RegularizationLosses collection scaled by the model weight decay.
func (m *SuperResolution) Conv2d(scope *graph.Graph, x *graph.Node, cfg ConvConfig) (*graph.Node, error) {
	if cfg.Filters <= 0 || cfg.KernelSize <= 0 {
		return nil, fmt.Errorf("conv2d: filters and kernel size must be positive, got %v and %v", cfg.Filters, cfg.KernelSize)
	}
	if cfg.Strides <= 0 {
		cfg.Strides = 1
	}
	if cfg.Dilation <= 0 {
		cfg.Dilation = 1
	}
	if cfg.Name == "" {
		cfg.Name = "conv2d"
	}

	// Same padding splits (k-1)*dilation over both sides, the extra pixel
	// going to the bottom and right when the total is odd.
	var pad, before, after int64
	switch cfg.Padding {
	case Same:
		total := (cfg.KernelSize - 1) * cfg.Dilation
		before, after = total/2, total-total/2
		if before == after {
			pad = before
		}
	case Valid:
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidPadding, cfg.Padding)
	}
	init, err := cfg.Initializer.Resolve()
	if err != nil {
		return nil, err
	}
	penalty, err := cfg.Regularizer.resolve(m.weightDecay)
	if err != nil {
		return nil, err
	}
	if err := cfg.Activation.validate(); err != nil {
		return nil, err
	}

	name := scope.UniqueName(cfg.Name)
	p := m.path(name)

	config := nn.DefaultConv2DConfig()
	config.Stride = []int64{cfg.Strides, cfg.Strides}
	config.Padding = []int64{pad, pad}
	config.Dilation = []int64{cfg.Dilation, cfg.Dilation}
	config.Bias = cfg.UseBias
	config.WsInit = init
	conv := nn.NewConv2D(p, x.Channels(), cfg.Filters, cfg.KernelSize, config)

	// Nodes below are named relative to the unique layer name.
	layer := m.Graph.Scope(name)
	if before != after {
		x = graph.Pad(layer, "pad", x, [4]int64{before, after, before, after})
	}
	out := graph.Conv2D(layer, "conv", x, conv, cfg.Filters, cfg.KernelSize, cfg.UseBias).
		WithAttr("padding_mode", cfg.Padding.String())

	if penalty != nil {
		reg := layer.NewNode("Regularizer", "kernel_regularizer", func(_ *graph.Run, _ []*ts.Tensor) (*ts.Tensor, error) {
			return penalty(conv.Ws), nil
		})
		reg.WithChannels(1).MarkTraining()
		m.Graph.AddToCollection(graph.RegularizationLosses, reg)
	}

	if cfg.UseBatchNorm {
		bnCfg := nn.DefaultBatchNormConfig()
		bn := nn.BatchNorm2D(p.Sub("bn"), cfg.Filters, bnCfg)
		out = graph.BatchNorm(layer, "batch_norm", out, bn, bnCfg.Eps)
	}

	switch cfg.Activation.Kind {
	case NoActivation:
	case ReluActivation:
		out = graph.Relu(layer, "relu", out)
	case TanhActivation:
		out = graph.Tanh(layer, "tanh", out)
	case CustomActivation:
		out = graph.Apply(layer, "activation", out, cfg.Activation.Custom)
	}
	return out, nil
}

// path returns the var store path mirroring a node name.
func (m *SuperResolution) path(name string) *nn.Path {
	p := m.Session.VarStore().Root()
	for _, part := range strings.Split(name, "/") {
		p = p.Sub(part)
	}
	return p
}
