package espcn

import (
	"fmt"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/base"
	"github.com/sugarme/vsr/graph"
	"github.com/sugarme/vsr/metric"
	"github.com/sugarme/vsr/summary"
)

// TVDecay weights the total variation of the prediction in the loss.
const TVDecay = 1e-4

// MaxPixel is the dynamic range used by psnr and ssim.
const MaxPixel = 255.0

// Config holds ESPCN hyper parameters.
type Config struct {
	// Layers is the total number of convolutions, at least 2.
	Layers int
	// Name scopes the network's nodes and variables.
	Name string
}

// DefaultConfig returns a 3-layer network named "espcn".
func DefaultConfig() Config {
	return Config{Layers: 3, Name: "espcn"}
}

// Espcn is an efficient sub-pixel convolutional network.
// Ref. https://arxiv.org/abs/1609.05158
type Espcn struct {
	*base.SuperResolution
	layers int
	scope  string
}

// New creates an uncompiled ESPCN model. The extra options "layers" (int)
// and "tv_decay" (float64) are honoured if present. An empty model name
// is replaced by cfg.Name.
func New(opts base.Options, cfg Config) (*Espcn, error) {
	if cfg.Name == "" {
		cfg.Name = "espcn"
	}
	cfg.Layers = opts.Extra.GetInt("layers", cfg.Layers)
	if cfg.Layers < 2 {
		return nil, fmt.Errorf("espcn: need at least 2 layers, got %v", cfg.Layers)
	}
	if opts.Name == "" {
		opts.Name = cfg.Name
	}
	sr, err := base.New(opts)
	if err != nil {
		return nil, err
	}
	return &Espcn{
		SuperResolution: sr,
		layers:          cfg.Layers,
		scope:           cfg.Name,
	}, nil
}

// Layers returns the number of convolutions.
func (m *Espcn) Layers() int {
	return m.layers
}

// Compile builds the model and returns it for chaining.
func (m *Espcn) Compile() (*Espcn, error) {
	if err := base.Compile(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Espcn) conv(g *graph.Graph, x *graph.Node, filters, ksize int64, act base.Activation) (*graph.Node, error) {
	cfg := base.DefaultConvConfig(filters, ksize)
	cfg.Activation = act
	cfg.Initializer = base.HeNormal()
	cfg.Regularizer = base.L2()
	return m.Conv2d(g, x, cfg)
}

// BuildGraph stacks a 5x5 conv with 64 filters, Layers-2 3x3 convs with
// 32 filters and a final 3x3 conv producing scale[0]*scale[1] channels,
// which are pixel shifted into a single upscaled channel.
func (m *Espcn) BuildGraph() error {
	if err := m.SuperResolution.BuildGraph(); err != nil {
		return err
	}
	g := m.Graph.Scope(m.scope)
	scale := m.Scale()

	x, err := m.conv(g, m.InputsPreproc[len(m.InputsPreproc)-1], 64, 5, base.Tanh())
	if err != nil {
		return err
	}
	for i := 1; i < m.layers-1; i++ {
		if x, err = m.conv(g, x, 32, 3, base.Tanh()); err != nil {
			return err
		}
	}
	if x, err = m.conv(g, x, scale[0]*scale[1], 3, base.Activation{}); err != nil {
		return err
	}
	m.Outputs = append(m.Outputs, graph.PixelShift(g, "pixel_shift", x, scale[0], scale[1], 1))
	return nil
}

func train(n *graph.Node) *graph.Node {
	return n.WithChannels(1).MarkTraining()
}

// BuildLoss minimizes mse + weight penalties + TVDecay*mean(tv) with Adam
// and registers the mse, regularization, psnr and ssim metrics.
func (m *Espcn) BuildLoss() error {
	g := m.Graph.Scope("loss")
	tvDecay := m.Extra().GetFloat("tv_decay", TVDecay)

	lp := g.Placeholder("label/gray", gotch.Uint8, 1)
	m.Label = append(m.Label, lp)
	yTrue := graph.Cast(g, "label/gray_float", lp, gotch.Float)
	yPred := m.Outputs[len(m.Outputs)-1]

	mse := train(g.NewNode("MeanSquaredError", "mse", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return metric.MSE(in[0], in[1])
	}, yTrue, yPred))

	tv := train(g.NewNode("TotalVariation", "tv", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		v := metric.TotalVariation(in[0])
		mean := v.MustMean(gotch.Float, true)
		return mean.MustMul1(ts.FloatScalar(tvDecay), true), nil
	}, yPred))

	terms := append(append([]*graph.Node{}, m.RegularizationLosses()...), tv)
	regular := train(g.NewNode("AddN", "regularization", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		sum := in[0].MustShallowClone()
		for _, x := range in[1:] {
			sum = sum.MustAdd(x, true)
		}
		return sum, nil
	}, terms...))

	loss := train(g.NewNode("Add", "total", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustAdd(in[1], false), nil
	}, mse, regular))

	step, err := m.Minimize(g, loss)
	if err != nil {
		return err
	}
	m.Loss = append(m.Loss, step)

	psnr := train(g.NewNode("PSNR", "psnr", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return metric.PSNR(in[0], in[1], MaxPixel)
	}, yTrue, yPred))
	ssim := train(g.NewNode("SSIM", "ssim", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return metric.SSIM(in[0], in[1], MaxPixel)
	}, yTrue, yPred))

	m.Metrics.Add("mse", mse)
	m.Metrics.Add("regularization", regular)
	m.Metrics.Add("psnr", psnr)
	m.Metrics.Add("ssim", ssim)
	return nil
}

// BuildSummary records mse, regularization and the batch means of psnr and ssim.
func (m *Espcn) BuildSummary() error {
	for _, s := range []struct{ tag, metric string }{
		{"loss/mse", "mse"},
		{"loss/regularization", "regularization"},
		{"psnr", "psnr"},
		{"ssim", "ssim"},
	} {
		n, ok := m.Metrics.Node(s.metric)
		if !ok {
			return fmt.Errorf("espcn: missing metric %q", s.metric)
		}
		summary.Scalar(m.Graph, s.tag, n)
	}
	return nil
}
