package graph

import (
	"fmt"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

// Op types understood by Freeze.
const (
	OpPlaceholder = "Placeholder"
	OpCast        = "Cast"
	OpIdentity    = "Identity"
	OpScale       = "Scale"
	OpSlice       = "Slice"
	OpRGBToYUV    = "RGBToYUV"
	OpConv2D      = "Conv2D"
	OpBatchNorm   = "BatchNorm"
	OpRelu        = "Relu"
	OpTanh        = "Tanh"
	OpFunc        = "Func"
	OpPad         = "Pad"
	OpPixelShift  = "PixelShift"
)

// rgb -> yuv matrix, rows are R, G, B contributions to Y, U, V.
var rgbToYUVKernel = []float32{
	0.299, -0.14714119, 0.61497538,
	0.587, -0.28886916, -0.51496512,
	0.114, 0.43601035, -0.10001026,
}

// Cast converts x to dtype.
func Cast(g *Graph, name string, x *Node, dtype gotch.DType) *Node {
	n := g.NewNode(OpCast, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustTotype(dtype, false), nil
	}, x)
	n.dtype = dtype
	return n.WithAttr("dtype", dtype.String())
}

// Identity forwards x unchanged. Freeze removes identity nodes.
func Identity(g *Graph, name string, x *Node) *Node {
	return g.NewNode(OpIdentity, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustDetach(false), nil
	}, x)
}

// Scale multiplies x by a constant factor.
func Scale(g *Graph, name string, x *Node, factor float64) *Node {
	n := g.NewNode(OpScale, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustMul1(ts.FloatScalar(factor), false), nil
	}, x)
	return n.WithAttr("factor", factor)
}

// Slice keeps channels [start, start+length) of x.
func Slice(g *Graph, name string, x *Node, start, length int64) *Node {
	n := g.NewNode(OpSlice, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustNarrow(1, start, length, false), nil
	}, x)
	return n.WithChannels(length).WithAttr("start", start).WithAttr("length", length)
}

// RGBToYUV converts a 3-channel RGB image with values in [0, 1] to YUV.
// Output channel 0 is Y in [0, 1]; channels 1 and 2 are U and V in about
// [-0.5, 0.5].
func RGBToYUV(g *Graph, name string, x *Node) *Node {
	n := g.NewNode(OpRGBToYUV, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		size := in[0].MustSize()
		if len(size) != 4 || size[1] != 3 {
			return nil, fmt.Errorf("rgb to yuv: expected [N 3 H W] tensor, got %v", size)
		}
		kernel := ts.MustOfSlice(rgbToYUVKernel).MustView([]int64{3, 3}, true)
		if dev := in[0].MustDevice(); dev != gotch.CPU {
			kernel = kernel.MustTo(dev, true)
		}
		nhwc := in[0].MustPermute([]int64{0, 2, 3, 1}, false)
		yuv := nhwc.MustMatmul(kernel, true)
		kernel.MustDrop()
		return yuv.MustPermute([]int64{0, 3, 1, 2}, true), nil
	}, x)
	return n.WithChannels(3)
}

// Relu applies max(x, 0).
func Relu(g *Graph, name string, x *Node) *Node {
	return g.NewNode(OpRelu, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustRelu(false), nil
	}, x)
}

// Tanh applies the hyperbolic tangent.
func Tanh(g *Graph, name string, x *Node) *Node {
	return g.NewNode(OpTanh, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustTanh(false), nil
	}, x)
}

// Apply wraps a caller-supplied element-wise function. The result must be a
// new tensor. Frozen graphs record only the node name for such ops.
func Apply(g *Graph, name string, x *Node, fn func(*ts.Tensor) *ts.Tensor) *Node {
	return g.NewNode(OpFunc, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return fn(in[0]), nil
	}, x)
}

// Pad zero-pads the spatial dims of x by [top, bottom, left, right].
func Pad(g *Graph, name string, x *Node, paddings [4]int64) *Node {
	// ConstantPadNd pads the last dim first.
	pad := []int64{paddings[2], paddings[3], paddings[0], paddings[1]}
	n := g.NewNode(OpPad, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustConstantPadNd(pad, false), nil
	}, x)
	return n.WithAttr("paddings", paddings[:])
}

// PixelShift rearranges a [N, C*rh*rw, H, W] tensor into [N, C, H*rh, W*rw]
// (sub-pixel convolution upscaling).
func PixelShift(g *Graph, name string, x *Node, rh, rw, channels int64) *Node {
	n := g.NewNode(OpPixelShift, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return pixelShift(in[0], rh, rw, channels)
	}, x)
	return n.WithChannels(channels).WithAttr("scale", []int64{rh, rw})
}

func pixelShift(x *ts.Tensor, rh, rw, c int64) (*ts.Tensor, error) {
	size := x.MustSize()
	if len(size) != 4 || size[1] != c*rh*rw {
		return nil, fmt.Errorf("pixel shift: expected [N %v H W] tensor, got %v", c*rh*rw, size)
	}
	if rh == rw {
		return x.MustPixelShuffle(rh, false), nil
	}
	n, h, w := size[0], size[2], size[3]
	v := x.MustView([]int64{n, c, rh, rw, h, w}, false)
	p := v.MustPermute([]int64{0, 1, 4, 2, 5, 3}, true)
	return p.MustReshape([]int64{n, c, h * rh, w * rw}, true), nil
}

// Conv2D evaluates a gotch convolution module. Weight and bias become params.
func Conv2D(g *Graph, name string, x *Node, conv *nn.Conv2D, filters, ksize int64, bias bool) *Node {
	n := g.NewNode(OpConv2D, name, func(_ *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return conv.Forward(in[0]), nil
	}, x)
	n.WithChannels(filters).
		WithAttr("filters", filters).
		WithAttr("kernel_size", []int64{ksize, ksize}).
		WithAttr("strides", conv.Config.Stride).
		WithAttr("padding", conv.Config.Padding).
		WithAttr("dilation", conv.Config.Dilation).
		WithParam("kernel", conv.Ws)
	if bias {
		n.WithParam("bias", conv.Bs)
	}
	return n
}

// BatchNorm evaluates a gotch batch norm module in training or inference mode
// depending on the run's training flag.
func BatchNorm(g *Graph, name string, x *Node, bn *nn.BatchNorm, eps float64) *Node {
	n := g.NewNode(OpBatchNorm, name, func(r *Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return bn.ForwardT(in[0], r.Training()), nil
	}, x)
	return n.WithAttr("epsilon", eps).
		WithParam("gamma", bn.Ws).
		WithParam("beta", bn.Bs).
		WithParam("moving_mean", bn.RunningMean).
		WithParam("moving_variance", bn.RunningVar)
}
