package base

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/metric"
)

// InitializerKind enumerates kernel initializers understood by Conv2d.
type InitializerKind int

const (
	DefaultInit InitializerKind = iota
	HeNormalInit
	CustomInit
)

// Initializer selects how convolution kernels are initialized.
type Initializer struct {
	Kind   InitializerKind
	Custom nn.Init
}

// HeNormal selects He normal initialization.
func HeNormal() Initializer {
	return Initializer{Kind: HeNormalInit}
}

// WithInit selects a caller-supplied initializer.
func WithInit(init nn.Init) Initializer {
	return Initializer{Kind: CustomInit, Custom: init}
}

// ParseInitializer maps a configuration string to an Initializer.
func ParseInitializer(name string) (Initializer, error) {
	switch name {
	case "":
		return Initializer{}, nil
	case "he_normal", "he-normal":
		return HeNormal(), nil
	default:
		return Initializer{}, fmt.Errorf("%w: %q", ErrInvalidInitializer, name)
	}
}

// Resolve returns the gotch initializer. DefaultInit resolves to gotch's
// Kaiming uniform initializer, the nn.Conv2D default.
func (i Initializer) Resolve() (nn.Init, error) {
	switch i.Kind {
	case DefaultInit:
		return nn.NewKaimingUniformInit(), nil
	case HeNormalInit:
		return NewHeNormal(), nil
	case CustomInit:
		if i.Custom == nil {
			return nil, fmt.Errorf("%w: nil custom initializer", ErrInvalidInitializer)
		}
		return i.Custom, nil
	default:
		return nil, fmt.Errorf("%w: kind %v", ErrInvalidInitializer, i.Kind)
	}
}

// truncatedStd is the standard deviation of a unit normal truncated to
// [-2, 2].
const truncatedStd = 0.87962566103423978

// HeNormalInitializer draws weights from a normal distribution truncated at
// two standard deviations and rescaled so that the resulting std is
// sqrt(2/fanIn), as Keras' he_normal does.
// Ref. https://arxiv.org/abs/1502.01852
type HeNormalInitializer struct{}

// NewHeNormal creates a He normal initializer.
func NewHeNormal() *HeNormalInitializer {
	return &HeNormalInitializer{}
}

// InitTensor implements nn.Init.
func (h *HeNormalInitializer) InitTensor(dims []int64, device gotch.Device) *ts.Tensor {
	// fan in of a conv kernel [out, in, kh, kw] is in*kh*kw.
	fanIn := int64(1)
	switch {
	case len(dims) > 1:
		for _, d := range dims[1:] {
			fanIn *= d
		}
	case len(dims) == 1:
		fanIn = dims[0]
	}
	std := math.Sqrt(2.0/float64(fanIn)) / truncatedStd

	data := make([]float32, ts.FlattenDim(dims))
	for i := range data {
		v := rand.NormFloat64()
		for math.Abs(v) > 2 {
			v = rand.NormFloat64()
		}
		data[i] = float32(v * std)
	}
	x := ts.MustOfSlice(data).MustView(dims, true)
	if device != gotch.CPU {
		x = x.MustTo(device, true)
	}
	return x
}

// Set implements nn.Init.
func (h *HeNormalInitializer) Set(tensor *ts.Tensor) {
	v := h.InitTensor(tensor.MustSize(), tensor.MustDevice())
	ts.NoGrad(func() {
		tensor.Copy_(v)
	})
	v.MustDrop()
}

// RegularizerKind enumerates kernel regularizers understood by Conv2d.
type RegularizerKind int

const (
	NoRegularizer RegularizerKind = iota
	L1Regularizer
	L2Regularizer
	CustomRegularizer
)

// Regularizer selects the weight penalty added to the regularization losses.
type Regularizer struct {
	Kind   RegularizerKind
	Custom func(w *ts.Tensor) *ts.Tensor
}

// L1 selects an L1 penalty scaled by the model weight decay.
func L1() Regularizer { return Regularizer{Kind: L1Regularizer} }

// L2 selects an L2 penalty scaled by the model weight decay.
func L2() Regularizer { return Regularizer{Kind: L2Regularizer} }

// WithRegularizer selects a caller-supplied penalty. fn must return a new
// scalar tensor.
func WithRegularizer(fn func(w *ts.Tensor) *ts.Tensor) Regularizer {
	return Regularizer{Kind: CustomRegularizer, Custom: fn}
}

// ParseRegularizer maps a configuration string to a Regularizer.
func ParseRegularizer(name string) (Regularizer, error) {
	switch name {
	case "":
		return Regularizer{}, nil
	case "l1":
		return L1(), nil
	case "l2":
		return L2(), nil
	default:
		return Regularizer{}, fmt.Errorf("%w: %q", ErrInvalidRegularizer, name)
	}
}

// resolve returns the penalty function, nil meaning no penalty. L1 and L2
// are dropped when decay is zero.
func (r Regularizer) resolve(decay float64) (func(w *ts.Tensor) *ts.Tensor, error) {
	switch r.Kind {
	case NoRegularizer:
		return nil, nil
	case L1Regularizer:
		if decay == 0 {
			return nil, nil
		}
		return func(w *ts.Tensor) *ts.Tensor { return metric.L1(w, decay) }, nil
	case L2Regularizer:
		if decay == 0 {
			return nil, nil
		}
		return func(w *ts.Tensor) *ts.Tensor { return metric.L2(w, decay) }, nil
	case CustomRegularizer:
		if r.Custom == nil {
			return nil, fmt.Errorf("%w: nil custom regularizer", ErrInvalidRegularizer)
		}
		return r.Custom, nil
	default:
		return nil, fmt.Errorf("%w: kind %v", ErrInvalidRegularizer, r.Kind)
	}
}

// ActivationKind enumerates activations understood by Conv2d.
type ActivationKind int

const (
	NoActivation ActivationKind = iota
	ReluActivation
	TanhActivation
	CustomActivation
)

// Activation selects the function applied after the convolution.
type Activation struct {
	Kind   ActivationKind
	Custom func(x *ts.Tensor) *ts.Tensor
}

// Relu selects max(x, 0).
func Relu() Activation { return Activation{Kind: ReluActivation} }

// Tanh selects the hyperbolic tangent.
func Tanh() Activation { return Activation{Kind: TanhActivation} }

// WithActivation selects a caller-supplied activation. fn must return a new tensor.
func WithActivation(fn func(x *ts.Tensor) *ts.Tensor) Activation {
	return Activation{Kind: CustomActivation, Custom: fn}
}

// ParseActivation maps a configuration string to an Activation.
func ParseActivation(name string) (Activation, error) {
	switch name {
	case "":
		return Activation{}, nil
	case "relu":
		return Relu(), nil
	case "tanh":
		return Tanh(), nil
	default:
		return Activation{}, fmt.Errorf("%w: %q", ErrInvalidActivation, name)
	}
}

func (a Activation) validate() error {
	switch a.Kind {
	case NoActivation, ReluActivation, TanhActivation:
		return nil
	case CustomActivation:
		if a.Custom == nil {
			return fmt.Errorf("%w: nil custom activation", ErrInvalidActivation)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %v", ErrInvalidActivation, a.Kind)
	}
}
