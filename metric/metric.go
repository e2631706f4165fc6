// Package metric implements image fidelity metrics and regularization terms
// on NCHW float tensors.
package metric

import (
	"errors"
	"fmt"
	"math"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
)

// SSIM constants.
const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimK1     = 0.01
	ssimK2     = 0.03
)

// ErrSizeMismatch is returned when a prediction and its label differ in shape.
var ErrSizeMismatch = errors.New("prediction and label sizes differ")

// SameSize returns ErrSizeMismatch unless yTrue and yPred have equal shapes.
// gotch exits the process on failing Must* calls, so metrics check shapes
// before touching the engine.
func SameSize(yTrue, yPred *ts.Tensor) error {
	a, err := yTrue.Size()
	if err != nil {
		return err
	}
	b, err := yPred.Size()
	if err != nil {
		return err
	}
	if len(a) != len(b) {
		return fmt.Errorf("%w: label %v, prediction %v", ErrSizeMismatch, a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%w: label %v, prediction %v", ErrSizeMismatch, a, b)
		}
	}
	return nil
}

// MSE returns the mean squared error over all elements as a scalar tensor.
func MSE(yTrue, yPred *ts.Tensor) (*ts.Tensor, error) {
	if err := SameSize(yTrue, yPred); err != nil {
		return nil, err
	}
	// NOTE: reduction: none = 0; mean = 1; sum = 2.
	return yPred.MseLoss(yTrue, 1, false)
}

// PSNR returns the peak signal-to-noise ratio of each image in the batch,
// shape [N].
func PSNR(yTrue, yPred *ts.Tensor, maxVal float64) (*ts.Tensor, error) {
	if err := SameSize(yTrue, yPred); err != nil {
		return nil, err
	}
	diff, err := yPred.Sub(yTrue, false)
	if err != nil {
		return nil, err
	}
	sq := diff.MustMul(diff, false)
	diff.MustDrop()
	mse := sq.MustMean1([]int64{1, 2, 3}, false, gotch.Float, true)

	// psnr = 20*log10(max) - 10*log10(mse)
	logMse := mse.MustLog(true)
	return logMse.MustMul1(ts.FloatScalar(-10/math.Ln10), true).
		MustAdd1(ts.FloatScalar(20*math.Log10(maxVal)), true), nil
}

// SSIM returns the structural similarity of each image in the batch, shape
// [N]. A Gaussian window of size 11 and sigma 1.5 is used, shrunk to the
// image size for small images.
func SSIM(yTrue, yPred *ts.Tensor, maxVal float64) (*ts.Tensor, error) {
	if err := SameSize(yTrue, yPred); err != nil {
		return nil, err
	}
	size := yPred.MustSize()
	if len(size) != 4 {
		err := fmt.Errorf("Expect 4D tensor. Got %v dimensions.\n", len(size))
		return nil, err
	}
	c, h, w := size[1], size[2], size[3]
	win := int64(ssimWindow)
	if h < win {
		win = h
	}
	if w < win {
		win = w
	}

	kernel := gaussianKernel(win, ssimSigma, c).MustTo(yPred.MustDevice(), true)
	defer kernel.MustDrop()
	filter := func(x *ts.Tensor) *ts.Tensor {
		return ts.MustConv2d(x, kernel, ts.NewTensor(), []int64{1, 1}, []int64{0, 0}, []int64{1, 1}, c)
	}

	c1 := math.Pow(ssimK1*maxVal, 2)
	c2 := math.Pow(ssimK2*maxVal, 2)

	muX := filter(yTrue)
	muY := filter(yPred)
	muXX := muX.MustMul(muX, false)
	muYY := muY.MustMul(muY, false)
	muXY := muX.MustMul(muY, false)
	muX.MustDrop()
	muY.MustDrop()

	xx := yTrue.MustMul(yTrue, false)
	yy := yPred.MustMul(yPred, false)
	xy := yTrue.MustMul(yPred, false)
	sigXX := filter(xx).MustSub(muXX, true)
	sigYY := filter(yy).MustSub(muYY, true)
	sigXY := filter(xy).MustSub(muXY, true)
	xx.MustDrop()
	yy.MustDrop()
	xy.MustDrop()

	// luminance = (2*muX*muY + c1) / (muX^2 + muY^2 + c1)
	lumNum := muXY.MustMul1(ts.FloatScalar(2), false).MustAdd1(ts.FloatScalar(c1), true)
	lumDen := muXX.MustAdd(muYY, false).MustAdd1(ts.FloatScalar(c1), true)
	lum := lumNum.MustDiv(lumDen, true)
	lumDen.MustDrop()

	// contrast-structure = (2*sigXY + c2) / (sigXX + sigYY + c2)
	csNum := sigXY.MustMul1(ts.FloatScalar(2), false).MustAdd1(ts.FloatScalar(c2), true)
	csDen := sigXX.MustAdd(sigYY, false).MustAdd1(ts.FloatScalar(c2), true)
	cs := csNum.MustDiv(csDen, true)
	csDen.MustDrop()

	ssimMap := lum.MustMul(cs, true)
	cs.MustDrop()
	for _, x := range []*ts.Tensor{muXX, muYY, muXY, sigXX, sigYY, sigXY} {
		x.MustDrop()
	}

	return ssimMap.MustMean1([]int64{1, 2, 3}, false, gotch.Float, true), nil
}

// gaussianKernel builds a depthwise [c, 1, size, size] normalized Gaussian filter.
func gaussianKernel(size int64, sigma float64, c int64) *ts.Tensor {
	g := make([]float64, size)
	var sum float64
	for i := int64(0); i < size; i++ {
		d := float64(i) - float64(size-1)/2
		g[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += g[i]
	}
	for i := range g {
		g[i] /= sum
	}

	vals := make([]float32, 0, c*size*size)
	for ch := int64(0); ch < c; ch++ {
		for y := int64(0); y < size; y++ {
			for x := int64(0); x < size; x++ {
				vals = append(vals, float32(g[y]*g[x]))
			}
		}
	}
	return ts.MustOfSlice(vals).MustView([]int64{c, 1, size, size}, true)
}

// TotalVariation returns the sum of absolute differences between
// neighbouring pixels of each image, shape [N].
func TotalVariation(x *ts.Tensor) *ts.Tensor {
	size := x.MustSize()
	h, w := size[2], size[3]
	dims := []int64{1, 2, 3}

	var tv *ts.Tensor
	if h > 1 {
		lower := x.MustNarrow(2, 1, h-1, false)
		upper := x.MustNarrow(2, 0, h-1, false)
		dh := lower.MustSub(upper, true).MustAbs(true)
		upper.MustDrop()
		tv = dh.MustSum1(dims, false, gotch.Float, true)
	}
	if w > 1 {
		right := x.MustNarrow(3, 1, w-1, false)
		left := x.MustNarrow(3, 0, w-1, false)
		dw := right.MustSub(left, true).MustAbs(true)
		left.MustDrop()
		sw := dw.MustSum1(dims, false, gotch.Float, true)
		if tv == nil {
			tv = sw
		} else {
			tv = tv.MustAdd(sw, true)
			sw.MustDrop()
		}
	}
	if tv == nil {
		tv = ts.MustZeros([]int64{size[0]}, gotch.Float, x.MustDevice())
	}
	return tv
}

// L1 returns decay * sum(|w|).
func L1(w *ts.Tensor, decay float64) *ts.Tensor {
	return w.MustAbs(false).
		MustSum(gotch.Float, true).
		MustMul1(ts.FloatScalar(decay), true)
}

// L2 returns decay * sum(w^2).
func L2(w *ts.Tensor, decay float64) *ts.Tensor {
	return w.MustMul(w, false).
		MustSum(gotch.Float, true).
		MustMul1(ts.FloatScalar(decay), true)
}
