package metric_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/metric"
)

func image(vals []float32, n, c, h, w int64) *ts.Tensor {
	return ts.MustOfSlice(vals).MustView([]int64{n, c, h, w}, true)
}

func ramp(n int, scale float32) []float32 {
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = float32(i%16) * scale
	}
	return vals
}

func TestMSE(t *testing.T) {
	a := image([]float32{0, 0, 0, 0}, 1, 1, 2, 2)
	b := image([]float32{1, 1, 3, 3}, 1, 1, 2, 2)

	mse, err := metric.MSE(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, mse.Float64Values()[0], 1e-6) // (1+1+9+9)/4

	mse.MustDrop()
	a.MustDrop()
	b.MustDrop()
}

func TestPSNR(t *testing.T) {
	a := image([]float32{0, 0, 0, 0}, 1, 1, 2, 2)
	b := image([]float32{1, 1, 1, 1}, 1, 1, 2, 2)

	psnr, err := metric.PSNR(a, b, 255)
	require.NoError(t, err)
	got := psnr.Float64Values()
	require.Len(t, got, 1)
	assert.InDelta(t, 20*math.Log10(255), got[0], 1e-3) // mse = 1

	psnr.MustDrop()
	a.MustDrop()
	b.MustDrop()
}

func TestMetricsRejectSizeMismatch(t *testing.T) {
	a := ts.MustZeros([]int64{1, 1, 48, 48}, gotch.Float, gotch.CPU)
	b := ts.MustZeros([]int64{1, 1, 47, 47}, gotch.Float, gotch.CPU)
	defer a.MustDrop()
	defer b.MustDrop()

	_, err := metric.MSE(b, a)
	assert.True(t, errors.Is(err, metric.ErrSizeMismatch))
	_, err = metric.PSNR(b, a, 255)
	assert.True(t, errors.Is(err, metric.ErrSizeMismatch))
	_, err = metric.SSIM(b, a, 255)
	assert.True(t, errors.Is(err, metric.ErrSizeMismatch))
}

func TestSSIMIdenticalImages(t *testing.T) {
	vals := ramp(2*16*16, 10)
	a := image(vals, 2, 1, 16, 16)
	b := image(vals, 2, 1, 16, 16)

	ssim, err := metric.SSIM(a, b, 255)
	require.NoError(t, err)
	got := ssim.Float64Values()
	require.Len(t, got, 2)
	for _, v := range got {
		assert.InDelta(t, 1.0, v, 1e-4)
	}

	ssim.MustDrop()
	a.MustDrop()
	b.MustDrop()
}

func TestSSIMDropsForNoisyImage(t *testing.T) {
	vals := ramp(16*16, 10)
	noisy := make([]float32, len(vals))
	for i, v := range vals {
		if i%2 == 0 {
			noisy[i] = v + 40
		} else {
			noisy[i] = v
		}
	}
	a := image(vals, 1, 1, 16, 16)
	b := image(noisy, 1, 1, 16, 16)

	ssim, err := metric.SSIM(a, b, 255)
	require.NoError(t, err)
	assert.Less(t, ssim.Float64Values()[0], 0.99)

	ssim.MustDrop()
	a.MustDrop()
	b.MustDrop()
}

func TestSSIMRejectsNon4D(t *testing.T) {
	a := ts.MustOfSlice([]float32{1, 2, 3})
	_, err := metric.SSIM(a, a, 255)
	assert.Error(t, err)
	a.MustDrop()
}

func TestTotalVariation(t *testing.T) {
	// 0 1
	// 3 5 -> |3-0| + |5-1| + |1-0| + |5-3| = 3 + 4 + 1 + 2 = 10
	x := image([]float32{0, 1, 3, 5}, 1, 1, 2, 2)
	tv := metric.TotalVariation(x)
	assert.InDelta(t, 10.0, tv.Float64Values()[0], 1e-6)

	tv.MustDrop()
	x.MustDrop()
}

func TestWeightPenalties(t *testing.T) {
	w := ts.MustOfSlice([]float32{-1, 2, -3})

	l1 := metric.L1(w, 0.5)
	l2 := metric.L2(w, 0.5)
	assert.InDelta(t, 3.0, l1.Float64Values()[0], 1e-6)
	assert.InDelta(t, 7.0, l2.Float64Values()[0], 1e-6)

	l1.MustDrop()
	l2.MustDrop()
	w.MustDrop()
}

func TestMetricsOnDevice(t *testing.T) {
	x := ts.MustZeros([]int64{1, 1, 4, 4}, gotch.Float, gotch.CPU)
	tv := metric.TotalVariation(x)
	assert.Equal(t, []int64{1}, tv.MustSize())
	tv.MustDrop()
	x.MustDrop()
}
