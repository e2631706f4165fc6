package imageutil_test

import (
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/tiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/imageutil"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 100, A: 255})
		}
	}
	return img
}

func TestReadImageFormats(t *testing.T) {
	dir := t.TempDir()
	img := gradient(8, 6)

	pngPath := filepath.Join(dir, "a.png")
	require.NoError(t, imageutil.SaveImage(img, pngPath))
	got, err := imageutil.ReadImage(pngPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), got.Bounds())

	tiffPath := filepath.Join(dir, "a.tiff")
	f, err := os.Create(tiffPath)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())
	got, err = imageutil.ReadImage(tiffPath)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), got.Bounds())

	_, err = imageutil.ReadImage(filepath.Join(dir, "a.bmp"))
	assert.Error(t, err)
	assert.True(t, imageutil.IsImage("x.TIF"))
	assert.False(t, imageutil.IsImage("x.txt"))
}

func TestToTensorGrayAndRGBA(t *testing.T) {
	imgs := []image.Image{gradient(5, 4), gradient(5, 4)}

	gray, err := imageutil.ToTensor(imgs, false)
	require.NoError(t, err)
	defer gray.MustDrop()
	assert.Equal(t, []int64{2, 4, 5, 1}, gray.MustSize())
	assert.Equal(t, gotch.Uint8, gray.DType())

	rgba, err := imageutil.ToTensor(imgs, true)
	require.NoError(t, err)
	defer rgba.MustDrop()
	assert.Equal(t, []int64{2, 4, 5, 4}, rgba.MustSize())

	back, err := imageutil.FromTensor(rgba)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, imgs[1], back[1])

	_, err = imageutil.ToTensor([]image.Image{gradient(5, 4), gradient(4, 4)}, false)
	assert.Error(t, err)
}

func TestFromTensorClampsFloats(t *testing.T) {
	x := ts.MustOfSlice([]float32{-3, 12.4, 254.6, 300}).MustView([]int64{1, 2, 2, 1}, true)
	defer x.MustDrop()

	imgs, err := imageutil.FromTensor(x)
	require.NoError(t, err)
	g := imgs[0].(*image.Gray)
	assert.Equal(t, []uint8{0, 12, 255, 255}, g.Pix)
}

func TestResizing(t *testing.T) {
	img := imageutil.ModCrop(gradient(13, 10), [2]int64{3, 3})
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 9, img.Bounds().Dy())

	lr := imageutil.Downscale(img, [2]int64{3, 3})
	assert.Equal(t, image.Rect(0, 0, 4, 3), lr.Bounds())

	flat := image.NewGray(image.Rect(0, 0, 12, 9))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	for _, v := range imageutil.ToGray(imageutil.Downscale(flat, [2]int64{3, 3})).Pix {
		assert.InDelta(t, 128, int(v), 1)
	}

	up := imageutil.Bicubic(lr, 12, 9)
	assert.Equal(t, 12, up.Bounds().Dx())
	assert.Equal(t, 9, up.Bounds().Dy())

	rng := rand.New(rand.NewSource(1))
	patch, err := imageutil.RandomCrop(img, 6, 6, rng)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 6), patch.Bounds())
	_, err = imageutil.RandomCrop(img, 20, 6, rng)
	assert.Error(t, err)
}
