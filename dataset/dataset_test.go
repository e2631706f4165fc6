package dataset_test

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/vsr/dataset"
	"github.com/sugarme/vsr/imageutil"
)

func writeImages(t *testing.T, n, w, h int) string {
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, w, h))
		for j := range img.Pix {
			img.Pix[j] = uint8(j + i)
		}
		img.SetGray(0, 0, color.Gray{Y: 255})
		require.NoError(t, imageutil.SaveImage(img, filepath.Join(dir, fmt.Sprintf("%02d.png", i))))
	}
	return dir
}

func TestBatchSampler(t *testing.T) {
	s, err := dataset.NewBatchSampler(10, 4, false, false, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())
	batches := s.Batches()
	require.Len(t, batches, 3)
	assert.Equal(t, []int{8, 9}, batches[2])

	s, err = dataset.NewBatchSampler(10, 4, true, true, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	seen := make(map[int]bool)
	for _, b := range s.Batches() {
		assert.Len(t, b, 4)
		for _, i := range b {
			assert.False(t, seen[i])
			seen[i] = true
		}
	}

	_, err = dataset.NewBatchSampler(10, 0, false, false, 0)
	assert.Error(t, err)
}

func TestLoaderPatches(t *testing.T) {
	dir := writeImages(t, 5, 20, 17)
	ds, err := dataset.New(dir, dataset.Config{Scale: [2]int64{3, 3}, Patch: 4, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Len())

	s, err := dataset.NewBatchSampler(ds.Len(), 2, true, true, 1)
	require.NoError(t, err)
	dl, err := dataset.NewLoader(ds, s, false)
	require.NoError(t, err)

	for epoch := 0; epoch < 2; epoch++ {
		count := 0
		for dl.HasNext() {
			b, err := dl.Next()
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 4, 4, 1}, b.LR.MustSize())
			assert.Equal(t, []int64{2, 12, 12, 1}, b.HR.MustSize())
			b.Drop()
			count++
		}
		assert.Equal(t, 2, count)
		_, err = dl.Next()
		assert.Error(t, err)
		dl.Reset()
	}
}

func TestLoaderWholeImagesRGBA(t *testing.T) {
	dir := writeImages(t, 2, 10, 7)
	ds, err := dataset.New(dir, dataset.Config{Scale: [2]int64{2, 2}})
	require.NoError(t, err)
	s, err := dataset.NewBatchSampler(ds.Len(), 2, false, false, 0)
	require.NoError(t, err)
	dl, err := dataset.NewLoader(ds, s, true)
	require.NoError(t, err)

	b, err := dl.Next()
	require.NoError(t, err)
	defer b.Drop()
	assert.Equal(t, []int64{2, 3, 5, 4}, b.LR.MustSize())
	assert.Equal(t, []int64{2, 6, 10, 1}, b.HR.MustSize())
}

func TestNewRejectsEmptyDir(t *testing.T) {
	_, err := dataset.New(t.TempDir(), dataset.Config{Scale: [2]int64{2, 2}})
	assert.Error(t, err)
}
