// Package dataset builds (low resolution, high resolution) training pairs
// from a directory of images and iterates them in batches.
package dataset

import (
	"fmt"
	"image"
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"sort"

	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/imageutil"
)

// Pair is one training sample.
type Pair struct {
	LR image.Image
	HR image.Image
}

// Dataset produces LR/HR pairs by cropping HR patches and downscaling them.
type Dataset struct {
	files []string
	scale [2]int64
	// patch is the LR patch size; 0 keeps whole mod-cropped images.
	patch int
	rng   *rand.Rand
}

// Config configures a Dataset.
type Config struct {
	Scale [2]int64
	// Patch is the side of the LR patch. Zero uses whole images, which then
	// must share one size to be batched.
	Patch int
	Seed  int64
}

// ListImages returns the sorted image files in dir.
func ListImages(dir string) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageutil.IsImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("No image found in %q", dir)
	}
	return files, nil
}

// New creates a dataset over the images in dir.
func New(dir string, cfg Config) (*Dataset, error) {
	files, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	return NewFromFiles(files, cfg)
}

// NewFromFiles creates a dataset over the given image files.
func NewFromFiles(files []string, cfg Config) (*Dataset, error) {
	if cfg.Scale[0] <= 0 || cfg.Scale[1] <= 0 {
		return nil, fmt.Errorf("Invalid scale: %v", cfg.Scale)
	}
	if cfg.Patch < 0 {
		return nil, fmt.Errorf("Invalid patch size: %v", cfg.Patch)
	}
	return &Dataset{
		files: files,
		scale: cfg.Scale,
		patch: cfg.Patch,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Len returns the number of images.
func (ds *Dataset) Len() int {
	return len(ds.files)
}

// File returns the path of item idx.
func (ds *Dataset) File(idx int) string {
	return ds.files[idx]
}

// Item loads image idx and returns an LR/HR pair.
func (ds *Dataset) Item(idx int) (Pair, error) {
	img, err := imageutil.ReadImage(ds.files[idx])
	if err != nil {
		return Pair{}, fmt.Errorf("load %v: %w", ds.files[idx], err)
	}
	hr := imageutil.ModCrop(img, ds.scale)
	if ds.patch > 0 {
		w := ds.patch * int(ds.scale[1])
		h := ds.patch * int(ds.scale[0])
		if hr, err = imageutil.RandomCrop(hr, w, h, ds.rng); err != nil {
			return Pair{}, fmt.Errorf("crop %v: %w", ds.files[idx], err)
		}
	}
	return Pair{LR: imageutil.Downscale(hr, ds.scale), HR: hr}, nil
}

// Batch is a pair of NHWC uint8 tensors. The caller drops them.
type Batch struct {
	LR *ts.Tensor
	HR *ts.Tensor
}

// Drop releases both tensors.
func (b *Batch) Drop() {
	b.LR.MustDrop()
	b.HR.MustDrop()
}

// Loader iterates a Dataset in batches.
type Loader struct {
	ds      *Dataset
	sampler *BatchSampler
	// rgba feeds 4-channel inputs. Labels are always grayscale luminance.
	rgba    bool
	batches [][]int
	pos     int
}

// NewLoader creates a loader. Call Reset to start a new epoch.
func NewLoader(ds *Dataset, s *BatchSampler, rgba bool) (*Loader, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("Empty dataset")
	}
	l := &Loader{ds: ds, sampler: s, rgba: rgba}
	l.Reset()
	return l, nil
}

// Reset starts a new epoch.
func (l *Loader) Reset() {
	l.batches = l.sampler.Batches()
	l.pos = 0
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return len(l.batches)
}

// HasNext reports whether the epoch has more batches.
func (l *Loader) HasNext() bool {
	return l.pos < len(l.batches)
}

// Next loads the next batch.
func (l *Loader) Next() (*Batch, error) {
	if !l.HasNext() {
		return nil, fmt.Errorf("No more batches. Call Reset() to start a new epoch")
	}
	idx := l.batches[l.pos]
	l.pos++

	lrs := make([]image.Image, len(idx))
	hrs := make([]image.Image, len(idx))
	for i, j := range idx {
		p, err := l.ds.Item(j)
		if err != nil {
			return nil, err
		}
		lrs[i], hrs[i] = p.LR, p.HR
	}

	lr, err := imageutil.ToTensor(lrs, l.rgba)
	if err != nil {
		return nil, err
	}
	hr, err := imageutil.ToTensor(hrs, false)
	if err != nil {
		lr.MustDrop()
		return nil, err
	}
	return &Batch{LR: lr, HR: hr}, nil
}
