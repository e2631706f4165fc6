// Package imageutil converts between decoded images and NHWC uint8 batches
// and synthesizes low resolution inputs.
package imageutil

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

// IsImage reports whether filename has an extension ReadImage can decode.
func IsImage(filename string) bool {
	switch filepath.Ext(filename) {
	case ".png", ".PNG", ".jpg", ".jpeg", ".JPG", ".JPEG", ".tiff", ".tif", ".TIFF", ".TIF":
		return true
	}
	return false
}

// ReadImage reads image from file.
func ReadImage(filename string) (image.Image, error) {
	ext := filepath.Ext(filename)
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ".png", ".PNG":
		return png.Decode(f)
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return jpeg.Decode(f)
	case ".tiff", ".tif", ".TIFF", ".TIF":
		return tiff.Decode(f)
	default:
		err = fmt.Errorf("Unsupported image format: %v", ext)
		return nil, err
	}
}

// SaveImage writes img to filename, the format following the extension.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return imaging.Save(img, filename)
}

// ToGray converts img to 8-bit luminance.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}

// ToRGBA converts img to non-premultiplied 8-bit RGBA.
func ToRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}

// ModCrop crops img from the top-left so that its height and width are
// multiples of scale[0] and scale[1].
func ModCrop(img image.Image, scale [2]int64) image.Image {
	b := img.Bounds()
	h := b.Dy() - b.Dy()%int(scale[0])
	w := b.Dx() - b.Dx()%int(scale[1])
	return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+w, b.Min.Y+h))
}

// Downscale shrinks img by scale [height, width] with bicubic filtering.
// img is expected to be mod-cropped.
func Downscale(img image.Image, scale [2]int64) image.Image {
	b := img.Bounds()
	r := image.Rect(0, 0, b.Dx()/int(scale[1]), b.Dy()/int(scale[0]))
	dst := image.NewNRGBA(r)
	draw.CatmullRom.Scale(dst, r, img, b, draw.Src, nil)
	return dst
}

// Bicubic resizes img to width x height with bicubic interpolation. It is
// the baseline SR models are compared to.
func Bicubic(img image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), img, resize.Bicubic)
}

// RandomCrop cuts a width x height patch at a random position. It returns
// an error when img is smaller than the patch.
func RandomCrop(img image.Image, width, height int, rng *rand.Rand) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() < width || b.Dy() < height {
		return nil, fmt.Errorf("image %vx%v is smaller than patch %vx%v", b.Dx(), b.Dy(), width, height)
	}
	x := b.Min.X + rng.Intn(b.Dx()-width+1)
	y := b.Min.Y + rng.Intn(b.Dy()-height+1)
	return imaging.Crop(img, image.Rect(x, y, x+width, y+height)), nil
}

// pixels returns the HWC bytes of img with 1 (gray) or 4 (RGBA) channels.
func pixels(img image.Image, rgba bool) ([]uint8, int, int) {
	if rgba {
		m := ToRGBA(img)
		b := m.Bounds()
		buf := make([]uint8, 0, b.Dx()*b.Dy()*4)
		for y := 0; y < b.Dy(); y++ {
			buf = append(buf, m.Pix[y*m.Stride:y*m.Stride+b.Dx()*4]...)
		}
		return buf, b.Dy(), b.Dx()
	}
	m := ToGray(img)
	b := m.Bounds()
	buf := make([]uint8, 0, b.Dx()*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		buf = append(buf, m.Pix[y*m.Stride:y*m.Stride+b.Dx()]...)
	}
	return buf, b.Dy(), b.Dx()
}

// ToTensor stacks images of equal size into a [N, H, W, C] uint8 tensor
// with C = 4 when rgba is set and 1 otherwise.
func ToTensor(imgs []image.Image, rgba bool) (*ts.Tensor, error) {
	if len(imgs) == 0 {
		return nil, fmt.Errorf("no images to convert")
	}
	var c int64 = 1
	if rgba {
		c = 4
	}

	var (
		data []uint8
		h, w int
	)
	for i, img := range imgs {
		buf, ih, iw := pixels(img, rgba)
		if i == 0 {
			h, w = ih, iw
		} else if ih != h || iw != w {
			return nil, fmt.Errorf("image %v has size %vx%v, expected %vx%v", i, iw, ih, w, h)
		}
		data = append(data, buf...)
	}
	x := ts.MustOfSlice(data)
	return x.MustView([]int64{int64(len(imgs)), int64(h), int64(w), c}, true), nil
}

// FromTensor converts a [N, H, W, C] tensor with C = 1 or 4 into images.
// Float values are rounded and clamped to [0, 255].
func FromTensor(x *ts.Tensor) ([]image.Image, error) {
	size := x.MustSize()
	if len(size) != 4 || (size[3] != 1 && size[3] != 4) {
		return nil, fmt.Errorf("Expect [N H W 1|4] tensor. Got shape %v", size)
	}
	n, h, w, c := int(size[0]), int(size[1]), int(size[2]), int(size[3])

	var vals []int64
	ts.NoGrad(func() {
		v := x.MustTotype(gotch.Double, false)
		r := v.MustRound(true).MustClamp(ts.FloatScalar(0), ts.FloatScalar(255), true).MustTotype(gotch.Int64, true)
		vals = r.Int64Values()
		r.MustDrop()
	})

	imgs := make([]image.Image, n)
	for i := 0; i < n; i++ {
		off := i * h * w * c
		if c == 1 {
			m := image.NewGray(image.Rect(0, 0, w, h))
			for j := range m.Pix {
				m.Pix[j] = uint8(vals[off+j])
			}
			imgs[i] = m
			continue
		}
		m := image.NewNRGBA(image.Rect(0, 0, w, h))
		for j := range m.Pix {
			m.Pix[j] = uint8(vals[off+j])
		}
		imgs[i] = m
	}
	return imgs, nil
}
