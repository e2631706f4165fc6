package main

import (
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"github.com/sugarme/gotch/vision"

	"github.com/sugarme/vsr/dataset"
	"github.com/sugarme/vsr/graph"
	"github.com/sugarme/vsr/imageutil"
	"github.com/sugarme/vsr/metric"
)

// runTest super-resolves every image under ValidPath and compares the
// result and a bicubic upscale to the high resolution image.
func runTest() {
	m := loadModel()
	files, err := dataset.ListImages(ValidPath)
	if err != nil {
		log.Fatal(err)
	}
	ds, err := dataset.NewFromFiles(files, dataset.Config{Scale: [2]int64{int64(Scale), int64(Scale)}})
	if err != nil {
		log.Fatal(err)
	}

	var srSum, bicubicSum float64
	for i := 0; i < ds.Len(); i++ {
		pair, err := ds.Item(i)
		if err != nil {
			log.Fatal(err)
		}
		lr, err := imageutil.ToTensor([]image.Image{pair.LR}, RGB)
		if err != nil {
			log.Fatal(err)
		}
		hr, err := imageutil.ToTensor([]image.Image{pair.HR}, false)
		if err != nil {
			log.Fatal(err)
		}
		b := pair.HR.Bounds()
		bicubic, err := imageutil.ToTensor([]image.Image{imageutil.Bicubic(pair.LR, b.Dx(), b.Dy())}, false)
		if err != nil {
			log.Fatal(err)
		}

		outputs, metrics, err := m.TestBatch([]*ts.Tensor{lr}, []*ts.Tensor{hr}, nil)
		if err != nil {
			log.Fatal(err)
		}
		srPSNR, _ := metrics.Scalar("psnr")
		bicubicPSNR := psnr(hr, bicubic)
		srSum += srPSNR
		bicubicSum += bicubicPSNR

		name := filepath.Base(ds.File(i))
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
		if err := saveOutput(outputs[0], filepath.Join(OutputPath, name)); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%-24v\t espcn: %6.2f (dB)\t bicubic: %6.2f (dB)\n", name, srPSNR, bicubicPSNR)

		outputs[0].MustDrop()
		lr.MustDrop()
		hr.MustDrop()
		bicubic.MustDrop()
	}
	n := float64(ds.Len())
	fmt.Printf("Mean PSNR\t espcn: %6.2f (dB)\t bicubic: %6.2f (dB)\n", srSum/n, bicubicSum/n)
}

// psnr compares two NHWC uint8 batches.
func psnr(yTrue, yPred *ts.Tensor) float64 {
	a := yTrue.MustPermute([]int64{0, 3, 1, 2}, false).MustTotype(gotch.Float, true)
	b := yPred.MustPermute([]int64{0, 3, 1, 2}, false).MustTotype(gotch.Float, true)
	defer a.MustDrop()
	defer b.MustDrop()
	p, err := metric.PSNR(a, b, 255)
	if err != nil {
		log.Fatal(err)
	}
	v := p.Float64Values()[0]
	p.MustDrop()
	return v
}

// saveOutput writes a [1, H, W, 1] output as an image file.
func saveOutput(x *ts.Tensor, path string) error {
	chw := x.MustSelect(0, 0, false).
		MustPermute([]int64{2, 0, 1}, true).
		MustClamp(ts.FloatScalar(0), ts.FloatScalar(255), true)
	defer chw.MustDrop()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return vision.Save(chw, path)
}

func runInspect() {
	path := filepath.Join(ExportPath, fmt.Sprintf("espcn_x%v.pb", Scale))
	def, err := graph.ReadGraph(path)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%v (producer: %v, version: %v)\n", path, def.Producer, def.Version)
	for _, n := range def.Nodes {
		var params int
		for _, c := range n.Consts {
			params += len(c.Data)
		}
		fmt.Printf("%-32v\t%-12v\tinputs: %v\tparams: %v\n", n.Name, n.Op, n.Inputs, params)
	}
	fmt.Printf("outputs: %v\n", def.Outputs)
}
