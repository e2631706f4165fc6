package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/base"
	"github.com/sugarme/vsr/dataset"
	"github.com/sugarme/vsr/espcn"
	"github.com/sugarme/vsr/summary"
)

func newLoader(dir string, shuffle bool, seed int64) *dataset.Loader {
	cfg := dataset.Config{
		Scale: [2]int64{int64(Scale), int64(Scale)},
		Patch: Patch,
		Seed:  seed,
	}
	ds, err := dataset.New(dir, cfg)
	if err != nil {
		log.Fatal(err)
	}
	s, err := dataset.NewBatchSampler(ds.Len(), BatchSize, true, shuffle, seed)
	if err != nil {
		log.Fatal(err)
	}
	dl, err := dataset.NewLoader(ds, s, RGB)
	if err != nil {
		log.Fatal(err)
	}
	return dl
}

func runTrain() {
	m := newModel()
	m.Describe(os.Stdout)

	trainDL := newLoader(DataPath, true, 1)
	validDL := newLoader(ValidPath, false, 2)
	writer := summary.NewWriter()

	start := time.Now()
	startRAM := usedRAM()
	for epoch := 0; epoch < Epochs; epoch++ {
		trainDL.Reset()
		var (
			lossSum float64
			count   int
		)
		for trainDL.HasNext() {
			b, err := trainDL.Next()
			if err != nil {
				log.Fatal(err)
			}
			metrics, err := m.TrainBatch([]*ts.Tensor{b.LR}, []*ts.Tensor{b.HR}, LR, nil)
			b.Drop()
			if err != nil {
				log.Fatal(err)
			}
			mse, _ := metrics.Scalar("mse")
			lossSum += mse
			count++
		}

		doValidate(m, validDL, writer)
		fmt.Printf("Epoch %02d\t step: %6d\t mse: %8.3f\t took: %6.2f (min)\t RAM: [%8.2f MiB]\n",
			epoch, m.GlobalStep(), lossSum/float64(count), time.Since(start).Minutes(), usedRAM()-startRAM)

		if err := os.MkdirAll(filepath.Dir(CheckpointPath), 0755); err != nil {
			log.Fatal(err)
		}
		if err := m.Save(CheckpointPath); err != nil {
			log.Fatal(err)
		}
	}

	if err := os.MkdirAll(SummaryPath, 0755); err != nil {
		log.Fatal(err)
	}
	if err := writer.WriteCSV(filepath.Join(SummaryPath, "valid.csv")); err != nil {
		log.Fatal(err)
	}
	if err := writer.Plot(filepath.Join(SummaryPath, "psnr.png"), "psnr"); err != nil {
		log.Fatal(err)
	}
	if err := writer.Plot(filepath.Join(SummaryPath, "loss.png"), "loss/mse", "loss/regularization"); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Training completed. Summaries written to %v\n", SummaryPath)
}

// doValidate runs ValidateBatch over validDL and records the mean event.
func doValidate(m *espcn.Espcn, validDL *dataset.Loader, writer *summary.Writer) {
	validDL.Reset()
	var (
		events []*summary.Event
		psnr   float64
		n      int
	)
	for validDL.HasNext() {
		b, err := validDL.Next()
		if err != nil {
			log.Fatal(err)
		}
		metrics, ev, err := m.ValidateBatch([]*ts.Tensor{b.LR}, []*ts.Tensor{b.HR}, nil)
		b.Drop()
		if err != nil {
			log.Fatal(err)
		}
		v, _ := metrics.Scalar("psnr")
		psnr += v
		n++
		events = append(events, ev)
	}
	if n == 0 {
		return
	}
	writer.Add(meanEvent(events, m.GlobalStep()))
	fmt.Printf("Validate\t psnr: %6.2f (dB)\n", psnr/float64(n))
}

func meanEvent(events []*summary.Event, step int64) *summary.Event {
	if len(events) == 0 || events[0] == nil {
		return nil
	}
	mean := &summary.Event{
		Step:   step,
		Tags:   events[0].Tags,
		Values: make([]float64, len(events[0].Values)),
	}
	for _, ev := range events {
		for i, v := range ev.Values {
			mean.Values[i] += v / float64(len(events))
		}
	}
	return mean
}

func runExport() {
	m := loadModel()
	if _, err := m.ExportModel(ExportPath, fmt.Sprintf("espcn_x%v.pb", Scale), base.Extra{}); err != nil {
		log.Fatal(err)
	}
}
