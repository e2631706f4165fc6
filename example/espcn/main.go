package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sugarme/gotch"

	"github.com/sugarme/vsr/base"
	"github.com/sugarme/vsr/espcn"
)

// flag variables
var (
	DataPath       string
	ValidPath      string
	OutputPath     string
	CheckpointPath string
	SummaryPath    string
	ExportPath     string
	Cuda           bool
	RGB            bool
	task           string
	Device         gotch.Device
)

// hyperparameters
var (
	Scale     int     // upscaling factor
	Layers    int     // number of convolutions
	LR        float64 // learning rate
	BatchSize int     // batch size
	Epochs    int     // number of epochs
	Patch     int     // LR patch size, 0 for whole images
)

func init() {
	flag.StringVar(&DataPath, "input", "./data/train", "specify directory of high resolution training images")
	flag.StringVar(&ValidPath, "valid", "./data/valid", "specify directory of high resolution validation images")
	flag.StringVar(&OutputPath, "output", "./output", "specify directory to write super-resolved images")
	flag.StringVar(&CheckpointPath, "checkpoint", "./model/espcn.ot", "specify full path to model weight '.ot' file")
	flag.StringVar(&SummaryPath, "summary", "./summary", "specify directory to write summary csv and plots")
	flag.StringVar(&ExportPath, "export", "./model", "specify directory to write the frozen graph")
	flag.BoolVar(&Cuda, "cuda", false, "specify whether using CUDA or not.")
	flag.BoolVar(&RGB, "rgb", false, "specify whether feeding RGBA images instead of grayscale.")
	flag.StringVar(&task, "task", "train", "specify task to run: train|test|export|inspect")
	flag.IntVar(&Scale, "scale", 3, "specify upscaling factor")
	flag.IntVar(&Layers, "layers", 3, "specify number of convolution layers")
	flag.Float64Var(&LR, "lr", 0.001, "specify learning rate")
	flag.IntVar(&BatchSize, "batch", 16, "specify batch size")
	flag.IntVar(&Epochs, "epochs", 50, "specify number of epochs")
	flag.IntVar(&Patch, "patch", 17, "specify LR patch size")
}

func main() {
	flag.Parse()

	DataPath = absPath(DataPath)
	ValidPath = absPath(ValidPath)
	OutputPath = absPath(OutputPath)
	CheckpointPath = absPath(CheckpointPath)
	SummaryPath = absPath(SummaryPath)
	ExportPath = absPath(ExportPath)

	Device = gotch.CPU
	if Cuda {
		Device = gotch.NewCuda().CudaIfAvailable()
	}

	switch task {
	case "train":
		runTrain()
	case "test":
		runTest()
	case "export":
		runExport()
	case "inspect":
		runInspect()
	default:
		err := fmt.Errorf("Unknown 'task' name. Please specify valid 'task' flag to run.\n")
		log.Fatal(err)
	}
}

// newModel creates and compiles an ESPCN model from flags.
func newModel() *espcn.Espcn {
	opts := base.DefaultOptions()
	opts.Scale = []int64{int64(Scale)}
	opts.RGBInput = RGB
	opts.Device = Device
	opts.Logger = log.New(os.Stdout, "", log.LstdFlags)

	cfg := espcn.DefaultConfig()
	cfg.Layers = Layers
	m, err := espcn.New(opts, cfg)
	if err != nil {
		log.Fatal(err)
	}
	m, err = m.Compile()
	if err != nil {
		log.Fatal(err)
	}
	return m
}

// loadModel creates a model and restores its weights from CheckpointPath.
func loadModel() *espcn.Espcn {
	m := newModel()
	if err := m.Load(CheckpointPath); err != nil {
		log.Fatal(err)
	}
	return m
}

// helper to get absolute file path
func absPath(p string) string {
	fullpath, err := filepath.Abs(p)
	if err != nil {
		log.Fatal(err)
	}
	return fullpath
}
