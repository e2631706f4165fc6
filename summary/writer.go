package summary

import (
	"fmt"
	"math"
	"os"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Writer keeps the history of summary events.
type Writer struct {
	tags   []string
	events []*Event
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Add records e. Tags seen for the first time become new columns.
func (w *Writer) Add(e *Event) {
	if e == nil {
		return
	}
	for _, t := range e.Tags {
		if !w.hasTag(t) {
			w.tags = append(w.tags, t)
		}
	}
	w.events = append(w.events, e)
}

func (w *Writer) hasTag(tag string) bool {
	for _, t := range w.tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tags returns every tag recorded so far in first-seen order.
func (w *Writer) Tags() []string {
	return w.tags
}

// Events returns the recorded events.
func (w *Writer) Events() []*Event {
	return w.events
}

// DataFrame returns the history with a "step" column and one column per tag.
// Missing values are NaN.
func (w *Writer) DataFrame() dataframe.DataFrame {
	steps := make([]int, len(w.events))
	for i, e := range w.events {
		steps[i] = int(e.Step)
	}
	cols := []series.Series{series.New(steps, series.Int, "step")}
	for _, tag := range w.tags {
		cols = append(cols, series.New(w.column(tag), series.Float, tag))
	}
	return dataframe.New(cols...)
}

func (w *Writer) column(tag string) []float64 {
	vals := make([]float64, len(w.events))
	for i, e := range w.events {
		v, ok := e.Value(tag)
		if !ok {
			v = math.NaN()
		}
		vals[i] = v
	}
	return vals
}

// WriteCSV writes the history to path.
func (w *Writer) WriteCSV(path string) error {
	df := w.DataFrame()
	if df.Err != nil {
		return df.Err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return df.WriteCSV(f)
}

// Plot draws one line per tag against the step and saves the figure to path.
// The image format follows the file extension.
func (w *Writer) Plot(path string, tags ...string) error {
	if len(tags) == 0 {
		tags = w.tags
	}
	p, err := plot.New()
	if err != nil {
		return err
	}
	p.Title.Text = "Summaries"
	p.X.Label.Text = "step"

	for i, tag := range tags {
		if !w.hasTag(tag) {
			return fmt.Errorf("Unknown summary tag: %v", tag)
		}
		xys := make(plotter.XYs, 0, len(w.events))
		for _, e := range w.events {
			if v, ok := e.Value(tag); ok {
				xys = append(xys, plotter.XY{X: float64(e.Step), Y: v})
			}
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(tag, l)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
