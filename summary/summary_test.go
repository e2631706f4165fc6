package summary_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
	"github.com/sugarme/vsr/summary"
)

func TestMergeAllEvaluatesScalarMeans(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	x := graph.Cast(g, "cast", in, gotch.Float)
	summary.Scalar(g, "mean", x)
	summary.Scalar(g, "double", graph.Scale(g, "double", x, 2))
	merged := summary.MergeAll(g)
	require.NotNil(t, merged)

	batch := ts.MustOfSlice([]uint8{1, 2, 3, 6}).MustView([]int64{1, 2, 2, 1}, true)
	defer batch.MustDrop()
	feed := graph.NewFeed(false)
	require.NoError(t, feed.Bind(in, batch))

	out, err := graph.NewSession(gotch.CPU).Run([]*graph.Node{merged}, feed)
	require.NoError(t, err)
	defer out[0].MustDrop()

	ev, err := summary.NewEvent(merged, out[0], 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ev.Step)
	assert.Equal(t, []string{"mean", "double"}, ev.Tags)
	v, ok := ev.Value("double")
	require.True(t, ok)
	assert.InDelta(t, 6.0, v, 1e-6)
}

func TestMergeAllWithoutSummaries(t *testing.T) {
	assert.Nil(t, summary.MergeAll(graph.New()))
}

func TestWriterCSVAndPlot(t *testing.T) {
	w := summary.NewWriter()
	w.Add(&summary.Event{Step: 1, Tags: []string{"loss/mse", "psnr"}, Values: []float64{10, 20}})
	w.Add(&summary.Event{Step: 2, Tags: []string{"loss/mse", "psnr"}, Values: []float64{8, 22}})
	w.Add(nil)
	assert.Len(t, w.Events(), 2)

	dir, err := ioutil.TempDir("", "summary")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	csvPath := filepath.Join(dir, "summary.csv")
	require.NoError(t, w.WriteCSV(csvPath))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	df := dataframe.ReadCSV(f)
	require.NoError(t, df.Err)
	assert.Equal(t, []string{"step", "loss/mse", "psnr"}, df.Names())
	assert.Equal(t, 2, df.Nrow())

	plotPath := filepath.Join(dir, "summary.png")
	require.NoError(t, w.Plot(plotPath, "psnr"))
	_, err = os.Stat(plotPath)
	assert.NoError(t, err)

	assert.Error(t, w.Plot(plotPath, "ssim"))
}
