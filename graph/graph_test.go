package graph_test

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
)

func grayBatch(n, h, w int64) *ts.Tensor {
	data := make([]uint8, n*h*w)
	for i := range data {
		data[i] = uint8(i % 256)
	}
	return ts.MustOfSlice(data).MustView([]int64{n, h, w, 1}, true)
}

func TestPlaceholderPermutesToNCHW(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	x := graph.Cast(g, "cast", in, gotch.Float)

	sess := graph.NewSession(gotch.CPU)
	feed := graph.NewFeed(false)
	batch := grayBatch(2, 4, 6)
	defer batch.MustDrop()
	require.NoError(t, feed.Bind(in, batch))

	out, err := sess.Run([]*graph.Node{x}, feed)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []int64{2, 1, 4, 6}, out[0].MustSize())
	out[0].MustDrop()
}

func TestPlaceholderRejectsWrongChannels(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 4)

	feed := graph.NewFeed(false)
	batch := grayBatch(1, 4, 4)
	defer batch.MustDrop()
	require.NoError(t, feed.Bind(in, batch))

	_, err := graph.NewSession(gotch.CPU).Run([]*graph.Node{in}, feed)
	assert.Error(t, err)
}

func TestRunWithoutFeedFails(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	_, err := graph.NewSession(gotch.CPU).Run([]*graph.Node{in}, nil)
	assert.ErrorIs(t, err, graph.ErrNotFed)
}

func TestBindRejectsNonPlaceholder(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	x := graph.Cast(g, "cast", in, gotch.Float)

	batch := grayBatch(1, 2, 2)
	defer batch.MustDrop()
	err := graph.NewFeed(false).Bind(x, batch)
	assert.ErrorIs(t, err, graph.ErrNotPlaceholder)
}

func TestSharedNodeEvaluatedOnce(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	calls := 0
	shared := g.NewNode("Count", "count", func(_ *graph.Run, xs []*ts.Tensor) (*ts.Tensor, error) {
		calls++
		return xs[0].MustTotype(gotch.Float, false), nil
	}, in)
	a := graph.Scale(g, "a", shared, 2)
	b := graph.Scale(g, "b", shared, 3)

	feed := graph.NewFeed(false)
	batch := grayBatch(1, 2, 2)
	defer batch.MustDrop()
	require.NoError(t, feed.Bind(in, batch))

	out, err := graph.NewSession(gotch.CPU).Run([]*graph.Node{a, b, a}, feed)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	require.Len(t, out, 3)
	for _, x := range out {
		x.MustDrop()
	}
}

func TestUniqueNamesInScopes(t *testing.T) {
	g := graph.New()
	s := g.Scope("espcn")
	in := g.Placeholder("input", gotch.Uint8, 1)
	a := graph.Identity(s, "id", in)
	b := graph.Identity(s, "id", in)

	assert.Equal(t, "espcn/id", a.Name())
	assert.Equal(t, "espcn/id_1", b.Name())
	assert.Equal(t, "espcn", s.Prefix())
}

func TestPixelShiftUnequalScale(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 6)
	x := graph.Cast(g, "cast", in, gotch.Float)
	y := graph.PixelShift(g, "shift", x, 2, 3, 1)
	assert.Equal(t, int64(1), y.Channels())

	data := make([]uint8, 1*4*5*6)
	batch := ts.MustOfSlice(data).MustView([]int64{1, 4, 5, 6}, true)
	defer batch.MustDrop()
	feed := graph.NewFeed(false)
	require.NoError(t, feed.Bind(in, batch))

	out, err := graph.NewSession(gotch.CPU).Run([]*graph.Node{y}, feed)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 8, 15}, out[0].MustSize())
	out[0].MustDrop()
}

func TestFreezeSkipsIdentityAndRoundTrips(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	x := graph.Cast(g, "cast", in, gotch.Float)
	id := graph.Identity(g, "identity", x)
	y := graph.Scale(g, "scale", id, 0.5)
	loss := g.NewNode("Loss", "loss", func(_ *graph.Run, xs []*ts.Tensor) (*ts.Tensor, error) {
		return xs[0].MustMean(gotch.Float, false), nil
	}, y).MarkTraining()
	_ = loss

	def, err := graph.Freeze([]*graph.Node{y})
	require.NoError(t, err)

	var ops []string
	for _, n := range def.Nodes {
		ops = append(ops, n.Op)
	}
	assert.Equal(t, []string{graph.OpPlaceholder, graph.OpCast, graph.OpScale}, ops)
	scale, ok := def.Node("scale")
	require.True(t, ok)
	assert.Equal(t, []string{"cast"}, scale.Inputs)
	assert.Equal(t, []string{"scale"}, def.Outputs)

	dir, err := ioutil.TempDir("", "graph")
	require.NoError(t, err)
	path, err := graph.WriteGraph(def, dir, "model.pb")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.pb"), path)

	got, err := graph.ReadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, graph.Producer, got.Producer)
	require.Len(t, got.Nodes, 3)
	factor, ok := got.Nodes[2].Attr("factor")
	require.True(t, ok)
	assert.Equal(t, 0.5, factor)
	layout, _ := got.Nodes[0].Attr("layout")
	assert.Equal(t, "NHWC", layout)
}

func TestFreezeRejectsTrainingDependency(t *testing.T) {
	g := graph.New()
	in := g.Placeholder("input", gotch.Uint8, 1)
	x := graph.Cast(g, "cast", in, gotch.Float).MarkTraining()
	y := graph.Scale(g, "scale", x, 2)

	_, err := graph.Freeze([]*graph.Node{y})
	assert.Error(t, err)
}

func TestConstRoundTrip(t *testing.T) {
	def := &graph.GraphDef{
		Producer: graph.Producer,
		Version:  graph.GraphDefVersion,
		Nodes: []graph.NodeDef{{
			Name:     "conv",
			Op:       graph.OpConv2D,
			Inputs:   []string{"input"},
			Channels: 4,
			Attrs:    []graph.Attr{{Key: "strides", Value: []int64{1, 1}}, {Key: "tags", Value: []string{"a", "b"}}},
			Consts:   []graph.Const{{Name: "kernel", Shape: []int64{4, 1, 3, 3}, Data: make([]float32, 36)}},
		}},
		Outputs: []string{"conv"},
	}

	got, err := graph.Unmarshal(def.Marshal())
	require.NoError(t, err)
	assert.Equal(t, def, got)
}
