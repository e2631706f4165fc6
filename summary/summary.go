// Package summary registers scalar summaries on a graph, merges them into a
// single fetchable node and records the evaluated events.
package summary

import (
	"errors"
	"fmt"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
)

// Op types.
const (
	OpScalarSummary = "ScalarSummary"
	OpMergeSummary  = "MergeSummary"
)

// Scalar registers x, reduced to its mean, as a scalar summary named tag.
func Scalar(g *graph.Graph, tag string, x *graph.Node) *graph.Node {
	n := g.NewNode(OpScalarSummary, tag, func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		return in[0].MustDetach(false).MustMean(gotch.Float, true), nil
	}, x)
	n.WithChannels(1).WithAttr("tag", tag).MarkTraining()
	g.AddToCollection(graph.Summaries, n)
	return n
}

// MergeAll returns a node stacking every scalar summary registered on g into
// a 1D tensor, or nil if there are none.
func MergeAll(g *graph.Graph) *graph.Node {
	scalars := g.Collection(graph.Summaries)
	if len(scalars) == 0 {
		return nil
	}
	tags := make([]string, len(scalars))
	for i, s := range scalars {
		tags[i] = Tag(s)
	}
	n := g.NewNode(OpMergeSummary, "summary/merged", func(_ *graph.Run, in []*ts.Tensor) (*ts.Tensor, error) {
		vals := make([]ts.Tensor, len(in))
		for i, x := range in {
			vals[i] = *x.MustView([]int64{1}, false)
		}
		merged := ts.MustCat(vals, 0)
		for i := range vals {
			vals[i].MustDrop()
		}
		return merged, nil
	}, scalars...)
	return n.WithAttr("tags", tags).MarkTraining()
}

// Tag returns the tag of a scalar summary node.
func Tag(n *graph.Node) string {
	if v, ok := n.Attr("tag"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return n.Name()
}

// Event is one evaluation of a merged summary.
type Event struct {
	Step   int64
	Tags   []string
	Values []float64
}

// NewEvent decodes the value of a merged summary node evaluated at step.
func NewEvent(merged *graph.Node, value *ts.Tensor, step int64) (*Event, error) {
	if merged == nil || value == nil {
		return nil, errors.New("summary: nil merged summary")
	}
	v, ok := merged.Attr("tags")
	if !ok {
		return nil, fmt.Errorf("summary: %v is not a merged summary", merged)
	}
	tags := v.([]string)
	vals := value.Float64Values()
	if len(vals) != len(tags) {
		return nil, fmt.Errorf("summary: got %v values for %v tags", len(vals), len(tags))
	}
	return &Event{Step: step, Tags: tags, Values: vals}, nil
}

// Value returns the value recorded for tag.
func (e *Event) Value(tag string) (float64, bool) {
	for i, t := range e.Tags {
		if t == tag {
			return e.Values[i], true
		}
	}
	return 0, false
}
