package base

import (
	"fmt"

	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
	"github.com/sugarme/vsr/summary"
)

// bind binds xs positionally to nodes.
func bind(feed *graph.Feed, nodes []*graph.Node, xs []*ts.Tensor, what string) error {
	if len(xs) != len(nodes) {
		return fmt.Errorf("%w: %v %v for %v placeholders", ErrFeedMismatch, len(xs), what, len(nodes))
	}
	for i, n := range nodes {
		if err := feed.Bind(n, xs[i]); err != nil {
			return err
		}
	}
	return nil
}

func dropAll(xs []*ts.Tensor) {
	for _, x := range xs {
		x.MustDrop()
	}
}

// TrainBatch runs one optimization step on a batch of NHWC uint8 features
// and labels at learning rate lr, returning the metrics computed before the
// update. extra is reserved for architecture-specific feeds.
func (m *SuperResolution) TrainBatch(features, labels []*ts.Tensor, lr float64, extra Extra) (*Metrics, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	feed := graph.NewFeed(true)
	feed.LearningRate = lr
	if err := bind(feed, m.Inputs, features, "features"); err != nil {
		return nil, err
	}
	if err := bind(feed, m.Label, labels, "labels"); err != nil {
		return nil, err
	}

	fetches := append(m.Metrics.Nodes(), m.Loss...)
	out, err := m.Session.Run(fetches, feed)
	if err != nil {
		return nil, fmt.Errorf("train batch: %w", err)
	}
	defer dropAll(out)

	return newMetrics(m.Metrics.Names(), out[:m.Metrics.Len()]), nil
}

// ValidateBatch evaluates metrics and summaries on a batch without updating
// variables. The returned event is nil when the model has no summaries.
func (m *SuperResolution) ValidateBatch(features, labels []*ts.Tensor, extra Extra) (*Metrics, *summary.Event, error) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	feed := graph.NewFeed(false)
	if err := bind(feed, m.Inputs, features, "features"); err != nil {
		return nil, nil, err
	}
	if err := bind(feed, m.Label, labels, "labels"); err != nil {
		return nil, nil, err
	}

	fetches := m.Metrics.Nodes()
	if m.SummaryOp != nil {
		fetches = append(fetches, m.SummaryOp)
	}
	out, err := m.Session.Run(fetches, feed)
	if err != nil {
		return nil, nil, fmt.Errorf("validate batch: %w", err)
	}
	defer dropAll(out)

	metrics := newMetrics(m.Metrics.Names(), out[:m.Metrics.Len()])
	if m.SummaryOp == nil {
		return metrics, nil, nil
	}
	ev, err := summary.NewEvent(m.SummaryOp, out[len(out)-1], m.globalStep)
	if err != nil {
		return nil, nil, err
	}
	return metrics, ev, nil
}

// TestBatch runs inference on inputs and returns the outputs as NHWC
// tensors owned by the caller. When labels are given the metrics are
// evaluated too, otherwise the returned metrics are nil.
func (m *SuperResolution) TestBatch(inputs, labels []*ts.Tensor, extra Extra) ([]*ts.Tensor, *Metrics, error) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	feed := graph.NewFeed(false)
	if err := bind(feed, m.Inputs, inputs, "inputs"); err != nil {
		return nil, nil, err
	}

	fetches := m.Outputs
	withLabels := len(labels) > 0
	if withLabels {
		if err := bind(feed, m.Label, labels, "labels"); err != nil {
			return nil, nil, err
		}
		fetches = append(append([]*graph.Node{}, m.Outputs...), m.Metrics.Nodes()...)
	}
	out, err := m.Session.Run(fetches, feed)
	if err != nil {
		return nil, nil, fmt.Errorf("test batch: %w", err)
	}

	outputs := make([]*ts.Tensor, len(m.Outputs))
	for i := range m.Outputs {
		outputs[i] = out[i].MustPermute([]int64{0, 2, 3, 1}, true).MustContiguous(true)
	}
	if !withLabels {
		return outputs, nil, nil
	}
	rest := out[len(m.Outputs):]
	defer dropAll(rest)
	return outputs, newMetrics(m.Metrics.Names(), rest), nil
}

// ExportModel freezes the inference part of the graph, with variables
// folded into constants, and writes it to dir/name. It returns the absolute
// path of the written file. dir defaults to "." and name to "model.pb".
func (m *SuperResolution) ExportModel(dir, name string, extra Extra) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if name == "" {
		name = "model.pb"
	}
	def, err := graph.Freeze(m.Outputs)
	if err != nil {
		return "", fmt.Errorf("export model: %w", err)
	}
	path, err := graph.WriteGraph(def, dir, name)
	if err != nil {
		return "", fmt.Errorf("export model: %w", err)
	}
	m.logger.Printf("Model exported to [ %v ].\n", path)
	return path, nil
}
