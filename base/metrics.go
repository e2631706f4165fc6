package base

import (
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/vsr/graph"
)

// MetricSet maps metric names to graph nodes, keeping insertion order.
type MetricSet struct {
	names []string
	nodes map[string]*graph.Node
}

// NewMetricSet creates an empty set.
func NewMetricSet() *MetricSet {
	return &MetricSet{nodes: make(map[string]*graph.Node)}
}

// Add registers n under name. Re-adding a name replaces the node in place.
func (s *MetricSet) Add(name string, n *graph.Node) {
	if _, ok := s.nodes[name]; !ok {
		s.names = append(s.names, name)
	}
	s.nodes[name] = n
}

// Node returns the node registered under name.
func (s *MetricSet) Node(name string) (*graph.Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

// Names returns metric names in insertion order.
func (s *MetricSet) Names() []string {
	return s.names
}

// Nodes returns metric nodes in insertion order.
func (s *MetricSet) Nodes() []*graph.Node {
	nodes := make([]*graph.Node, len(s.names))
	for i, name := range s.names {
		nodes[i] = s.nodes[name]
	}
	return nodes
}

// Len returns the number of metrics.
func (s *MetricSet) Len() int {
	return len(s.names)
}

// Metrics holds evaluated metric values by name in the model's metric order.
// Per-image metrics (psnr, ssim) hold one value per batch item.
type Metrics struct {
	names  []string
	values map[string][]float64
}

func newMetrics(names []string, values []*ts.Tensor) *Metrics {
	m := &Metrics{
		names:  names,
		values: make(map[string][]float64, len(names)),
	}
	for i, name := range names {
		m.values[name] = values[i].Float64Values()
	}
	return m
}

// Names returns metric names in order.
func (m *Metrics) Names() []string {
	return m.names
}

// Get returns the values of metric name.
func (m *Metrics) Get(name string) ([]float64, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Scalar returns the mean of metric name, or false if it is missing.
func (m *Metrics) Scalar(name string) (float64, bool) {
	v, ok := m.values[name]
	if !ok || len(v) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v)), true
}

// Len returns the number of metrics.
func (m *Metrics) Len() int {
	return len(m.names)
}
