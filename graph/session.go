package graph

import (
	"errors"
	"fmt"

	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"
)

var (
	// ErrNotFed is returned when a fetched node depends on an unbound placeholder.
	ErrNotFed = errors.New("placeholder not fed")
	// ErrNotPlaceholder is returned when binding a value to a non-placeholder node.
	ErrNotPlaceholder = errors.New("node is not a placeholder")
)

// Feed binds batches to placeholders and carries the per-call control values.
type Feed struct {
	Training     bool
	LearningRate float64
	values       map[*Node]*ts.Tensor
}

// NewFeed creates an empty feed.
func NewFeed(training bool) *Feed {
	return &Feed{
		Training: training,
		values:   make(map[*Node]*ts.Tensor),
	}
}

// Bind feeds x (NHWC) to placeholder p. The feed does not take ownership of x.
func (f *Feed) Bind(p *Node, x *ts.Tensor) error {
	if !IsPlaceholder(p) {
		return fmt.Errorf("bind %v: %w", p, ErrNotPlaceholder)
	}
	f.values[p] = x
	return nil
}

// Bound returns the tensor fed to p, if any.
func (f *Feed) Bound(p *Node) (*ts.Tensor, bool) {
	x, ok := f.values[p]
	return x, ok
}

// Run is a single evaluation pass. Every node is computed at most once per run.
type Run struct {
	feed   *Feed
	device gotch.Device
	cache  map[*Node]*ts.Tensor
	order  []*Node
}

// Training reports the training flag of the run's feed.
func (r *Run) Training() bool {
	return r.feed.Training
}

// LearningRate returns the learning rate of the run's feed.
func (r *Run) LearningRate() float64 {
	return r.feed.LearningRate
}

// Device returns the device the run evaluates on.
func (r *Run) Device() gotch.Device {
	return r.device
}

// Eval returns the value of n, computing it and its inputs if needed.
func (r *Run) Eval(n *Node) (*ts.Tensor, error) {
	if x, ok := r.cache[n]; ok {
		return x, nil
	}
	if n.eval == nil {
		return nil, fmt.Errorf("node %v has no evaluation function", n)
	}

	inputs := make([]*ts.Tensor, len(n.inputs))
	for i, in := range n.inputs {
		x, err := r.Eval(in)
		if err != nil {
			return nil, err
		}
		inputs[i] = x
	}

	x, err := n.eval(r, inputs)
	if err != nil {
		return nil, err
	}
	r.cache[n] = x
	r.order = append(r.order, n)
	return x, nil
}

// release drops every cached tensor except the kept ones.
func (r *Run) release(keep map[*Node]bool) {
	for _, n := range r.order {
		if keep[n] {
			continue
		}
		r.cache[n].MustDrop()
	}
	r.cache = nil
	r.order = nil
}

// Session owns the variables of a graph and evaluates fetches against feeds.
// A session is not safe for concurrent use.
type Session struct {
	vs     *nn.VarStore
	device gotch.Device
}

// NewSession creates a session with an empty var store on device.
func NewSession(device gotch.Device) *Session {
	return &Session{
		vs:     nn.NewVarStore(device),
		device: device,
	}
}

// VarStore returns the variable store backing the session.
func (s *Session) VarStore() *nn.VarStore {
	return s.vs
}

// Device returns the session device.
func (s *Session) Device() gotch.Device {
	return s.device
}

// Run evaluates fetches in order and returns their values. The caller owns
// the returned tensors; a node fetched twice yields two handles. Runs with
// Training false are evaluated without gradient tracking. A Go panic inside
// an EvalFunc is returned as an error; failing gotch Must* calls exit the
// process, so EvalFuncs validate their inputs first.
func (s *Session) Run(fetches []*Node, feed *Feed) (out []*ts.Tensor, err error) {
	if feed == nil {
		feed = NewFeed(false)
	}
	r := &Run{
		feed:   feed,
		device: s.device,
		cache:  make(map[*Node]*ts.Tensor),
	}

	keep := make(map[*Node]bool, len(fetches))
	var clones []*ts.Tensor
	eval := func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("session run: %v", p)
			}
		}()
		for _, n := range fetches {
			x, e := r.Eval(n)
			if e != nil {
				err = e
				return
			}
			if keep[n] {
				x = x.MustShallowClone()
				clones = append(clones, x)
			}
			keep[n] = true
			out = append(out, x)
		}
	}

	if feed.Training {
		eval()
	} else {
		ts.NoGrad(eval)
	}

	if err != nil {
		for _, x := range clones {
			x.MustDrop()
		}
		r.release(nil)
		return nil, err
	}
	r.release(keep)
	return out, nil
}
