package graph

import (
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"

	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"google.golang.org/protobuf/encoding/protowire"
)

// Producer is written into every frozen graph.
const Producer = "vsr"

// GraphDefVersion is the wire format version of frozen graphs.
const GraphDefVersion = 1

// Const is a variable value frozen into a node.
type Const struct {
	Name  string
	Shape []int64
	Data  []float32
}

// NodeDef is a frozen node.
type NodeDef struct {
	Name     string
	Op       string
	Inputs   []string
	Channels int64
	Attrs    []Attr
	Consts   []Const
}

// Attr returns the value of attribute key.
func (n *NodeDef) Attr(key string) (interface{}, bool) {
	for _, a := range n.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// GraphDef is an inference-only graph with all variables stored as constants.
type GraphDef struct {
	Producer string
	Version  int64
	Nodes    []NodeDef
	Outputs  []string
}

// Node finds a frozen node by name.
func (d *GraphDef) Node(name string) (*NodeDef, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].Name == name {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Freeze extracts the sub-graph reachable from outputs. Training-only nodes are
// rejected, identity nodes are bypassed and params are copied into constants.
// Nodes are listed so that every node comes after its inputs.
func Freeze(outputs []*Node) (*GraphDef, error) {
	if len(outputs) == 0 {
		return nil, errors.New("freeze: no outputs")
	}

	def := &GraphDef{Producer: Producer, Version: GraphDefVersion}
	visited := make(map[*Node]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if visited[n] {
			return nil
		}
		visited[n] = true
		if n.training {
			return fmt.Errorf("freeze: output depends on training-only node %v", n)
		}
		for _, in := range n.inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		if n.op == OpIdentity {
			return nil
		}

		nd := NodeDef{
			Name:     n.name,
			Op:       n.op,
			Channels: n.channels,
			Attrs:    n.attrs,
		}
		for _, in := range n.inputs {
			nd.Inputs = append(nd.Inputs, stripIdentity(in).name)
		}
		for _, p := range n.params {
			c, err := freezeParam(p)
			if err != nil {
				return fmt.Errorf("freeze %v: %w", n, err)
			}
			nd.Consts = append(nd.Consts, c)
		}
		def.Nodes = append(def.Nodes, nd)
		return nil
	}

	for _, o := range outputs {
		if err := visit(o); err != nil {
			return nil, err
		}
		def.Outputs = append(def.Outputs, stripIdentity(o).name)
	}
	return def, nil
}

func stripIdentity(n *Node) *Node {
	for n.op == OpIdentity && len(n.inputs) == 1 {
		n = n.inputs[0]
	}
	return n
}

func freezeParam(p Param) (Const, error) {
	if p.Tensor == nil || !p.Tensor.MustDefined() {
		return Const{}, fmt.Errorf("param %q is undefined", p.Name)
	}
	var vals []float64
	ts.NoGrad(func() {
		x := p.Tensor.MustDetach(false).MustTotype(gotch.Double, true)
		if x.MustDevice() != gotch.CPU {
			x = x.MustTo(gotch.CPU, true)
		}
		vals = x.Float64Values()
		x.MustDrop()
	})
	data := make([]float32, len(vals))
	for i, v := range vals {
		data[i] = float32(v)
	}
	return Const{Name: p.Name, Shape: p.Tensor.MustSize(), Data: data}, nil
}

// WriteGraph serializes def to dir/name and returns the absolute path written.
func WriteGraph(def *GraphDef, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(path, def.Marshal(), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadGraph loads a frozen graph written by WriteGraph.
func ReadGraph(path string) (*GraphDef, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}

// Field numbers of the frozen graph wire format.
const (
	graphProducer = 1
	graphNode     = 2
	graphOutput   = 3
	graphVersion  = 4

	nodeName     = 1
	nodeOp       = 2
	nodeInput    = 3
	nodeChannels = 4
	nodeAttr     = 5
	nodeConst    = 6

	attrKey     = 1
	attrInt     = 2
	attrInts    = 3
	attrFloat   = 4
	attrString  = 5
	attrBool    = 6
	attrStrings = 7

	constName  = 1
	constShape = 2
	constData  = 3
)

// Marshal encodes def in protobuf wire format.
func (d *GraphDef) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, graphProducer, protowire.BytesType)
	b = protowire.AppendString(b, d.Producer)
	b = protowire.AppendTag(b, graphVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Version))
	for i := range d.Nodes {
		b = protowire.AppendTag(b, graphNode, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNode(&d.Nodes[i]))
	}
	for _, o := range d.Outputs {
		b = protowire.AppendTag(b, graphOutput, protowire.BytesType)
		b = protowire.AppendString(b, o)
	}
	return b
}

func marshalNode(n *NodeDef) []byte {
	var b []byte
	b = protowire.AppendTag(b, nodeName, protowire.BytesType)
	b = protowire.AppendString(b, n.Name)
	b = protowire.AppendTag(b, nodeOp, protowire.BytesType)
	b = protowire.AppendString(b, n.Op)
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, nodeInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	b = protowire.AppendTag(b, nodeChannels, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(n.Channels))
	for _, a := range n.Attrs {
		b = protowire.AppendTag(b, nodeAttr, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalAttr(a))
	}
	for _, c := range n.Consts {
		b = protowire.AppendTag(b, nodeConst, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalConst(c))
	}
	return b
}

func marshalAttr(a Attr) []byte {
	var b []byte
	b = protowire.AppendTag(b, attrKey, protowire.BytesType)
	b = protowire.AppendString(b, a.Key)
	switch v := a.Value.(type) {
	case int64:
		b = protowire.AppendTag(b, attrInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	case []int64:
		b = protowire.AppendTag(b, attrInts, protowire.BytesType)
		b = protowire.AppendBytes(b, packInts(v))
	case float64:
		b = protowire.AppendTag(b, attrFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	case string:
		b = protowire.AppendTag(b, attrString, protowire.BytesType)
		b = protowire.AppendString(b, v)
	case bool:
		b = protowire.AppendTag(b, attrBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v))
	case []string:
		for _, s := range v {
			b = protowire.AppendTag(b, attrStrings, protowire.BytesType)
			b = protowire.AppendString(b, s)
		}
	default:
		b = protowire.AppendTag(b, attrString, protowire.BytesType)
		b = protowire.AppendString(b, fmt.Sprint(v))
	}
	return b
}

func marshalConst(c Const) []byte {
	var b []byte
	b = protowire.AppendTag(b, constName, protowire.BytesType)
	b = protowire.AppendString(b, c.Name)
	b = protowire.AppendTag(b, constShape, protowire.BytesType)
	b = protowire.AppendBytes(b, packInts(c.Shape))
	data := make([]byte, 0, 4*len(c.Data))
	for _, v := range c.Data {
		data = protowire.AppendFixed32(data, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, constData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	return b
}

func packInts(vs []int64) []byte {
	var b []byte
	for _, v := range vs {
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
	}
	return b
}

func unpackInts(b []byte) ([]int64, error) {
	vs := []int64{}
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		vs = append(vs, protowire.DecodeZigZag(v))
		b = b[n:]
	}
	return vs, nil
}

// field is one decoded wire field.
type field struct {
	num    protowire.Number
	varint uint64
	fixed  uint64
	bytes  []byte
}

func consumeFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.fixed = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

// Unmarshal decodes a frozen graph produced by Marshal.
func Unmarshal(b []byte) (*GraphDef, error) {
	fields, err := consumeFields(b)
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	def := &GraphDef{}
	for _, f := range fields {
		switch f.num {
		case graphProducer:
			def.Producer = string(f.bytes)
		case graphVersion:
			def.Version = int64(f.varint)
		case graphOutput:
			def.Outputs = append(def.Outputs, string(f.bytes))
		case graphNode:
			n, err := unmarshalNode(f.bytes)
			if err != nil {
				return nil, fmt.Errorf("unmarshal graph: %w", err)
			}
			def.Nodes = append(def.Nodes, n)
		}
	}
	return def, nil
}

func unmarshalNode(b []byte) (NodeDef, error) {
	var n NodeDef
	fields, err := consumeFields(b)
	if err != nil {
		return n, err
	}
	for _, f := range fields {
		switch f.num {
		case nodeName:
			n.Name = string(f.bytes)
		case nodeOp:
			n.Op = string(f.bytes)
		case nodeInput:
			n.Inputs = append(n.Inputs, string(f.bytes))
		case nodeChannels:
			n.Channels = protowire.DecodeZigZag(f.varint)
		case nodeAttr:
			a, err := unmarshalAttr(f.bytes)
			if err != nil {
				return n, err
			}
			n.Attrs = append(n.Attrs, a)
		case nodeConst:
			c, err := unmarshalConst(f.bytes)
			if err != nil {
				return n, err
			}
			n.Consts = append(n.Consts, c)
		}
	}
	return n, nil
}

func unmarshalAttr(b []byte) (Attr, error) {
	var a Attr
	fields, err := consumeFields(b)
	if err != nil {
		return a, err
	}
	var strs []string
	for _, f := range fields {
		switch f.num {
		case attrKey:
			a.Key = string(f.bytes)
		case attrInt:
			a.Value = protowire.DecodeZigZag(f.varint)
		case attrInts:
			vs, err := unpackInts(f.bytes)
			if err != nil {
				return a, err
			}
			a.Value = vs
		case attrFloat:
			a.Value = math.Float64frombits(f.fixed)
		case attrString:
			a.Value = string(f.bytes)
		case attrBool:
			a.Value = protowire.DecodeBool(f.varint)
		case attrStrings:
			strs = append(strs, string(f.bytes))
		}
	}
	if strs != nil {
		a.Value = strs
	}
	return a, nil
}

func unmarshalConst(b []byte) (Const, error) {
	var c Const
	fields, err := consumeFields(b)
	if err != nil {
		return c, err
	}
	for _, f := range fields {
		switch f.num {
		case constName:
			c.Name = string(f.bytes)
		case constShape:
			c.Shape, err = unpackInts(f.bytes)
			if err != nil {
				return c, err
			}
		case constData:
			data := f.bytes
			c.Data = make([]float32, 0, len(data)/4)
			for len(data) > 0 {
				v, n := protowire.ConsumeFixed32(data)
				if n < 0 {
					return c, protowire.ParseError(n)
				}
				c.Data = append(c.Data, math.Float32frombits(v))
				data = data[n:]
			}
		}
	}
	return c, nil
}
