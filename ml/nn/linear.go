package nn

import "github.com/vitport/vitport/ml"

// Layout selects the storage convention for linear weights. The two
// frameworks being bridged store the same layer with the axes swapped.
type Layout int

const (
	// RowMajor stores weights as [out, in] and computes y = x W^T + b.
	RowMajor Layout = iota
	// ColMajor stores weights as [in, out] and computes y = x W + b.
	ColMajor
)

type Linear struct {
	Weight *ml.Tensor
	Bias   *ml.Tensor // nil when the layer has no bias
	Layout Layout
}

func NewLinear(in, out int, bias bool, layout Layout) *Linear {
	m := &Linear{Layout: layout}
	if layout == RowMajor {
		m.Weight = ml.New(out, in)
	} else {
		m.Weight = ml.New(in, out)
	}
	if bias {
		m.Bias = ml.New(out)
	}

	return m
}

// Forward applies the layer to x of shape [..., in], returning [..., out].
func (m *Linear) Forward(x *ml.Tensor) *ml.Tensor {
	in := x.Dim(x.Dims() - 1)
	rows := x.Size() / in
	x2 := x.Reshape(rows, in)

	var t *ml.Tensor
	if m.Layout == RowMajor {
		t = ml.MatMulT(x2, m.Weight)
	} else {
		t = ml.MatMul(x2, m.Weight)
	}
	if m.Bias != nil {
		t = ml.AddBias(t, m.Bias)
	}

	shape := x.Shape()
	shape[len(shape)-1] = t.Dim(1)
	return t.Reshape(shape...)
}

// In returns the input feature count.
func (m *Linear) In() int {
	if m.Layout == RowMajor {
		return m.Weight.Dim(1)
	}
	return m.Weight.Dim(0)
}

// Out returns the output feature count.
func (m *Linear) Out() int {
	if m.Layout == RowMajor {
		return m.Weight.Dim(0)
	}
	return m.Weight.Dim(1)
}

func (m *Linear) Submodules() []ml.Named { return nil }

func (m *Linear) Params() []ml.Param {
	ps := []ml.Param{{Name: "weight", Tensor: m.Weight}}
	if m.Bias != nil {
		ps = append(ps, ml.Param{Name: "bias", Tensor: m.Bias})
	}
	return ps
}

func (m *Linear) WeightParam() *ml.Tensor { return m.Weight }
func (m *Linear) BiasParam() *ml.Tensor   { return m.Bias }
