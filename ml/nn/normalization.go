package nn

import (
	"math"

	"github.com/vitport/vitport/ml"
)

type LayerNorm struct {
	Weight *ml.Tensor
	Bias   *ml.Tensor
	Eps    float32
}

func NewLayerNorm(dim int) *LayerNorm {
	m := &LayerNorm{Weight: ml.New(dim), Bias: ml.New(dim), Eps: 1e-5}
	for i := range m.Weight.Data() {
		m.Weight.Data()[i] = 1
	}

	return m
}

// Forward normalizes the last dimension of x.
func (m *LayerNorm) Forward(x *ml.Tensor) *ml.Tensor {
	dim := x.Dim(x.Dims() - 1)
	out := x.Clone()
	data := out.Data()
	w, b := m.Weight.Data(), m.Bias.Data()

	for r := 0; r < len(data); r += dim {
		row := data[r : r+dim]

		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(dim)

		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(dim)

		inv := 1 / math.Sqrt(variance+float64(m.Eps))
		for i, v := range row {
			row[i] = float32((float64(v)-mean)*inv)*w[i] + b[i]
		}
	}

	return out
}

func (m *LayerNorm) Submodules() []ml.Named { return nil }

func (m *LayerNorm) Params() []ml.Param {
	return []ml.Param{
		{Name: "weight", Tensor: m.Weight},
		{Name: "bias", Tensor: m.Bias},
	}
}

func (m *LayerNorm) ScaleParam() *ml.Tensor { return m.Weight }
func (m *LayerNorm) ShiftParam() *ml.Tensor { return m.Bias }
