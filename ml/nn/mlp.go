package nn

import "github.com/vitport/vitport/ml"

// MLP is the transformer feed-forward block: fc1 -> GELU -> fc2.
type MLP struct {
	FC1 *Linear
	FC2 *Linear
}

func NewMLP(in, hidden int, layout Layout) *MLP {
	return &MLP{
		FC1: NewLinear(in, hidden, true, layout),
		FC2: NewLinear(hidden, in, true, layout),
	}
}

func (m *MLP) Forward(x *ml.Tensor) *ml.Tensor {
	return m.FC2.Forward(ml.GELU(m.FC1.Forward(x)))
}

func (m *MLP) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "fc1", Module: m.FC1},
		{Name: "fc2", Module: m.FC2},
	}
}
