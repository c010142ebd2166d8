package nn

import (
	"fmt"

	"github.com/vitport/vitport/ml"
)

// Conv2D is a 2-D convolution whose kernel size equals its stride, i.e. a
// non-overlapping patch projection. That is the only form the vision models
// here use; the weight keeps the conventional [out, in, kh, kw] layout in
// both source and destination frameworks, so it is never transposed.
type Conv2D struct {
	Weight *ml.Tensor // [out, in, kh, kw]
	Bias   *ml.Tensor
}

func NewConv2D(in, out, kernel int) *Conv2D {
	return &Conv2D{
		Weight: ml.New(out, in, kernel, kernel),
		Bias:   ml.New(out),
	}
}

// Forward projects x of shape [batch, in, height, width] to patch embeddings
// of shape [batch, patches, out], patches ordered row-major.
func (m *Conv2D) Forward(x *ml.Tensor) *ml.Tensor {
	out, in, kh, kw := m.Weight.Dim(0), m.Weight.Dim(1), m.Weight.Dim(2), m.Weight.Dim(3)
	batch, height, width := x.Dim(0), x.Dim(2), x.Dim(3)
	if x.Dim(1) != in {
		panic(fmt.Sprintf("nn: conv weight %v does not accept input %v", m.Weight.Shape(), x.Shape()))
	}
	if height%kh != 0 || width%kw != 0 {
		panic(fmt.Sprintf("nn: input %v not divisible into %dx%d patches", x.Shape(), kh, kw))
	}

	ph, pw := height/kh, width/kw
	patches := ml.New(batch*ph*pw, in*kh*kw)

	src, dst := x.Data(), patches.Data()
	for b := 0; b < batch; b++ {
		for pi := 0; pi < ph; pi++ {
			for pj := 0; pj < pw; pj++ {
				row := ((b*ph+pi)*pw + pj) * in * kh * kw
				for c := 0; c < in; c++ {
					for i := 0; i < kh; i++ {
						srcOff := ((b*in+c)*height+pi*kh+i)*width + pj*kw
						copy(dst[row+(c*kh+i)*kw:row+(c*kh+i+1)*kw], src[srcOff:srcOff+kw])
					}
				}
			}
		}
	}

	t := ml.AddBias(ml.MatMulT(patches, m.Weight.Reshape(out, in*kh*kw)), m.Bias)
	return t.Reshape(batch, ph*pw, out)
}

func (m *Conv2D) Submodules() []ml.Named { return nil }

func (m *Conv2D) Params() []ml.Param {
	return []ml.Param{
		{Name: "weight", Tensor: m.Weight},
		{Name: "bias", Tensor: m.Bias},
	}
}
