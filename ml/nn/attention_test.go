package nn

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/vitport/vitport/ml"
)

func TestAttentionUniformWeights(t *testing.T) {
	// identical keys make the softmax uniform, so the output is the mean of
	// the values
	q := ml.New(1, 1, 2, 3)
	k := ml.New(1, 1, 2, 3)
	v := ml.FromSlice([]float32{0, 0, 0, 2, 4, 6}, 1, 1, 2, 3)

	out := Attention(q, k, v, 1, nil, nil)
	if want := []float32{1, 2, 3, 1, 2, 3}; !slices.Equal(out.Data(), want) {
		t.Errorf("output = %v, want %v", out.Data(), want)
	}
}

func TestAttentionMaskBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	q := ml.New(2, 1, 2, 4)
	k := ml.New(2, 1, 2, 4)
	v := ml.New(2, 1, 2, 4)
	randomize(q, rng)
	randomize(k, rng)
	randomize(v, rng)

	// group 1 forbids position 0 from attending to position 1
	mask := ml.New(2, 2, 2)
	mask.Set(-100, 1, 0, 1)

	out := Attention(q, k, v, 0.5, nil, mask)

	// batch 1 uses mask group 1: its position 0 output is value row 0
	for d := 0; d < 4; d++ {
		got := float64(out.At(1, 0, 0, d))
		want := float64(v.At(1, 0, 0, d))
		if math.Abs(got-want) > 1e-4 {
			t.Errorf("masked output dim %d = %g, want %g", d, got, want)
		}
	}
}

func TestAttentionBiasShifts(t *testing.T) {
	q := ml.New(1, 2, 2, 2)
	k := ml.New(1, 2, 2, 2)
	v := ml.FromSlice([]float32{1, 0, 3, 0, 5, 0, 7, 0}, 1, 2, 2, 2)

	// a large bias toward key 1 pins the attention there
	bias := ml.New(2, 2, 2)
	for h := 0; h < 2; h++ {
		for i := 0; i < 2; i++ {
			bias.Set(50, h, i, 1)
		}
	}

	out := Attention(q, k, v, 1, bias, nil)
	for h := 0; h < 2; h++ {
		for i := 0; i < 2; i++ {
			if got, want := out.At(0, h, i, 0), v.At(0, h, 1, 0); math.Abs(float64(got-want)) > 1e-4 {
				t.Errorf("head %d query %d attends to %g, want key 1 value %g", h, i, got, want)
			}
		}
	}
}

func TestSplitMergeHeadsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	x := ml.New(2, 3, 8)
	randomize(x, rng)

	back := MergeHeads(SplitHeads(x, 4))
	if !slices.Equal(back.Data(), x.Data()) {
		t.Error("SplitHeads/MergeHeads is not an identity")
	}
}

func TestConv2DPatchProjection(t *testing.T) {
	m := NewConv2D(1, 2, 2)

	// out channel 0 sums the patch, channel 1 picks its top-left element
	for i := 0; i < 4; i++ {
		m.Weight.Data()[i] = 1
	}
	m.Weight.Set(1, 1, 0, 0, 0)
	m.Bias.Set(0.5, 1)

	x := ml.FromSlice([]float32{
		1, 2, 10, 20,
		3, 4, 30, 40,
		5, 6, 50, 60,
		7, 8, 70, 80,
	}, 1, 1, 4, 4)

	out := m.Forward(x)
	if !slices.Equal(out.Shape(), []int{1, 4, 2}) {
		t.Fatalf("shape = %v", out.Shape())
	}

	want := []float32{
		10, 1.5, // patch (0,0): sum 1+2+3+4, top-left 1 + bias
		100, 10.5,
		26, 5.5,
		260, 50.5,
	}
	if !slices.Equal(out.Data(), want) {
		t.Errorf("output = %v, want %v", out.Data(), want)
	}
}
