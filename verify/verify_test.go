package verify

import (
	"math/rand"
	"testing"

	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
	"github.com/vitport/vitport/model/swin"
)

var tinyConfig = swin.Config{
	ImageSize:  16,
	PatchSize:  4,
	InChannels: 3,
	EmbedDim:   8,
	Depths:     []int{2, 2},
	NumHeads:   []int{2, 4},
	WindowSize: 2,
	MLPRatio:   2,
	QKVBias:    true,
	NumClasses: 5,
}

// pretrained builds a row-major model with random weights and dumps its
// parameters the way a checkpoint reader would.
func pretrained(seed int64) *ml.Namespace {
	m := swin.New(tinyConfig, nn.RowMajor)
	m.Init(rand.New(rand.NewSource(seed)))

	src := ml.NewNamespace()
	params := ml.NamedParameters(m)
	for _, key := range params.Keys() {
		t, _ := params.Get(key)
		src.Set(key, t.Clone())
	}
	return src
}

func TestSwinLayoutEquivalence(t *testing.T) {
	if err := Swin(tinyConfig, pretrained(21), 7); err != nil {
		t.Fatalf("ported model diverges: %v", err)
	}
}

func TestSwinDetectsCorruption(t *testing.T) {
	src := pretrained(22)

	srcModel := swin.New(tinyConfig, nn.RowMajor)
	dstModel := swin.New(tinyConfig, nn.ColMajor)
	if err := LoadVerbatim(srcModel, src); err != nil {
		t.Fatal(err)
	}

	// leave the destination at its zero initialization: the forwards
	// cannot agree
	x := ml.New(1, 3, 16, 16)
	for i, data := 0, x.Data(); i < len(data); i++ {
		data[i] = float32(i%7) - 3
	}

	if err := Tensors(srcModel.Forward(x), dstModel.Forward(x), Tolerance); err == nil {
		t.Fatal("expected divergent outputs to be reported")
	}
}

func TestTensorsTolerance(t *testing.T) {
	a := ml.FromSlice([]float32{1, 2, 3}, 3)
	b := ml.FromSlice([]float32{1, 2 + 5e-6, 3}, 3)
	if err := Tensors(a, b, Tolerance); err != nil {
		t.Errorf("difference below tolerance reported: %v", err)
	}

	c := ml.FromSlice([]float32{1, 2 + 5e-4, 3}, 3)
	if err := Tensors(a, c, Tolerance); err == nil {
		t.Error("difference above tolerance not reported")
	}

	d := ml.FromSlice([]float32{1, 2}, 2)
	if err := Tensors(a, d, Tolerance); err == nil {
		t.Error("size mismatch not reported")
	}
}
