// Package verify implements the numeric acceptance gate for a ported
// checkpoint: the same input must produce the same output through the
// source-convention and destination-convention model instances.
package verify

import (
	"fmt"
	"log/slog"
	"math/rand"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/vitport/vitport/convert"
	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
	"github.com/vitport/vitport/model/swin"
)

// Tolerance is the absolute per-element bound the two forwards must meet.
const Tolerance = 1e-5

// Swin loads src into a row-major Swin instance, reconciles it into a
// column-major instance, and compares their logits on a seeded random batch.
// A nil error is the only pass condition.
func Swin(cfg swin.Config, src *ml.Namespace, seed int64) error {
	srcModel := swin.New(cfg, nn.RowMajor)
	dstModel := swin.New(cfg, nn.ColMajor)

	if err := LoadVerbatim(srcModel, src); err != nil {
		return err
	}

	r := convert.NewReconciler()
	r.Out = nil
	mapping := convert.BuildMapping(cfg.Depths)
	if err := r.CopyValues(mapping, namespaceOf(srcModel), namespaceOf(dstModel)); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	x := ml.New(2, cfg.InChannels, cfg.ImageSize, cfg.ImageSize)
	for i, data := 0, x.Data(); i < len(data); i++ {
		data[i] = float32(rng.NormFloat64())
	}

	slog.Debug("running forward passes", "input", x.Shape())
	out := srcModel.Forward(x)
	ported := dstModel.Forward(x)

	return Tensors(out, ported, Tolerance)
}

// LoadVerbatim copies src values into m's parameters by exact name, no
// transposition. Keys absent from src are left at their initialized values;
// buffers are deterministic and never loaded.
func LoadVerbatim(m ml.Module, src *ml.Namespace) error {
	params := ml.NamedParameters(m)
	for _, key := range params.Keys() {
		v, ok := src.Get(key)
		if !ok {
			slog.Warn("parameter not in checkpoint", "key", key)
			continue
		}

		t, _ := params.Get(key)
		if err := t.CopyFrom(v.Data()); err != nil {
			return fmt.Errorf("loading %s: %w", key, err)
		}
	}

	return nil
}

// Tensors reports the first element pair differing by more than tol.
func Tensors(a, b *ml.Tensor, tol float64) error {
	if a.Size() != b.Size() {
		return fmt.Errorf("output sizes differ: %v vs %v", a.Shape(), b.Shape())
	}

	for i := range a.Data() {
		av, bv := float64(a.Data()[i]), float64(b.Data()[i])
		if !scalar.EqualWithinAbs(av, bv, tol) {
			return fmt.Errorf("outputs diverge at element %d: %g vs %g (tolerance %g)", i, av, bv, tol)
		}
	}

	return nil
}

func namespaceOf(m ml.Module) *ml.Namespace {
	ns := ml.NamedParameters(m)
	buffers := ml.NamedBuffers(m)
	for _, key := range buffers.Keys() {
		t, _ := buffers.Get(key)
		ns.Set(key, t)
	}

	return ns
}
