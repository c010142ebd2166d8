package convert

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	"github.com/vitport/vitport/ml"
)

// Reconciler copies tensors across a name mapping, transposing 2-D weights
// between the row-major and column-major linear conventions.
type Reconciler struct {
	// Strict makes shape mismatches fail fast. Off by default: the write is
	// attempted and only an incompatible element count is rejected.
	Strict bool

	// Out receives the per-copy diagnostic lines. Defaults to standard
	// output.
	Out io.Writer
}

func NewReconciler() *Reconciler {
	return &Reconciler{Out: os.Stdout}
}

// CopyValues resolves each mapping entry against the source and destination
// namespaces and copies the resolved tensors. An entry whose paths exist
// directly on both sides copies once; otherwise its .weight and .bias
// suffixes are tried independently. Entries resolving on neither side are
// skipped without error.
//
// A source tensor is transposed when it is exactly 2-D and its key does not
// end in relative_position_bias_table; the bias table is indexed by relative
// offset, not a linear weight, and keeps its orientation. Destination
// tensors are mutated in place, so views handed out earlier observe the new
// values. Running CopyValues twice is equivalent to running it once.
func (r *Reconciler) CopyValues(mapping []Entry, src, dst *ml.Namespace) error {
	for _, e := range mapping {
		sv, sok := src.Get(e.Src)
		dv, dok := dst.Get(e.Dst)
		if sok && dok {
			if err := r.copyOne(e.Src, e.Dst, sv, dv); err != nil {
				return err
			}
			continue
		}

		for _, suffix := range [...]string{".weight", ".bias"} {
			sv, sok = src.Get(e.Src + suffix)
			dv, dok = dst.Get(e.Dst + suffix)
			if sok && dok {
				if err := r.copyOne(e.Src+suffix, e.Dst+suffix, sv, dv); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (r *Reconciler) copyOne(srcKey, dstKey string, sv, dv *ml.Tensor) error {
	if r.Out != nil {
		fmt.Fprintf(r.Out, "copy %s %v -> %s %v\n", srcKey, sv.Shape(), dstKey, dv.Shape())
	}

	values := sv.Data()
	shape := sv.Shape()
	if sv.Dims() == 2 && !strings.HasSuffix(srcKey, "relative_position_bias_table") {
		var err error
		if values, err = transposed(sv); err != nil {
			return fmt.Errorf("transposing %s: %w", srcKey, err)
		}
		shape[0], shape[1] = shape[1], shape[0]
	}

	if r.Strict && !slices.Equal(shape, dv.Shape()) {
		return fmt.Errorf("shape mismatch: %s %v does not fit %s %v", srcKey, sv.Shape(), dstKey, dv.Shape())
	}

	if err := dv.CopyFrom(values); err != nil {
		return fmt.Errorf("assigning %s to %s: %w", srcKey, dstKey, err)
	}

	slog.Debug("copied tensor", "src", srcKey, "dst", dstKey, "shape", dv.Shape())
	return nil
}

// transposed returns the elements of a 2-D tensor with its axes swapped.
func transposed(t *ml.Tensor) ([]float32, error) {
	rows, cols := t.Dim(0), t.Dim(1)

	n := tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(slices.Clone(t.Data())))
	if err := n.T(); err != nil {
		return nil, err
	}
	if err := n.Transpose(); err != nil {
		return nil, err
	}
	if err := n.Reshape(rows * cols); err != nil {
		return nil, err
	}

	return native.VectorF32(n)
}
