package convert

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/vitport/vitport/ml"
)

func parseTorch(ps ...string) (*ml.Namespace, error) {
	ns := ml.NewNamespace()
	for _, p := range ps {
		pt, err := pytorch.Load(p)
		if err != nil {
			return nil, err
		}

		dict, ok := pt.(*types.Dict)
		if !ok {
			return nil, fmt.Errorf("unexpected checkpoint layout %T in %s", pt, p)
		}

		for _, k := range dict.Keys() {
			t, ok := dict.MustGet(k).(*pytorch.Tensor)
			if !ok {
				continue
			}

			name := k.(string)
			f32s, err := storageToFloat32(t)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}

			ns.Set(name, ml.FromSlice(f32s, t.Size...))
		}
	}

	return ns, nil
}

func storageToFloat32(t *pytorch.Tensor) ([]float32, error) {
	n := 1
	for _, dim := range t.Size {
		n *= dim
	}
	offset := int(t.StorageOffset)

	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		return s.Data[offset : offset+n], nil
	case *pytorch.HalfStorage:
		return s.Data[offset : offset+n], nil
	case *pytorch.BFloat16Storage:
		return s.Data[offset : offset+n], nil
	case *pytorch.DoubleStorage:
		f32s := make([]float32, n)
		for i, v := range s.Data[offset : offset+n] {
			f32s[i] = float32(v)
		}
		return f32s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %T", t.Source)
	}
}
