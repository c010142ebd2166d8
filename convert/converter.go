package convert

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vitport/vitport/fs/ggml"
	"github.com/vitport/vitport/ml"
)

type ModelParameters struct {
	Architectures []string `json:"architectures"`
}

// ModelConverter adapts one architecture to the conversion pipeline.
type ModelConverter interface {
	// KV maps the configuration to GGUF key-values.
	KV() ggml.KV
	// Mapping enumerates the source-to-destination name pairs.
	Mapping() []Entry
	// Target returns the destination namespace: the parameters and buffers
	// of a freshly constructed destination-layout model.
	Target() *ml.Namespace
}

// ConvertModel reads the checkpoint in dir, reconciles it into the
// destination naming and layout convention, and writes the result to ws as
// GGUF. The architecture is taken from config.json; a non-empty arch
// overrides it.
func ConvertModel(d string, ws io.WriteSeeker, strict bool, arch string) error {
	bts, err := os.ReadFile(filepath.Join(d, "config.json"))
	if err != nil {
		return err
	}

	var p ModelParameters
	if err := json.Unmarshal(bts, &p); err != nil {
		return err
	}

	if arch == "" {
		if len(p.Architectures) < 1 {
			return errors.New("unknown architecture")
		}
		arch = p.Architectures[0]
	}

	var conv ModelConverter
	switch arch {
	case "SwinForImageClassification", "swin":
		conv = &swinModel{}
	case "Trans2Seg", "trans2seg":
		conv = &trans2segModel{}
	default:
		return errors.New("unsupported architecture")
	}

	if err := json.Unmarshal(bts, conv); err != nil {
		return err
	}

	src, err := ParseTensors(d)
	if err != nil {
		return err
	}

	dst := conv.Target()
	mapping := conv.Mapping()

	r := NewReconciler()
	r.Strict = strict
	if err := r.CopyValues(mapping, src, dst); err != nil {
		return err
	}

	srcMissing, dstMissing := MissingKeys(mapping, src, dst)
	for _, key := range srcMissing {
		slog.Warn("source key not mapped", "key", key)
	}
	for _, key := range dstMissing {
		slog.Warn("destination key not filled", "key", key)
	}

	var ts []ggml.Tensor
	for _, key := range dst.Keys() {
		t, _ := dst.Get(key)

		shape := make([]uint64, t.Dims())
		for i := range shape {
			shape[i] = uint64(t.Dim(i))
		}

		ts = append(ts, ggml.Tensor{
			Name:     key,
			Kind:     ggml.TensorKindF32,
			Shape:    shape,
			WriterTo: tensorWriter{t},
		})
	}

	return ggml.WriteGGUF(ws, conv.KV(), ts)
}

type tensorWriter struct {
	t *ml.Tensor
}

func (w tensorWriter) WriteTo(dst io.Writer) (int64, error) {
	if err := binary.Write(dst, binary.LittleEndian, w.t.Data()); err != nil {
		return 0, err
	}

	return int64(4 * w.t.Size()), nil
}
