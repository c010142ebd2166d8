package convert

import (
	"errors"
	"path/filepath"

	"github.com/vitport/vitport/ml"
)

// ErrUnknownFormat is returned when a checkpoint directory matches none of
// the known tensor-file layouts.
var ErrUnknownFormat = errors.New("convert: unknown checkpoint format")

// ParseTensors loads every tensor under d into a namespace keyed by the
// checkpoint's parameter paths. The file layout is detected by name:
// single-file and sharded safetensors, then the pickle-based formats.
func ParseTensors(d string) (*ml.Namespace, error) {
	patterns := []struct {
		glob  string
		parse func(...string) (*ml.Namespace, error)
	}{
		{"model-*-of-*.safetensors", parseSafetensors},
		{"model.safetensors", parseSafetensors},
		{"pytorch_model-*-of-*.bin", parseTorch},
		{"pytorch_model.bin", parseTorch},
		{"consolidated.*.pth", parseTorch},
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(d, pattern.glob))
		if err != nil {
			return nil, err
		}

		if len(matches) > 0 {
			return pattern.parse(matches...)
		}
	}

	return nil, ErrUnknownFormat
}
