package convert

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/maps"

	"github.com/vitport/vitport/ml"
)

type safetensorMetadata struct {
	Type    string   `json:"dtype"`
	Shape   []uint64 `json:"shape"`
	Offsets []int64  `json:"data_offsets"`
}

func parseSafetensors(ps ...string) (*ml.Namespace, error) {
	ns := ml.NewNamespace()
	for _, p := range ps {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		var n int64
		if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
			return nil, err
		}

		b := bytes.NewBuffer(make([]byte, 0, n))
		if _, err = io.CopyN(b, f, n); err != nil {
			return nil, err
		}

		var headers map[string]safetensorMetadata
		if err := json.NewDecoder(b).Decode(&headers); err != nil {
			return nil, err
		}

		keys := maps.Keys(headers)
		slices.Sort(keys)

		for _, key := range keys {
			value := headers[key]
			if value.Type == "" {
				// the __metadata__ entry
				continue
			}

			// bitsandbytes quantized models are unsupported
			if len(value.Shape) == 0 {
				return nil, errors.New("unsupported safetensors model")
			}

			if ns.Has(key) {
				return nil, fmt.Errorf("duplicate tensor name %q", key)
			}

			f32s, err := readSafetensor(f, 8+n+value.Offsets[0], value.Offsets[1]-value.Offsets[0], value.Type)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", key, err)
			}

			shape := make([]int, len(value.Shape))
			for i, dim := range value.Shape {
				shape[i] = int(dim)
			}

			ns.Set(key, ml.FromSlice(f32s, shape...))
		}
	}

	return ns, nil
}

func readSafetensor(f io.ReadSeeker, offset, size int64, dtype string) ([]float32, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}

	switch dtype {
	case "F32":
		f32s := make([]float32, size/4)
		if err := binary.Read(f, binary.LittleEndian, f32s); err != nil {
			return nil, err
		}
		return f32s, nil
	case "F16":
		u16s := make([]uint16, size/2)
		if err := binary.Read(f, binary.LittleEndian, u16s); err != nil {
			return nil, err
		}

		f32s := make([]float32, len(u16s))
		for i := range u16s {
			f32s[i] = float16.Frombits(u16s[i]).Float32()
		}
		return f32s, nil
	case "BF16":
		u8s := make([]uint8, size)
		if err := binary.Read(f, binary.LittleEndian, u8s); err != nil {
			return nil, err
		}
		return bfloat16.DecodeFloat32(u8s), nil
	default:
		return nil, fmt.Errorf("unknown data type: %s", dtype)
	}
}
