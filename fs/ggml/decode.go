package ggml

import (
	"encoding/binary"
	"fmt"
	"io"
)

// GGUF is a decoded file: its metadata, tensor directory, and the position
// of the data section.
type GGUF struct {
	Version uint32
	KV      KV
	Tensors []Tensor

	dataOffset int64
}

// DecodeGGUF reads the metadata and tensor directory of a version 3 file.
// Tensor payloads stay on disk; fetch them with TensorData.
func DecodeGGUF(rs io.ReadSeeker) (*GGUF, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(rs, magic); err != nil {
		return nil, err
	}
	if string(magic) != string(ggufMagic) {
		return nil, fmt.Errorf("invalid magic %q", magic)
	}

	g := &GGUF{KV: make(KV)}
	if err := binary.Read(rs, binary.LittleEndian, &g.Version); err != nil {
		return nil, err
	}
	if g.Version != 3 {
		return nil, fmt.Errorf("unsupported version %d", g.Version)
	}

	var numTensor, numKV uint64
	if err := binary.Read(rs, binary.LittleEndian, &numTensor); err != nil {
		return nil, err
	}
	if err := binary.Read(rs, binary.LittleEndian, &numKV); err != nil {
		return nil, err
	}

	for i := uint64(0); i < numKV; i++ {
		key, err := readString(rs)
		if err != nil {
			return nil, err
		}

		v, err := readValue(rs)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}

		g.KV[key] = v
	}

	for i := uint64(0); i < numTensor; i++ {
		t, err := readTensorHeader(rs)
		if err != nil {
			return nil, err
		}

		g.Tensors = append(g.Tensors, t)
	}

	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	g.dataOffset = pos + ggufPadding(pos, ggufAlignment)

	return g, nil
}

// TensorData reads one tensor's payload as float32 values.
func (g *GGUF) TensorData(rs io.ReadSeeker, t Tensor) ([]float32, error) {
	if t.Kind != TensorKindF32 {
		return nil, fmt.Errorf("unsupported tensor kind %d", t.Kind)
	}

	if _, err := rs.Seek(g.dataOffset+int64(t.Offset), io.SeekStart); err != nil {
		return nil, err
	}

	f32s := make([]float32, t.Elements())
	if err := binary.Read(rs, binary.LittleEndian, f32s); err != nil {
		return nil, err
	}

	return f32s, nil
}

func readString(r io.Reader) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}

func readScalar[T any](r io.Reader) (T, error) {
	var v T
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readValue(r io.Reader) (any, error) {
	t, err := readScalar[uint32](r)
	if err != nil {
		return nil, err
	}

	if t == ggufTypeArray {
		return readArray(r)
	}

	return readTyped(r, t)
}

func readTyped(r io.Reader, t uint32) (any, error) {
	switch t {
	case ggufTypeUint8:
		return readScalar[uint8](r)
	case ggufTypeInt8:
		return readScalar[int8](r)
	case ggufTypeUint16:
		return readScalar[uint16](r)
	case ggufTypeInt16:
		return readScalar[int16](r)
	case ggufTypeUint32:
		return readScalar[uint32](r)
	case ggufTypeInt32:
		return readScalar[int32](r)
	case ggufTypeUint64:
		return readScalar[uint64](r)
	case ggufTypeInt64:
		return readScalar[int64](r)
	case ggufTypeFloat32:
		return readScalar[float32](r)
	case ggufTypeFloat64:
		return readScalar[float64](r)
	case ggufTypeBool:
		return readScalar[bool](r)
	case ggufTypeString:
		return readString(r)
	default:
		return nil, fmt.Errorf("invalid type: %d", t)
	}
}

func readArray(r io.Reader) ([]any, error) {
	t, err := readScalar[uint32](r)
	if err != nil {
		return nil, err
	}

	n, err := readScalar[uint64](r)
	if err != nil {
		return nil, err
	}

	a := make([]any, 0, n)
	for i := uint64(0); i < n; i++ {
		e, err := readTyped(r, t)
		if err != nil {
			return nil, err
		}

		a = append(a, e)
	}

	return a, nil
}

func readTensorHeader(r io.Reader) (Tensor, error) {
	name, err := readString(r)
	if err != nil {
		return Tensor{}, err
	}

	dims, err := readScalar[uint32](r)
	if err != nil {
		return Tensor{}, err
	}

	// dims are stored innermost-first; restore row-major order
	shape := make([]uint64, dims)
	for i := range shape {
		if shape[int(dims)-1-i], err = readScalar[uint64](r); err != nil {
			return Tensor{}, err
		}
	}

	kind, err := readScalar[uint32](r)
	if err != nil {
		return Tensor{}, err
	}

	offset, err := readScalar[uint64](r)
	if err != nil {
		return Tensor{}, err
	}

	return Tensor{Name: name, Kind: kind, Offset: offset, Shape: shape}, nil
}
