package ggml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"golang.org/x/exp/maps"
)

const (
	ggufTypeUint8 uint32 = iota
	ggufTypeInt8
	ggufTypeUint16
	ggufTypeInt16
	ggufTypeUint32
	ggufTypeInt32
	ggufTypeFloat32
	ggufTypeBool
	ggufTypeString
	ggufTypeArray
	ggufTypeUint64
	ggufTypeInt64
	ggufTypeFloat64
)

const ggufAlignment = 32

var ggufMagic = []byte("GGUF")

// WriteGGUF writes a version 3 GGUF file: magic, counts, the key-values in
// sorted key order, the tensor headers, then the 32-byte-aligned tensor
// data. Tensor offsets are assigned here; any Offset on the way in is
// ignored.
func WriteGGUF(ws io.WriteSeeker, kv KV, ts []Tensor) error {
	if err := binary.Write(ws, binary.LittleEndian, ggufMagic); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, uint32(3)); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, uint64(len(ts))); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, uint64(len(kv))); err != nil {
		return err
	}

	keys := maps.Keys(kv)
	slices.Sort(keys)

	for _, key := range keys {
		if err := ggufWriteKV(ws, key, kv[key]); err != nil {
			return err
		}
	}

	var offset uint64
	for i := range ts {
		ts[i].Offset = offset
		offset += ts[i].Size()
		offset += uint64(ggufPadding(int64(offset), ggufAlignment))
	}

	for _, t := range ts {
		if err := ggufWriteTensorHeader(ws, t); err != nil {
			return err
		}
	}

	pos, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, bytes.Repeat([]byte{0}, int(ggufPadding(pos, ggufAlignment)))); err != nil {
		return err
	}

	for _, t := range ts {
		if _, err := t.WriteTo(ws); err != nil {
			return err
		}

		pos, err := ws.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}

		if err := binary.Write(ws, binary.LittleEndian, bytes.Repeat([]byte{0}, int(ggufPadding(pos, ggufAlignment)))); err != nil {
			return err
		}
	}

	return nil
}

func ggufWriteKV(ws io.Writer, key string, v any) error {
	if err := binary.Write(ws, binary.LittleEndian, uint64(len(key))); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, []byte(key)); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint32:
		return ggufWriteScalar(ws, ggufTypeUint32, v)
	case uint64:
		return ggufWriteScalar(ws, ggufTypeUint64, v)
	case float32:
		return ggufWriteScalar(ws, ggufTypeFloat32, v)
	case bool:
		return ggufWriteScalar(ws, ggufTypeBool, v)
	case string:
		return ggufWriteString(ws, v)
	case []uint32:
		return ggufWriteArray(ws, ggufTypeUint32, v)
	case []int32:
		return ggufWriteArray(ws, ggufTypeInt32, v)
	case []float32:
		return ggufWriteArray(ws, ggufTypeFloat32, v)
	case []string:
		if err := binary.Write(ws, binary.LittleEndian, ggufTypeArray); err != nil {
			return err
		}
		if err := binary.Write(ws, binary.LittleEndian, ggufTypeString); err != nil {
			return err
		}
		if err := binary.Write(ws, binary.LittleEndian, uint64(len(v))); err != nil {
			return err
		}
		for _, e := range v {
			if err := binary.Write(ws, binary.LittleEndian, uint64(len(e))); err != nil {
				return err
			}
			if err := binary.Write(ws, binary.LittleEndian, []byte(e)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("improper type for '%s'", key)
	}
}

func ggufWriteScalar[V any](ws io.Writer, t uint32, v V) error {
	if err := binary.Write(ws, binary.LittleEndian, t); err != nil {
		return err
	}

	return binary.Write(ws, binary.LittleEndian, v)
}

func ggufWriteString(ws io.Writer, s string) error {
	if err := binary.Write(ws, binary.LittleEndian, ggufTypeString); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}

	return binary.Write(ws, binary.LittleEndian, []byte(s))
}

func ggufWriteArray[S ~[]E, E any](ws io.Writer, t uint32, s S) error {
	if err := binary.Write(ws, binary.LittleEndian, ggufTypeArray); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, t); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}

	for _, e := range s {
		if err := binary.Write(ws, binary.LittleEndian, e); err != nil {
			return err
		}
	}

	return nil
}

// tensor header: name, rank, dims innermost-first, kind, data offset
func ggufWriteTensorHeader(ws io.Writer, t Tensor) error {
	if err := binary.Write(ws, binary.LittleEndian, uint64(len(t.Name))); err != nil {
		return err
	}

	if err := binary.Write(ws, binary.LittleEndian, []byte(t.Name)); err != nil {
		return err
	}

	dims := len(t.Shape)
	if err := binary.Write(ws, binary.LittleEndian, uint32(dims)); err != nil {
		return err
	}

	for i := 0; i < dims; i++ {
		if err := binary.Write(ws, binary.LittleEndian, t.Shape[dims-1-i]); err != nil {
			return err
		}
	}

	if err := binary.Write(ws, binary.LittleEndian, t.Kind); err != nil {
		return err
	}

	return binary.Write(ws, binary.LittleEndian, t.Offset)
}

func ggufPadding(offset, align int64) int64 {
	return (align - offset%align) % align
}
