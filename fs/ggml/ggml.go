// Package ggml reads and writes model checkpoints in the GGUF container
// format.
package ggml

import (
	"fmt"
	"io"
)

// Tensor kinds used by this repo. GGUF defines more; converted vision
// checkpoints are stored unquantized.
const (
	TensorKindF32 uint32 = 0
	TensorKindF16 uint32 = 1
)

// KV holds a model's metadata key-values.
type KV map[string]any

func (kv KV) Architecture() string {
	if s, ok := kv["general.architecture"].(string); ok {
		return s
	}
	return "unknown"
}

func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	if v, ok := kv[key].(uint32); ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

func (kv KV) Float(key string, defaultValue ...float32) float32 {
	if v, ok := kv[key].(float32); ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// Tensor describes one tensor in a GGUF file. When encoding, WriterTo
// supplies the payload; Offset is computed by the writer. When decoding,
// Offset is relative to the start of the data section.
type Tensor struct {
	Name   string
	Kind   uint32
	Offset uint64
	Shape  []uint64

	io.WriterTo
}

// Elements returns the number of scalar elements.
func (t Tensor) Elements() uint64 {
	var n uint64 = 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// Size returns the payload size in bytes.
func (t Tensor) Size() uint64 {
	switch t.Kind {
	case TensorKindF32:
		return 4 * t.Elements()
	case TensorKindF16:
		return 2 * t.Elements()
	default:
		panic(fmt.Sprintf("ggml: unsupported tensor kind %d", t.Kind))
	}
}
