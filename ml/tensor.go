package ml

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Tensor is a dense multi-dimensional array of float32 values stored in
// row-major order. Checkpoint payloads are float32, so the in-memory
// representation matches what is read from and written to disk.
//
// Tensor is not safe for concurrent use.
type Tensor struct {
	data  []float32
	shape []int
}

// New returns a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("ml: shape[%d] must be positive, got %d", i, dim))
		}
		n *= dim
	}

	return &Tensor{
		data:  make([]float32, n),
		shape: slices.Clone(shape),
	}
}

// FromSlice wraps data in a tensor with the given shape. The tensor takes
// ownership of data.
func FromSlice(data []float32, shape ...int) *Tensor {
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	if n != len(data) {
		panic(fmt.Sprintf("ml: %d elements cannot fill shape %v", len(data), shape))
	}

	return &Tensor{data: data, shape: slices.Clone(shape)}
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.shape[i]
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns the backing slice. Mutating it mutates the tensor.
func (t *Tensor) Data() []float32 {
	return t.data
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.data[t.flatIndex(indices)]
}

// Set stores v at the given indices.
func (t *Tensor) Set(v float32, indices ...int) {
	t.data[t.flatIndex(indices)] = v
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("ml: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx, stride := 0, 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("ml: index[%d]=%d out of range [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{data: slices.Clone(t.data), shape: slices.Clone(t.shape)}
}

// Reshape returns a view with a different shape sharing the backing slice.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	n := 1
	for _, dim := range shape {
		n *= dim
	}

	if n != len(t.data) {
		panic(fmt.Sprintf("ml: cannot reshape %v to %v", t.shape, shape))
	}

	return &Tensor{data: t.data, shape: slices.Clone(shape)}
}

// CopyFrom overwrites the tensor's contents in place. The tensor's identity
// and shape are preserved; only the values change. It is the single gate
// rejecting incompatible assignments.
func (t *Tensor) CopyFrom(values []float32) error {
	if len(values) != len(t.data) {
		return fmt.Errorf("ml: cannot assign %d elements to tensor of shape %v", len(values), t.shape)
	}

	copy(t.data, values)
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", t.shape)
}

func (t *Tensor) general() blas32.General {
	rows := t.shape[0]
	cols := len(t.data) / rows
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: t.data}
}

// MatMul returns a@b for 2-D tensors (m,k)x(k,n) -> (m,n).
func MatMul(a, b *Tensor) *Tensor {
	if a.Dims() != 2 || b.Dims() != 2 || a.shape[1] != b.shape[0] {
		panic(fmt.Sprintf("ml: cannot multiply %v by %v", a.shape, b.shape))
	}

	c := New(a.shape[0], b.shape[1])
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a.general(), b.general(), 0, c.general())
	return c
}

// MatMulT returns a@b^T for 2-D tensors (m,k)x(n,k) -> (m,n).
func MatMulT(a, b *Tensor) *Tensor {
	if a.Dims() != 2 || b.Dims() != 2 || a.shape[1] != b.shape[1] {
		panic(fmt.Sprintf("ml: cannot multiply %v by transposed %v", a.shape, b.shape))
	}

	c := New(a.shape[0], b.shape[0])
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, a.general(), b.general(), 0, c.general())
	return c
}

// Transpose2D returns the transpose of a 2-D tensor.
func Transpose2D(a *Tensor) *Tensor {
	if a.Dims() != 2 {
		panic("ml: Transpose2D requires a 2-D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := New(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}

	return out
}

// Add returns a+b elementwise.
func Add(a, b *Tensor) *Tensor {
	if !slices.Equal(a.shape, b.shape) {
		panic(fmt.Sprintf("ml: cannot add %v and %v", a.shape, b.shape))
	}

	out := a.Clone()
	for i, v := range b.data {
		out.data[i] += v
	}

	return out
}

// AddBias adds a 1-D bias over the last dimension of x.
func AddBias(x, bias *Tensor) *Tensor {
	n := bias.Size()
	if x.shape[len(x.shape)-1] != n {
		panic(fmt.Sprintf("ml: bias of size %d does not match %v", n, x.shape))
	}

	out := x.Clone()
	for i := range out.data {
		out.data[i] += bias.data[i%n]
	}

	return out
}

// Scale returns a*s elementwise.
func Scale(a *Tensor, s float32) *Tensor {
	out := a.Clone()
	for i := range out.data {
		out.data[i] *= s
	}

	return out
}

// Softmax normalizes the last dimension of x to probabilities, subtracting
// the row maximum before exponentiation for stability.
func Softmax(x *Tensor) *Tensor {
	cols := x.shape[len(x.shape)-1]
	out := x.Clone()

	for r := 0; r < len(out.data); r += cols {
		row := out.data[r : r+cols]

		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}

		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxv))
			row[i] = float32(e)
			sum += e
		}

		for i := range row {
			row[i] = float32(float64(row[i]) / sum)
		}
	}

	return out
}

// GELU applies the tanh approximation of the Gaussian error linear unit.
func GELU(x *Tensor) *Tensor {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	out := x.Clone()
	for i, v := range out.data {
		f := float64(v)
		out.data[i] = float32(0.5 * f * (1 + math.Tanh(sqrt2OverPi*(f+coeff*f*f*f))))
	}

	return out
}
