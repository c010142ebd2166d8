package nn

import (
	"fmt"

	"github.com/vitport/vitport/ml"
)

// Attention computes scaled dot-product attention,
// softmax(QK^T*scale + bias + mask)V.
//
//   - q has shape [batch, heads, seq_len_q, head_dim]
//   - k and v have shape [batch, heads, seq_len_k, head_dim]
//   - bias, if non-nil, has shape [heads, seq_len_q, seq_len_k] and is shared
//     across the batch (relative position bias)
//   - mask, if non-nil, has shape [groups, seq_len_q, seq_len_k] with batch
//     divisible by groups; batch element b uses mask[b%groups]
//
// The result has shape [batch, heads, seq_len_q, head_dim].
func Attention(q, k, v *ml.Tensor, scale float32, bias, mask *ml.Tensor) *ml.Tensor {
	if q.Dims() != 4 || k.Dims() != 4 || v.Dims() != 4 {
		panic("nn: attention operands must be 4-D")
	}

	batch, heads, nq, dim := q.Dim(0), q.Dim(1), q.Dim(2), q.Dim(3)
	nk := k.Dim(2)
	if k.Dim(0) != batch || k.Dim(1) != heads || k.Dim(3) != dim {
		panic(fmt.Sprintf("nn: query %v does not match key %v", q.Shape(), k.Shape()))
	}
	if v.Dim(2) != nk {
		panic(fmt.Sprintf("nn: key %v does not match value %v", k.Shape(), v.Shape()))
	}

	var groups int
	if mask != nil {
		groups = mask.Dim(0)
		if batch%groups != 0 {
			panic(fmt.Sprintf("nn: batch %d not divisible by %d mask groups", batch, groups))
		}
	}

	out := ml.New(batch, heads, nq, dim)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			qs := slice2D(q, b, h, nq, dim)
			ks := slice2D(k, b, h, nk, dim)
			vs := slice2D(v, b, h, nk, dim)

			attn := ml.Scale(ml.MatMulT(qs, ks), scale)
			if bias != nil {
				attn = ml.Add(attn, slice2D(bias.Reshape(1, heads, nq, nk), 0, h, nq, nk))
			}
			if mask != nil {
				attn = ml.Add(attn, slice2D(mask.Reshape(groups, 1, nq, nk), b%groups, 0, nq, nk))
			}
			attn = ml.Softmax(attn)

			copy(slice2D(out, b, h, nq, dim).Data(), ml.MatMul(attn, vs).Data())
		}
	}

	return out
}

// slice2D views element [b,h] of a 4-D tensor as a [rows, cols] matrix.
func slice2D(t *ml.Tensor, b, h, rows, cols int) *ml.Tensor {
	n := rows * cols
	offset := (b*t.Dim(1) + h) * n
	return ml.FromSlice(t.Data()[offset:offset+n], rows, cols)
}

// SplitHeads reshapes x of shape [batch, seq, heads*dim] into
// [batch, heads, seq, dim].
func SplitHeads(x *ml.Tensor, heads int) *ml.Tensor {
	batch, seq, features := x.Dim(0), x.Dim(1), x.Dim(2)
	dim := features / heads

	out := ml.New(batch, heads, seq, dim)
	src, dst := x.Data(), out.Data()
	for b := 0; b < batch; b++ {
		for s := 0; s < seq; s++ {
			for h := 0; h < heads; h++ {
				copy(dst[((b*heads+h)*seq+s)*dim:((b*heads+h)*seq+s+1)*dim],
					src[(b*seq+s)*features+h*dim:(b*seq+s)*features+(h+1)*dim])
			}
		}
	}

	return out
}

// MergeHeads is the inverse of SplitHeads: [batch, heads, seq, dim] ->
// [batch, seq, heads*dim].
func MergeHeads(x *ml.Tensor) *ml.Tensor {
	batch, heads, seq, dim := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	features := heads * dim

	out := ml.New(batch, seq, features)
	src, dst := x.Data(), out.Data()
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for s := 0; s < seq; s++ {
				copy(dst[(b*seq+s)*features+h*dim:(b*seq+s)*features+(h+1)*dim],
					src[((b*heads+h)*seq+s)*dim:((b*heads+h)*seq+s+1)*dim])
			}
		}
	}

	return out
}
