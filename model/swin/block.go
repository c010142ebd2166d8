package swin

import (
	"math"

	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
)

// Block is one Swin transformer block: window attention and an MLP, each
// behind a pre-norm and a residual. Odd blocks in a stage use shifted
// windows and carry an attention-mask buffer.
type Block struct {
	Norm1 *nn.LayerNorm
	Attn  *WindowAttention
	Norm2 *nn.LayerNorm
	MLP   *nn.MLP

	res      int
	window   int
	shift    int
	attnMask *ml.Tensor // nil when shift == 0
}

func newBlock(dim, res, heads, window, shift int, mlpRatio float64, qkvBias bool, layout nn.Layout) *Block {
	if res <= window {
		// window covers the whole feature map, nothing to shift
		window, shift = res, 0
	}

	b := &Block{
		Norm1:  nn.NewLayerNorm(dim),
		Attn:   newWindowAttention(dim, heads, window, qkvBias, layout),
		Norm2:  nn.NewLayerNorm(dim),
		MLP:    nn.NewMLP(dim, int(float64(dim)*mlpRatio), layout),
		res:    res,
		window: window,
		shift:  shift,
	}
	if shift > 0 {
		b.attnMask = shiftMask(res, window, shift)
	}

	return b
}

func (b *Block) Forward(x *ml.Tensor) *ml.Tensor {
	shortcut := x
	x = b.Norm1.Forward(x)

	if b.shift > 0 {
		x = roll(x, b.res, -b.shift)
	}
	x = b.Attn.Forward(windowPartition(x, b.res, b.window), b.attnMask)
	x = windowReverse(x, b.res, b.window)
	if b.shift > 0 {
		x = roll(x, b.res, b.shift)
	}

	x = ml.Add(shortcut, x)
	return ml.Add(x, b.MLP.Forward(b.Norm2.Forward(x)))
}

func (b *Block) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "norm1", Module: b.Norm1},
		{Name: "attn", Module: b.Attn},
		{Name: "norm2", Module: b.Norm2},
		{Name: "mlp", Module: b.MLP},
	}
}

func (b *Block) Buffers() []ml.Param {
	if b.attnMask == nil {
		return nil
	}
	return []ml.Param{{Name: "attn_mask", Tensor: b.attnMask}}
}

// WindowAttention is multi-head self-attention within non-overlapping
// windows, with a learned relative-position bias added to the logits. The
// bias table is a parameter indexed by a deterministic buffer of relative
// position offsets.
type WindowAttention struct {
	QKV       *nn.Linear
	Proj      *nn.Linear
	BiasTable *ml.Tensor // [(2w-1)^2, heads]

	index  *ml.Tensor // buffer, [N, N] offsets into the bias table
	heads  int
	window int
	scale  float32
}

func newWindowAttention(dim, heads, window int, qkvBias bool, layout nn.Layout) *WindowAttention {
	return &WindowAttention{
		QKV:       nn.NewLinear(dim, 3*dim, qkvBias, layout),
		Proj:      nn.NewLinear(dim, dim, true, layout),
		BiasTable: ml.New((2*window-1)*(2*window-1), heads),
		index:     relativePositionIndex(window),
		heads:     heads,
		window:    window,
		scale:     float32(1 / math.Sqrt(float64(dim/heads))),
	}
}

// Forward attends within each window of x, shaped [windows, window², dim].
func (m *WindowAttention) Forward(x, mask *ml.Tensor) *ml.Tensor {
	dim := x.Dim(2)

	qkv := m.QKV.Forward(x)
	q, k, v := splitQKV(qkv, dim)

	out := nn.Attention(
		nn.SplitHeads(q, m.heads),
		nn.SplitHeads(k, m.heads),
		nn.SplitHeads(v, m.heads),
		m.scale, m.relativePositionBias(), mask)

	return m.Proj.Forward(nn.MergeHeads(out))
}

// relativePositionBias gathers the bias table into [heads, N, N] logits.
func (m *WindowAttention) relativePositionBias() *ml.Tensor {
	n := m.window * m.window
	bias := ml.New(m.heads, n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			entry := int(m.index.At(i, j))
			for h := 0; h < m.heads; h++ {
				bias.Set(m.BiasTable.At(entry, h), h, i, j)
			}
		}
	}

	return bias
}

func (m *WindowAttention) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "qkv", Module: m.QKV},
		{Name: "proj", Module: m.Proj},
	}
}

func (m *WindowAttention) Params() []ml.Param {
	return []ml.Param{{Name: "relative_position_bias_table", Tensor: m.BiasTable}}
}

func (m *WindowAttention) Buffers() []ml.Param {
	return []ml.Param{{Name: "relative_position_index", Tensor: m.index}}
}

func splitQKV(qkv *ml.Tensor, dim int) (q, k, v *ml.Tensor) {
	batch, seq := qkv.Dim(0), qkv.Dim(1)
	q, k, v = ml.New(batch, seq, dim), ml.New(batch, seq, dim), ml.New(batch, seq, dim)

	src := qkv.Data()
	for r := 0; r < batch*seq; r++ {
		copy(q.Data()[r*dim:(r+1)*dim], src[r*3*dim:])
		copy(k.Data()[r*dim:(r+1)*dim], src[r*3*dim+dim:])
		copy(v.Data()[r*dim:(r+1)*dim], src[r*3*dim+2*dim:])
	}

	return q, k, v
}

// relativePositionIndex builds the [N, N] lookup of pairwise relative
// offsets into the (2w-1)² bias table, N = w².
func relativePositionIndex(window int) *ml.Tensor {
	n := window * window
	index := ml.New(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dh := i/window - j/window + window - 1
			dw := i%window - j%window + window - 1
			index.Set(float32(dh*(2*window-1)+dw), i, j)
		}
	}

	return index
}

// roll cyclically shifts the [batch, res*res, dim] feature map by s rows and
// s columns; negative s shifts up and left.
func roll(x *ml.Tensor, res, s int) *ml.Tensor {
	batch, dim := x.Dim(0), x.Dim(2)
	out := ml.New(batch, res*res, dim)

	for b := 0; b < batch; b++ {
		for i := 0; i < res; i++ {
			for j := 0; j < res; j++ {
				si := ((i-s)%res + res) % res
				sj := ((j-s)%res + res) % res
				copy(out.Data()[(b*res*res+i*res+j)*dim:(b*res*res+i*res+j+1)*dim],
					x.Data()[(b*res*res+si*res+sj)*dim:(b*res*res+si*res+sj+1)*dim])
			}
		}
	}

	return out
}

// windowPartition splits [batch, res*res, dim] into non-overlapping windows
// [batch*nw, window², dim], windows ordered row-major.
func windowPartition(x *ml.Tensor, res, window int) *ml.Tensor {
	batch, dim := x.Dim(0), x.Dim(2)
	nw := res / window
	out := ml.New(batch*nw*nw, window*window, dim)

	for b := 0; b < batch; b++ {
		for wi := 0; wi < nw; wi++ {
			for wj := 0; wj < nw; wj++ {
				for i := 0; i < window; i++ {
					for j := 0; j < window; j++ {
						src := (b*res*res + (wi*window+i)*res + wj*window + j) * dim
						dst := (((b*nw+wi)*nw+wj)*window*window + i*window + j) * dim
						copy(out.Data()[dst:dst+dim], x.Data()[src:src+dim])
					}
				}
			}
		}
	}

	return out
}

// windowReverse is the inverse of windowPartition.
func windowReverse(x *ml.Tensor, res, window int) *ml.Tensor {
	dim := x.Dim(2)
	nw := res / window
	batch := x.Dim(0) / (nw * nw)
	out := ml.New(batch, res*res, dim)

	for b := 0; b < batch; b++ {
		for wi := 0; wi < nw; wi++ {
			for wj := 0; wj < nw; wj++ {
				for i := 0; i < window; i++ {
					for j := 0; j < window; j++ {
						dst := (b*res*res + (wi*window+i)*res + wj*window + j) * dim
						src := (((b*nw+wi)*nw+wj)*window*window + i*window + j) * dim
						copy(out.Data()[dst:dst+dim], x.Data()[src:src+dim])
					}
				}
			}
		}
	}

	return out
}

// shiftMask builds the attention mask for shifted windows: pairs of
// positions coming from different pre-shift regions may not attend to each
// other and get a large negative logit.
func shiftMask(res, window, shift int) *ml.Tensor {
	region := func(p int) int {
		switch {
		case p < res-window:
			return 0
		case p < res-shift:
			return 1
		default:
			return 2
		}
	}

	// region id per position of the shifted feature map
	ids := make([]int, res*res)
	for i := 0; i < res; i++ {
		for j := 0; j < res; j++ {
			ids[i*res+j] = region(i)*3 + region(j)
		}
	}

	nw := res / window
	n := window * window
	mask := ml.New(nw*nw, n, n)
	for wi := 0; wi < nw; wi++ {
		for wj := 0; wj < nw; wj++ {
			w := wi*nw + wj
			for a := 0; a < n; a++ {
				for b := 0; b < n; b++ {
					pa := ids[(wi*window+a/window)*res+wj*window+a%window]
					pb := ids[(wi*window+b/window)*res+wj*window+b%window]
					if pa != pb {
						mask.Set(-100, w, a, b)
					}
				}
			}
		}
	}

	return mask
}
