// Package trans2seg defines the transformer encoder and decoder blocks of a
// Trans2Seg-style segmentation head. The encoder is a standard ViT encoder
// over patch features; the decoder cross-attends learned class embeddings
// against the encoded features and its per-block attention maps are the
// segmentation output.
package trans2seg

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
)

type Config struct {
	EmbedDim   int
	Depth      int
	NumPatches int
	NumHeads   int
	MLPRatio   float64
	QKVBias    bool

	// decoder
	NumClasses   int
	DecoderDepth int
	DecoderHeads int
	FeatHW       int // spatial size of the decoder feature map, H*W
}

func DefaultConfig() Config {
	return Config{
		EmbedDim:     768,
		Depth:        12,
		NumPatches:   32 * 32,
		NumHeads:     12,
		MLPRatio:     4,
		QKVBias:      false,
		NumClasses:   12,
		DecoderDepth: 12,
		DecoderHeads: 12,
		FeatHW:       1024,
	}
}

// Encoder is the transformer encoder: a class token and learned positional
// embedding over the patch sequence, a run of self-attention blocks and a
// final norm.
type Encoder struct {
	ClsToken *ml.Tensor // [1, 1, dim]
	PosEmbed *ml.Tensor // [1, patches+1, dim]
	Blocks   []*EncoderBlock
	Norm     *nn.LayerNorm

	layout nn.Layout
}

func NewEncoder(cfg Config, layout nn.Layout) *Encoder {
	e := &Encoder{
		ClsToken: ml.New(1, 1, cfg.EmbedDim),
		PosEmbed: ml.New(1, cfg.NumPatches+1, cfg.EmbedDim),
		Norm:     nn.NewLayerNorm(cfg.EmbedDim),
		layout:   layout,
	}
	for i := 0; i < cfg.Depth; i++ {
		e.Blocks = append(e.Blocks, newEncoderBlock(cfg, layout))
	}

	return e
}

// Init randomizes the trainable parameters.
func (e *Encoder) Init(rng *rand.Rand) {
	nn.TruncNormal(e.ClsToken, rng, 0, 0.02, -2, 2)
	nn.TruncNormal(e.PosEmbed, rng, 0, 0.02, -2, 2)
	ml.Apply(e, nn.InitVisitor(rng, 0.02))
}

// Forward encodes patch features x of shape [batch, patches, dim] and
// returns the class-token vector [batch, dim] and the encoded patch
// features [batch, patches, dim].
func (e *Encoder) Forward(x *ml.Tensor) (cls, feat *ml.Tensor) {
	batch, patches, dim := x.Dim(0), x.Dim(1), x.Dim(2)

	// prepend the class token to every sequence
	withCls := ml.New(batch, patches+1, dim)
	for b := 0; b < batch; b++ {
		copy(withCls.Data()[b*(patches+1)*dim:], e.ClsToken.Data())
		copy(withCls.Data()[(b*(patches+1)+1)*dim:], x.Data()[b*patches*dim:(b+1)*patches*dim])
	}

	pos := resizePosEmbed(e.PosEmbed, patches+1)
	for b := 0; b < batch; b++ {
		for i, v := range pos.Data() {
			withCls.Data()[b*(patches+1)*dim+i] += v
		}
	}

	x = withCls
	for _, blk := range e.Blocks {
		x = blk.Forward(x)
	}
	x = e.Norm.Forward(x)

	cls = ml.New(batch, dim)
	feat = ml.New(batch, patches, dim)
	for b := 0; b < batch; b++ {
		copy(cls.Data()[b*dim:], x.Data()[b*(patches+1)*dim:(b*(patches+1)+1)*dim])
		copy(feat.Data()[b*patches*dim:], x.Data()[(b*(patches+1)+1)*dim:(b+1)*(patches+1)*dim])
	}

	return cls, feat
}

func (e *Encoder) Submodules() []ml.Named {
	blocks := make(ml.Seq, len(e.Blocks))
	for i, b := range e.Blocks {
		blocks[i] = ml.Named{Name: strconv.Itoa(i), Module: b}
	}

	name := "blocks"
	if e.layout == nn.ColMajor {
		name = "blocks_encoder"
	}

	return []ml.Named{
		{Name: name, Module: blocks},
		{Name: "norm", Module: e.Norm},
	}
}

func (e *Encoder) Params() []ml.Param {
	return []ml.Param{
		{Name: "cls_token", Tensor: e.ClsToken},
		{Name: "pos_embed", Tensor: e.PosEmbed},
	}
}

// EncoderBlock is pre-norm self-attention followed by a pre-norm MLP.
type EncoderBlock struct {
	Norm1 *nn.LayerNorm
	Attn  *EncoderAttention
	Norm2 *nn.LayerNorm
	MLP   *nn.MLP
}

func newEncoderBlock(cfg Config, layout nn.Layout) *EncoderBlock {
	return &EncoderBlock{
		Norm1: nn.NewLayerNorm(cfg.EmbedDim),
		Attn:  newEncoderAttention(cfg.EmbedDim, cfg.NumHeads, cfg.QKVBias, layout),
		Norm2: nn.NewLayerNorm(cfg.EmbedDim),
		MLP:   nn.NewMLP(cfg.EmbedDim, int(float64(cfg.EmbedDim)*cfg.MLPRatio), layout),
	}
}

func (b *EncoderBlock) Forward(x *ml.Tensor) *ml.Tensor {
	x = ml.Add(x, b.Attn.Forward(b.Norm1.Forward(x)))
	return ml.Add(x, b.MLP.Forward(b.Norm2.Forward(x)))
}

func (b *EncoderBlock) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "norm1", Module: b.Norm1},
		{Name: "attn", Module: b.Attn},
		{Name: "norm2", Module: b.Norm2},
		{Name: "mlp", Module: b.MLP},
	}
}

// EncoderAttention is plain multi-head self-attention.
type EncoderAttention struct {
	QKV  *nn.Linear
	Proj *nn.Linear

	heads int
	scale float32
}

func newEncoderAttention(dim, heads int, qkvBias bool, layout nn.Layout) *EncoderAttention {
	return &EncoderAttention{
		QKV:   nn.NewLinear(dim, 3*dim, qkvBias, layout),
		Proj:  nn.NewLinear(dim, dim, true, layout),
		heads: heads,
		scale: float32(1 / math.Sqrt(float64(dim/heads))),
	}
}

func (m *EncoderAttention) Forward(x *ml.Tensor) *ml.Tensor {
	dim := x.Dim(2)

	qkv := m.QKV.Forward(x)
	q, k, v := splitQKV(qkv, dim)

	out := nn.Attention(
		nn.SplitHeads(q, m.heads),
		nn.SplitHeads(k, m.heads),
		nn.SplitHeads(v, m.heads),
		m.scale, nil, nil)

	return m.Proj.Forward(nn.MergeHeads(out))
}

func (m *EncoderAttention) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "qkv", Module: m.QKV},
		{Name: "proj", Module: m.Proj},
	}
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

// resizePosEmbed adapts a [1, n, dim] positional embedding to tokens
// positions. The class position is kept and the patch grid is interpolated
// bilinearly (corner-aligned) to the new square resolution.
func resizePosEmbed(pos *ml.Tensor, tokens int) *ml.Tensor {
	if pos.Dim(1) == tokens {
		return pos
	}

	dim := pos.Dim(2)
	srcHW := pos.Dim(1) - 1
	dstHW := tokens - 1
	srcRes := int(math.Sqrt(float64(srcHW)))
	dstRes := int(math.Sqrt(float64(dstHW)))
	if srcRes*srcRes != srcHW || dstRes*dstRes != dstHW {
		panic("trans2seg: positional embedding grid is not square")
	}

	out := ml.New(1, tokens, dim)
	copy(out.Data()[:dim], pos.Data()[:dim]) // class position

	for i := 0; i < dstRes; i++ {
		for j := 0; j < dstRes; j++ {
			var fi, fj float64
			if dstRes > 1 {
				fi = float64(i) * float64(srcRes-1) / float64(dstRes-1)
				fj = float64(j) * float64(srcRes-1) / float64(dstRes-1)
			}

			i0, j0 := int(fi), int(fj)
			i1, j1 := min(i0+1, srcRes-1), min(j0+1, srcRes-1)
			di, dj := fi-float64(i0), fj-float64(j0)

			for d := 0; d < dim; d++ {
				at := func(r, c int) float64 {
					return float64(pos.At(0, 1+r*srcRes+c, d))
				}
				top := at(i0, j0)*(1-dj) + at(i0, j1)*dj
				bottom := at(i1, j0)*(1-dj) + at(i1, j1)*dj
				out.Set(float32(top*(1-di)+bottom*di), 0, 1+i*dstRes+j, d)
			}
		}
	}

	return out
}
