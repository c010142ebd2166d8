package trans2seg

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
)

// Decoder cross-attends a learned per-class embedding against the encoded
// patch features. Each block yields a [batch, classes, heads, patches]
// attention map; the maps from every block are the decoder output.
type Decoder struct {
	ClsEmbed *ml.Tensor // [1, classes, dim]
	Blocks   []*DecoderBlock
}

func NewDecoder(cfg Config, layout nn.Layout) *Decoder {
	d := &Decoder{ClsEmbed: ml.New(1, cfg.NumClasses, cfg.EmbedDim)}
	for i := 0; i < cfg.DecoderDepth; i++ {
		d.Blocks = append(d.Blocks, newDecoderBlock(cfg, layout))
	}

	return d
}

func (d *Decoder) Init(rng *rand.Rand) {
	nn.TruncNormal(d.ClsEmbed, rng, 0, 0.02, -2, 2)
	ml.Apply(d, nn.InitVisitor(rng, 0.02))
}

// Forward runs every decoder block over feat [batch, patches, dim] and
// returns the per-block attention maps. The class embedding seeds the query
// in the first block and is re-added to the running query before each
// subsequent block.
func (d *Decoder) Forward(feat *ml.Tensor) []*ml.Tensor {
	batch, dim := feat.Dim(0), feat.Dim(2)
	classes := d.ClsEmbed.Dim(1)

	var query *ml.Tensor
	var maps []*ml.Tensor
	for i, blk := range d.Blocks {
		if i == 0 {
			query = ml.New(batch, classes, dim)
			for b := 0; b < batch; b++ {
				copy(query.Data()[b*classes*dim:], d.ClsEmbed.Data())
			}
		} else {
			broadcast := ml.New(batch, classes, dim)
			for b := 0; b < batch; b++ {
				copy(broadcast.Data()[b*classes*dim:], d.ClsEmbed.Data())
			}
			query = ml.Add(query, broadcast)
		}

		var attn *ml.Tensor
		attn, query, feat = blk.Forward(query, feat)
		maps = append(maps, attn)
	}

	return maps
}

func (d *Decoder) Submodules() []ml.Named {
	blocks := make(ml.Seq, len(d.Blocks))
	for i, b := range d.Blocks {
		blocks[i] = ml.Named{Name: strconv.Itoa(i), Module: b}
	}

	return []ml.Named{{Name: "blocks_decoder", Module: blocks}}
}

func (d *Decoder) Params() []ml.Param {
	return []ml.Param{{Name: "cls_embed", Tensor: d.ClsEmbed}}
}

// DecoderBlock updates the query, the features and the attention map, each
// through its own norm and MLP with doubled residuals. The doubling of the
// raw branch outputs mirrors the published reference weights, which were
// trained with this behavior.
type DecoderBlock struct {
	Norm1    *nn.LayerNorm // features, before cross-attention
	Norm1Cls *nn.LayerNorm // query, before cross-attention
	Attn     *DecoderAttention
	Norm2    *nn.LayerNorm // query, before mlp
	Norm3    *nn.LayerNorm // features, before mlp2
	Norm4    *nn.LayerNorm // attention map, before mlp3
	MLP      *nn.MLP       // query
	MLP2     *nn.MLP       // features
	MLP3     *nn.MLP       // attention map, over the patch axis
}

func newDecoderBlock(cfg Config, layout nn.Layout) *DecoderBlock {
	dim := cfg.EmbedDim
	hidden := int(float64(dim) * cfg.MLPRatio)

	return &DecoderBlock{
		Norm1:    nn.NewLayerNorm(dim),
		Norm1Cls: nn.NewLayerNorm(dim),
		Attn:     newDecoderAttention(dim, cfg.DecoderHeads, cfg.QKVBias, layout),
		Norm2:    nn.NewLayerNorm(dim),
		Norm3:    nn.NewLayerNorm(dim),
		Norm4:    nn.NewLayerNorm(cfg.FeatHW),
		MLP:      nn.NewMLP(dim, hidden, layout),
		MLP2:     nn.NewMLP(dim, hidden, layout),
		// the map MLP widens by a fixed 3x, independent of the mlp ratio
		MLP3: nn.NewMLP(cfg.FeatHW, 3*cfg.FeatHW, layout),
	}
}

// Forward takes query [batch, classes, dim] and feat [batch, patches, dim]
// and returns the refined attention map [batch, classes, heads, patches]
// along with the updated query and features.
func (b *DecoderBlock) Forward(query, feat *ml.Tensor) (attn, q, f *ml.Tensor) {
	attn, q = b.Attn.Forward(b.Norm1Cls.Forward(query), b.Norm1.Forward(feat))

	q = ml.Add(q, q)
	q = ml.Add(q, b.MLP.Forward(b.Norm2.Forward(q)))

	f = ml.Add(feat, feat)
	f = ml.Add(f, b.MLP2.Forward(b.Norm3.Forward(f)))

	attn = ml.Add(attn, attn)
	attn = ml.Add(attn, b.MLP3.Forward(b.Norm4.Forward(attn)))

	return attn, q, f
}

func (b *DecoderBlock) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "norm1", Module: b.Norm1},
		{Name: "norm1_clsembed", Module: b.Norm1Cls},
		{Name: "attn", Module: b.Attn},
		{Name: "norm2", Module: b.Norm2},
		{Name: "norm3", Module: b.Norm3},
		{Name: "norm4", Module: b.Norm4},
		{Name: "mlp", Module: b.MLP},
		{Name: "mlp2", Module: b.MLP2},
		{Name: "mlp3", Module: b.MLP3},
	}
}

// DecoderAttention is cross-attention with separate query and key/value
// projections. It returns both the unnormalized attention logits, which the
// caller keeps as the segmentation map, and the attended values.
type DecoderAttention struct {
	FCQ  *nn.Linear
	FCKV *nn.Linear
	Proj *nn.Linear

	heads int
	scale float32
}

func newDecoderAttention(dim, heads int, qkvBias bool, layout nn.Layout) *DecoderAttention {
	return &DecoderAttention{
		FCQ:   nn.NewLinear(dim, dim, qkvBias, layout),
		FCKV:  nn.NewLinear(dim, 2*dim, qkvBias, layout),
		Proj:  nn.NewLinear(dim, dim, true, layout),
		heads: heads,
		scale: float32(1 / math.Sqrt(float64(dim/heads))),
	}
}

// Forward cross-attends query [batch, classes, dim] against x
// [batch, patches, dim]. It returns the scaled logits as
// [batch, classes, heads, patches] and the projected attention output as
// [batch, classes, dim].
//
// The head split of the query is a flat reinterpretation of
// [batch, classes, dim] as [batch, heads, classes, dim/heads], and the
// output merge is the flat inverse. Both match the reference weights, which
// bake this reshuffle into the trained projections.
func (m *DecoderAttention) Forward(query, x *ml.Tensor) (logits, out *ml.Tensor) {
	batch, classes, dim := query.Dim(0), query.Dim(1), query.Dim(2)
	patches := x.Dim(1)
	heads := m.heads
	hd := dim / heads

	q := m.FCQ.Forward(query).Reshape(batch, heads, classes, hd)

	kv := m.FCKV.Forward(x)
	k := ml.New(batch, heads, patches, hd)
	v := ml.New(batch, heads, patches, hd)
	for b := 0; b < batch; b++ {
		for p := 0; p < patches; p++ {
			row := kv.Data()[(b*patches+p)*2*dim:]
			for h := 0; h < heads; h++ {
				dst := ((b*heads+h)*patches + p) * hd
				copy(k.Data()[dst:dst+hd], row[h*hd:])
				copy(v.Data()[dst:dst+hd], row[dim+h*hd:])
			}
		}
	}

	logits = ml.New(batch, heads, classes, patches)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			qs := q.Data()[((b*heads+h)*classes)*hd : ((b*heads+h)*classes+classes)*hd]
			ks := k.Data()[((b*heads+h)*patches)*hd : ((b*heads+h)*patches+patches)*hd]
			prod := ml.MatMulT(ml.FromSlice(qs, classes, hd), ml.FromSlice(ks, patches, hd))
			copy(logits.Data()[((b*heads+h)*classes)*patches:], ml.Scale(prod, m.scale).Data())
		}
	}

	weights := ml.Softmax(logits)
	attended := ml.New(batch, heads, classes, hd)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			ws := weights.Data()[((b*heads+h)*classes)*patches : ((b*heads+h)*classes+classes)*patches]
			vs := v.Data()[((b*heads+h)*patches)*hd : ((b*heads+h)*patches+patches)*hd]
			prod := ml.MatMul(ml.FromSlice(ws, classes, patches), ml.FromSlice(vs, patches, hd))
			copy(attended.Data()[((b*heads+h)*classes)*hd:], prod.Data())
		}
	}

	out = m.Proj.Forward(attended.Reshape(batch, classes, dim))

	// [batch, heads, classes, patches] -> [batch, classes, heads, patches]
	perm := ml.New(batch, classes, heads, patches)
	for b := 0; b < batch; b++ {
		for h := 0; h < heads; h++ {
			for c := 0; c < classes; c++ {
				src := (((b*heads+h)*classes + c) * patches)
				dst := (((b*classes+c)*heads + h) * patches)
				copy(perm.Data()[dst:dst+patches], logits.Data()[src:src+patches])
			}
		}
	}

	return perm, out
}

func (m *DecoderAttention) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "fc_q", Module: m.FCQ},
		{Name: "fc_kv", Module: m.FCKV},
		{Name: "proj", Module: m.Proj},
	}
}
