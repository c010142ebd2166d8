// Package swin defines the Swin Transformer image classifier in the two
// parameter conventions being bridged: the torch/timm layout
// (layers.N.blocks.M paths, [out, in] linear weights) and the paddle layout
// (stages.N.blocks.M paths, [in, out] linear weights). Both share one
// forward implementation, so a ported checkpoint can be validated by running
// the same input through a model instantiated in each convention.
package swin

import (
	"math/rand"
	"strconv"

	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
)

type Config struct {
	ImageSize  int
	PatchSize  int
	InChannels int
	EmbedDim   int
	Depths     []int
	NumHeads   []int
	WindowSize int
	MLPRatio   float64
	QKVBias    bool
	NumClasses int
}

// DefaultConfig is swin_base_patch4_window7_224.
func DefaultConfig() Config {
	return Config{
		ImageSize:  224,
		PatchSize:  4,
		InChannels: 3,
		EmbedDim:   128,
		Depths:     []int{2, 2, 18, 2},
		NumHeads:   []int{4, 8, 16, 32},
		WindowSize: 7,
		MLPRatio:   4,
		QKVBias:    true,
		NumClasses: 1000,
	}
}

type Model struct {
	cfg    Config
	layout nn.Layout

	patchEmbed *PatchEmbed
	stages     []*Stage
	norm       *nn.LayerNorm
	head       *nn.Linear
}

func New(cfg Config, layout nn.Layout) *Model {
	m := &Model{cfg: cfg, layout: layout}
	m.patchEmbed = newPatchEmbed(cfg, layout)

	res := cfg.ImageSize / cfg.PatchSize
	dim := cfg.EmbedDim
	for s := range cfg.Depths {
		last := s == len(cfg.Depths)-1
		m.stages = append(m.stages, newStage(cfg, s, dim, res, !last, layout))
		if !last {
			dim *= 2
			res /= 2
		}
	}

	m.norm = nn.NewLayerNorm(dim)
	m.head = nn.NewLinear(dim, cfg.NumClasses, true, layout)
	return m
}

func (m *Model) Config() Config    { return m.cfg }
func (m *Model) Layout() nn.Layout { return m.layout }

// Init randomizes the trainable parameters with the standard transformer
// initialization. Buffers are deterministic and untouched.
func (m *Model) Init(rng *rand.Rand) {
	ml.Apply(m, nn.InitVisitor(rng, 0.02))
	for _, stage := range m.stages {
		for _, blk := range stage.Blocks {
			nn.TruncNormal(blk.Attn.BiasTable, rng, 0, 0.02, -2, 2)
		}
	}
}

func (m *Model) Submodules() []ml.Named {
	stages := make(ml.Seq, len(m.stages))
	for i, s := range m.stages {
		stages[i] = ml.Named{Name: strconv.Itoa(i), Module: s}
	}

	if m.layout == nn.RowMajor {
		return []ml.Named{
			{Name: "patch_embed", Module: m.patchEmbed},
			{Name: "layers", Module: stages},
			{Name: "norm", Module: m.norm},
			{Name: "head", Module: m.head},
		}
	}

	return []ml.Named{
		{Name: "patch_embedding", Module: m.patchEmbed},
		{Name: "stages", Module: stages},
		{Name: "norm", Module: m.norm},
		{Name: "fc", Module: m.head},
	}
}

// Forward classifies x of shape [batch, channels, height, width], returning
// logits of shape [batch, classes].
func (m *Model) Forward(x *ml.Tensor) *ml.Tensor {
	x = m.patchEmbed.Forward(x)
	for _, stage := range m.stages {
		x = stage.Forward(x)
	}
	x = m.norm.Forward(x)

	// global average pool over tokens
	batch, tokens, dim := x.Dim(0), x.Dim(1), x.Dim(2)
	pooled := ml.New(batch, dim)
	for b := 0; b < batch; b++ {
		for d := 0; d < dim; d++ {
			var sum float64
			for t := 0; t < tokens; t++ {
				sum += float64(x.At(b, t, d))
			}
			pooled.Set(float32(sum/float64(tokens)), b, d)
		}
	}

	return m.head.Forward(pooled)
}

// PatchEmbed projects non-overlapping image patches to embeddings and
// normalizes them.
type PatchEmbed struct {
	Proj *nn.Conv2D
	Norm *nn.LayerNorm

	layout nn.Layout
}

func newPatchEmbed(cfg Config, layout nn.Layout) *PatchEmbed {
	return &PatchEmbed{
		Proj:   nn.NewConv2D(cfg.InChannels, cfg.EmbedDim, cfg.PatchSize),
		Norm:   nn.NewLayerNorm(cfg.EmbedDim),
		layout: layout,
	}
}

func (m *PatchEmbed) Forward(x *ml.Tensor) *ml.Tensor {
	return m.Norm.Forward(m.Proj.Forward(x))
}

func (m *PatchEmbed) Submodules() []ml.Named {
	proj := "proj"
	if m.layout == nn.ColMajor {
		proj = "patch_embed"
	}

	return []ml.Named{
		{Name: proj, Module: m.Proj},
		{Name: "norm", Module: m.Norm},
	}
}

// Stage is a resolution stage: a run of transformer blocks followed by a
// patch-merging downsample on every stage but the last.
type Stage struct {
	Blocks     []*Block
	Downsample *PatchMerging // nil on the last stage
}

func newStage(cfg Config, s, dim, res int, downsample bool, layout nn.Layout) *Stage {
	stage := &Stage{}
	for b := 0; b < cfg.Depths[s]; b++ {
		shift := 0
		if b%2 == 1 {
			shift = cfg.WindowSize / 2
		}
		stage.Blocks = append(stage.Blocks, newBlock(dim, res, cfg.NumHeads[s], cfg.WindowSize, shift, cfg.MLPRatio, cfg.QKVBias, layout))
	}
	if downsample {
		stage.Downsample = newPatchMerging(dim, res, layout)
	}

	return stage
}

func (m *Stage) Forward(x *ml.Tensor) *ml.Tensor {
	for _, blk := range m.Blocks {
		x = blk.Forward(x)
	}
	if m.Downsample != nil {
		x = m.Downsample.Forward(x)
	}

	return x
}

func (m *Stage) Submodules() []ml.Named {
	blocks := make(ml.Seq, len(m.Blocks))
	for i, b := range m.Blocks {
		blocks[i] = ml.Named{Name: strconv.Itoa(i), Module: b}
	}

	named := []ml.Named{{Name: "blocks", Module: blocks}}
	if m.Downsample != nil {
		named = append(named, ml.Named{Name: "downsample", Module: m.Downsample})
	}

	return named
}

// PatchMerging halves the spatial resolution by concatenating each 2x2
// neighborhood and reducing 4C channels to 2C.
type PatchMerging struct {
	Reduction *nn.Linear
	Norm      *nn.LayerNorm

	res int
}

func newPatchMerging(dim, res int, layout nn.Layout) *PatchMerging {
	return &PatchMerging{
		Reduction: nn.NewLinear(4*dim, 2*dim, false, layout),
		Norm:      nn.NewLayerNorm(4 * dim),
		res:       res,
	}
}

func (m *PatchMerging) Forward(x *ml.Tensor) *ml.Tensor {
	batch, dim := x.Dim(0), x.Dim(2)
	h, w := m.res, m.res

	merged := ml.New(batch, h/2*w/2, 4*dim)
	for b := 0; b < batch; b++ {
		for i := 0; i < h/2; i++ {
			for j := 0; j < w/2; j++ {
				// x0, x1, x2, x3: top-left, bottom-left, top-right, bottom-right
				for q, off := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
					src := x.Data()[(b*h*w+(2*i+off[0])*w+2*j+off[1])*dim:]
					dst := merged.Data()[((b*(h/2)*(w/2)+i*(w/2)+j)*4+q)*dim:]
					copy(dst[:dim], src[:dim])
				}
			}
		}
	}

	return m.Reduction.Forward(m.Norm.Forward(merged))
}

func (m *PatchMerging) Submodules() []ml.Named {
	return []ml.Named{
		{Name: "reduction", Module: m.Reduction},
		{Name: "norm", Module: m.Norm},
	}
}

