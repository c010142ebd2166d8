package trans2seg_test

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/vitport/vitport/convert"
	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
	"github.com/vitport/vitport/model/trans2seg"
)

var tinyConfig = trans2seg.Config{
	EmbedDim:     8,
	Depth:        2,
	NumPatches:   16,
	NumHeads:     2,
	MLPRatio:     2,
	QKVBias:      true,
	NumClasses:   3,
	DecoderDepth: 2,
	DecoderHeads: 2,
	FeatHW:       16,
}

func merged(ms ...ml.Module) *ml.Namespace {
	ns := ml.NewNamespace()
	for _, m := range ms {
		for _, src := range []*ml.Namespace{ml.NamedParameters(m), ml.NamedBuffers(m)} {
			for _, key := range src.Keys() {
				t, _ := src.Get(key)
				ns.Set(key, t)
			}
		}
	}
	return ns
}

func TestEncoderForward(t *testing.T) {
	e := trans2seg.NewEncoder(tinyConfig, nn.RowMajor)
	e.Init(rand.New(rand.NewSource(1)))

	x := ml.New(2, 16, 8)
	cls, feat := e.Forward(x)

	if !slices.Equal(cls.Shape(), []int{2, 8}) {
		t.Errorf("cls shape = %v", cls.Shape())
	}
	if !slices.Equal(feat.Shape(), []int{2, 16, 8}) {
		t.Errorf("feat shape = %v", feat.Shape())
	}
}

func TestEncoderResizesPosEmbed(t *testing.T) {
	e := trans2seg.NewEncoder(tinyConfig, nn.RowMajor)
	e.Init(rand.New(rand.NewSource(2)))

	// 36 patches: the 4x4 positional grid is interpolated to 6x6
	x := ml.New(1, 36, 8)
	cls, feat := e.Forward(x)
	if !slices.Equal(cls.Shape(), []int{1, 8}) || !slices.Equal(feat.Shape(), []int{1, 36, 8}) {
		t.Errorf("shapes = %v, %v", cls.Shape(), feat.Shape())
	}
}

func TestDecoderForward(t *testing.T) {
	d := trans2seg.NewDecoder(tinyConfig, nn.RowMajor)
	d.Init(rand.New(rand.NewSource(3)))

	feat := ml.New(2, 16, 8)
	for i, data := 0, feat.Data(); i < len(data); i++ {
		data[i] = float32(math.Sin(float64(i)))
	}

	maps := d.Forward(feat)
	if len(maps) != tinyConfig.DecoderDepth {
		t.Fatalf("got %d attention maps, want %d", len(maps), tinyConfig.DecoderDepth)
	}

	for i, m := range maps {
		if !slices.Equal(m.Shape(), []int{2, 3, 2, 16}) {
			t.Errorf("map %d shape = %v", i, m.Shape())
		}
		for _, v := range m.Data() {
			if v != v {
				t.Fatalf("map %d contains NaN", i)
			}
		}
	}
}

func TestNamespaceMatchesMapping(t *testing.T) {
	resolves := func(ns *ml.Namespace, path string) bool {
		return ns.Has(path) || ns.Has(path+".weight") || ns.Has(path+".bias")
	}

	src := merged(
		trans2seg.NewEncoder(tinyConfig, nn.RowMajor),
		trans2seg.NewDecoder(tinyConfig, nn.RowMajor),
	)
	dst := merged(
		trans2seg.NewEncoder(tinyConfig, nn.ColMajor),
		trans2seg.NewDecoder(tinyConfig, nn.ColMajor),
	)

	for _, e := range convert.BuildTrans2SegMapping(tinyConfig.Depth, tinyConfig.DecoderDepth) {
		if !resolves(src, e.Src) {
			t.Errorf("source path %q resolves to nothing", e.Src)
		}
		if !resolves(dst, e.Dst) {
			t.Errorf("destination path %q resolves to nothing", e.Dst)
		}
	}

	// the encoder block list is the renamed namespace component
	if !src.Has("blocks.0.attn.qkv.weight") {
		t.Error("row-major encoder should expose blocks.N paths")
	}
	if !dst.Has("blocks_encoder.0.attn.qkv.weight") {
		t.Error("column-major encoder should expose blocks_encoder.N paths")
	}
}

// The attention-map MLP widens by a fixed factor of three; checkpoints
// trained at the reference ratio would otherwise fail to load.
func TestDecoderMapMLPHidden(t *testing.T) {
	for name, cfg := range map[string]trans2seg.Config{
		"tiny":    tinyConfig,
		"default": trans2seg.DefaultConfig(),
	} {
		ns := ml.NamedParameters(trans2seg.NewDecoder(cfg, nn.ColMajor))

		fc1, ok := ns.Get("blocks_decoder.0.mlp3.fc1.weight")
		if !ok {
			t.Fatalf("%s: mlp3.fc1 missing", name)
		}
		if !slices.Equal(fc1.Shape(), []int{cfg.FeatHW, 3 * cfg.FeatHW}) {
			t.Errorf("%s: mlp3.fc1 shape = %v, want [%d %d]", name, fc1.Shape(), cfg.FeatHW, 3*cfg.FeatHW)
		}
	}
}

func TestDecoderBlockNorms(t *testing.T) {
	ns := ml.NamedParameters(trans2seg.NewDecoder(tinyConfig, nn.ColMajor))

	for _, key := range []string{
		"cls_embed",
		"blocks_decoder.0.norm1.weight",
		"blocks_decoder.0.norm1_clsembed.weight",
		"blocks_decoder.0.attn.fc_q.weight",
		"blocks_decoder.0.attn.fc_kv.weight",
		"blocks_decoder.0.norm4.weight",
		"blocks_decoder.0.mlp3.fc1.weight",
	} {
		if !ns.Has(key) {
			t.Errorf("decoder namespace lacks %q", key)
		}
	}

	// norm4 and mlp3 operate over the patch axis
	norm4, _ := ns.Get("blocks_decoder.0.norm4.weight")
	if norm4.Dim(0) != tinyConfig.FeatHW {
		t.Errorf("norm4 dim = %d, want %d", norm4.Dim(0), tinyConfig.FeatHW)
	}
}
