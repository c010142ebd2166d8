package convert

import (
	"cmp"

	"github.com/vitport/vitport/fs/ggml"
	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
	"github.com/vitport/vitport/model/trans2seg"
)

type trans2segModel struct {
	ModelParameters
	EmbedDim     uint32  `json:"embed_dim"`
	Depth        uint32  `json:"depth"`
	NumPatches   uint32  `json:"num_patches"`
	NumHeads     uint32  `json:"num_heads"`
	MLPRatio     float32 `json:"mlp_ratio"`
	QKVBias      bool    `json:"qkv_bias"`
	NumClasses   uint32  `json:"nclass"`
	DecoderDepth uint32  `json:"decoder_depth"`
	DecoderHeads uint32  `json:"decoder_num_heads"`
	FeatHW       uint32  `json:"decoder_feat_hxw"`
}

func (p *trans2segModel) config() trans2seg.Config {
	return trans2seg.Config{
		EmbedDim:     int(cmp.Or(p.EmbedDim, 768)),
		Depth:        int(cmp.Or(p.Depth, 12)),
		NumPatches:   int(cmp.Or(p.NumPatches, 1024)),
		NumHeads:     int(cmp.Or(p.NumHeads, 12)),
		MLPRatio:     float64(cmp.Or(p.MLPRatio, 4)),
		QKVBias:      p.QKVBias,
		NumClasses:   int(cmp.Or(p.NumClasses, 12)),
		DecoderDepth: int(cmp.Or(p.DecoderDepth, 12)),
		DecoderHeads: int(cmp.Or(p.DecoderHeads, 12)),
		FeatHW:       int(cmp.Or(p.FeatHW, 1024)),
	}
}

func (p *trans2segModel) KV() ggml.KV {
	cfg := p.config()

	return ggml.KV{
		"general.architecture":         "trans2seg",
		"general.file_type":            uint32(0),
		"trans2seg.embedding_dim":      uint32(cfg.EmbedDim),
		"trans2seg.depth":              uint32(cfg.Depth),
		"trans2seg.attention.heads":    uint32(cfg.NumHeads),
		"trans2seg.mlp_ratio":          float32(cfg.MLPRatio),
		"trans2seg.classes":            uint32(cfg.NumClasses),
		"trans2seg.decoder.depth":      uint32(cfg.DecoderDepth),
		"trans2seg.decoder.heads":      uint32(cfg.DecoderHeads),
		"trans2seg.decoder.feature_hw": uint32(cfg.FeatHW),
	}
}

func (p *trans2segModel) Mapping() []Entry {
	cfg := p.config()
	return BuildTrans2SegMapping(cfg.Depth, cfg.DecoderDepth)
}

func (p *trans2segModel) Target() *ml.Namespace {
	cfg := p.config()

	encoder := trans2seg.NewEncoder(cfg, nn.ColMajor)
	decoder := trans2seg.NewDecoder(cfg, nn.ColMajor)

	ns := modelNamespace(encoder)
	dec := modelNamespace(decoder)
	for _, key := range dec.Keys() {
		t, _ := dec.Get(key)
		ns.Set(key, t)
	}

	return ns
}
