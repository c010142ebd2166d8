package convert

import (
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/vitport/vitport/fs/ggml"
	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
	"github.com/vitport/vitport/model/swin"
)

type swinModel struct {
	ModelParameters
	ImageSize   uint32   `json:"image_size"`
	PatchSize   uint32   `json:"patch_size"`
	NumChannels uint32   `json:"num_channels"`
	EmbedDim    uint32   `json:"embed_dim"`
	Depths      []uint32 `json:"depths"`
	NumHeads    []uint32 `json:"num_heads"`
	WindowSize  uint32   `json:"window_size"`
	MLPRatio    float32  `json:"mlp_ratio"`
	QKVBias     bool     `json:"qkv_bias"`
	NumClasses  uint32   `json:"num_classes"`
}

func (p *swinModel) config() swin.Config {
	cfg := swin.Config{
		ImageSize:  int(cmp.Or(p.ImageSize, 224)),
		PatchSize:  int(cmp.Or(p.PatchSize, 4)),
		InChannels: int(cmp.Or(p.NumChannels, 3)),
		EmbedDim:   int(cmp.Or(p.EmbedDim, 96)),
		WindowSize: int(cmp.Or(p.WindowSize, 7)),
		MLPRatio:   float64(cmp.Or(p.MLPRatio, 4)),
		QKVBias:    p.QKVBias,
		NumClasses: int(cmp.Or(p.NumClasses, 1000)),
	}

	for _, d := range p.Depths {
		cfg.Depths = append(cfg.Depths, int(d))
	}
	for _, h := range p.NumHeads {
		cfg.NumHeads = append(cfg.NumHeads, int(h))
	}
	if len(cfg.Depths) == 0 {
		cfg.Depths = []int{2, 2, 6, 2}
		cfg.NumHeads = []int{3, 6, 12, 24}
	}

	return cfg
}

func (p *swinModel) KV() ggml.KV {
	cfg := p.config()

	depths := make([]uint32, len(cfg.Depths))
	heads := make([]uint32, len(cfg.NumHeads))
	for i := range cfg.Depths {
		depths[i] = uint32(cfg.Depths[i])
		heads[i] = uint32(cfg.NumHeads[i])
	}

	return ggml.KV{
		"general.architecture": "swin",
		"general.file_type":    uint32(0),
		"swin.image_size":      uint32(cfg.ImageSize),
		"swin.patch_size":      uint32(cfg.PatchSize),
		"swin.embedding_dim":   uint32(cfg.EmbedDim),
		"swin.window_size":     uint32(cfg.WindowSize),
		"swin.depths":          depths,
		"swin.attention.heads": heads,
		"swin.mlp_ratio":       float32(cfg.MLPRatio),
		"swin.classes":         uint32(cfg.NumClasses),
	}
}

func (p *swinModel) Mapping() []Entry {
	return BuildMapping(p.config().Depths)
}

func (p *swinModel) Target() *ml.Namespace {
	return modelNamespace(swin.New(p.config(), nn.ColMajor))
}

// LoadSwinConfig reads a Swin model configuration from the config.json in
// d, applying the usual defaults to absent fields.
func LoadSwinConfig(d string) (swin.Config, error) {
	bts, err := os.ReadFile(filepath.Join(d, "config.json"))
	if err != nil {
		return swin.Config{}, err
	}

	var p swinModel
	if err := json.Unmarshal(bts, &p); err != nil {
		return swin.Config{}, err
	}

	return p.config(), nil
}

// modelNamespace merges a model's parameters and buffers into the single
// flat namespace the reconciler works against.
func modelNamespace(m ml.Module) *ml.Namespace {
	ns := ml.NamedParameters(m)
	buffers := ml.NamedBuffers(m)
	for _, key := range buffers.Keys() {
		t, _ := buffers.Get(key)
		ns.Set(key, t)
	}

	return ns
}
