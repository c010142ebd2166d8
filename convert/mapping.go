// Package convert ports pretrained checkpoints between framework naming and
// layout conventions: it builds the name correspondence for a model
// configuration, copies tensors across it with the 2-D transpose rule, and
// reports parameters the correspondence leaves unresolved.
package convert

import "fmt"

// Entry pairs a source parameter path with its destination path. Either side
// may name a submodule rather than a tensor, in which case the copy resolves
// it through the .weight/.bias suffixes.
type Entry struct {
	Src string
	Dst string
}

// BuildMapping enumerates the source-to-destination name pairs for a Swin
// model with the given blocks per stage. The output is deterministic and
// ordered: patch embedding first, then each stage's blocks, each non-last
// stage's downsample, then the final norm and the classification head.
func BuildMapping(depths []int) []Entry {
	mapping := []Entry{
		{Src: "patch_embed.proj", Dst: "patch_embedding.patch_embed"},
		{Src: "patch_embed.norm", Dst: "patch_embedding.norm"},
	}

	for s, depth := range depths {
		for b := 0; b < depth; b++ {
			src := fmt.Sprintf("layers.%d.blocks.%d", s, b)
			dst := fmt.Sprintf("stages.%d.blocks.%d", s, b)
			for _, sub := range [...]string{
				"norm1",
				"attn.relative_position_bias_table",
				"attn.qkv",
				"attn.proj",
				"norm2",
				"mlp.fc1",
				"mlp.fc2",
			} {
				mapping = append(mapping, Entry{
					Src: src + "." + sub,
					Dst: dst + "." + sub,
				})
			}
		}

		// the last stage keeps its resolution and has no downsample
		if s < len(depths)-1 {
			mapping = append(mapping,
				Entry{
					Src: fmt.Sprintf("layers.%d.downsample.reduction.weight", s),
					Dst: fmt.Sprintf("stages.%d.downsample.reduction.weight", s),
				},
				Entry{
					Src: fmt.Sprintf("layers.%d.downsample.norm", s),
					Dst: fmt.Sprintf("stages.%d.downsample.norm", s),
				},
			)
		}
	}

	return append(mapping,
		Entry{Src: "norm", Dst: "norm"},
		Entry{Src: "head", Dst: "fc"},
	)
}

// BuildTrans2SegMapping enumerates the name pairs for the transformer
// encoder/decoder of a Trans2Seg head. The encoder's block list is renamed
// from blocks to blocks_encoder; everything else maps onto itself.
func BuildTrans2SegMapping(depth, decoderDepth int) []Entry {
	mapping := []Entry{
		{Src: "cls_token", Dst: "cls_token"},
		{Src: "pos_embed", Dst: "pos_embed"},
	}

	for b := 0; b < depth; b++ {
		src := fmt.Sprintf("blocks.%d", b)
		dst := fmt.Sprintf("blocks_encoder.%d", b)
		for _, sub := range [...]string{"norm1", "attn.qkv", "attn.proj", "norm2", "mlp.fc1", "mlp.fc2"} {
			mapping = append(mapping, Entry{Src: src + "." + sub, Dst: dst + "." + sub})
		}
	}
	mapping = append(mapping, Entry{Src: "norm", Dst: "norm"})

	mapping = append(mapping, Entry{Src: "cls_embed", Dst: "cls_embed"})
	for b := 0; b < decoderDepth; b++ {
		prefix := fmt.Sprintf("blocks_decoder.%d", b)
		for _, sub := range [...]string{
			"norm1", "norm1_clsembed",
			"attn.fc_q", "attn.fc_kv", "attn.proj",
			"norm2", "norm3", "norm4",
			"mlp.fc1", "mlp.fc2",
			"mlp2.fc1", "mlp2.fc2",
			"mlp3.fc1", "mlp3.fc2",
		} {
			mapping = append(mapping, Entry{Src: prefix + "." + sub, Dst: prefix + "." + sub})
		}
	}

	return mapping
}
