package convert

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildMappingLength(t *testing.T) {
	cases := []struct {
		depths []int
		want   int
	}{
		{[]int{1}, 2 + 7 + 2},
		{[]int{2, 2, 6, 2}, 94},
		{[]int{2, 2, 18, 2}, 2 + 7*24 + 2*3 + 2},
		{[]int{1, 1}, 2 + 7*2 + 2 + 2},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.depths), func(t *testing.T) {
			if got := len(BuildMapping(tc.depths)); got != tc.want {
				t.Errorf("len(BuildMapping(%v)) = %d, want %d", tc.depths, got, tc.want)
			}
		})
	}
}

func TestBuildMappingEndpoints(t *testing.T) {
	mapping := BuildMapping([]int{2, 2, 6, 2})

	head := []Entry{
		{Src: "patch_embed.proj", Dst: "patch_embedding.patch_embed"},
		{Src: "patch_embed.norm", Dst: "patch_embedding.norm"},
	}
	if diff := cmp.Diff(head, mapping[:2]); diff != "" {
		t.Errorf("unexpected leading entries (-want +got):\n%s", diff)
	}

	tail := []Entry{
		{Src: "norm", Dst: "norm"},
		{Src: "head", Dst: "fc"},
	}
	if diff := cmp.Diff(tail, mapping[len(mapping)-2:]); diff != "" {
		t.Errorf("unexpected trailing entries (-want +got):\n%s", diff)
	}
}

func TestBuildMappingBlockEntries(t *testing.T) {
	mapping := BuildMapping([]int{2, 2})

	want := []Entry{
		{Src: "layers.1.blocks.0.norm1", Dst: "stages.1.blocks.0.norm1"},
		{Src: "layers.1.blocks.0.attn.relative_position_bias_table", Dst: "stages.1.blocks.0.attn.relative_position_bias_table"},
		{Src: "layers.1.blocks.0.attn.qkv", Dst: "stages.1.blocks.0.attn.qkv"},
		{Src: "layers.1.blocks.0.attn.proj", Dst: "stages.1.blocks.0.attn.proj"},
		{Src: "layers.1.blocks.0.norm2", Dst: "stages.1.blocks.0.norm2"},
		{Src: "layers.1.blocks.0.mlp.fc1", Dst: "stages.1.blocks.0.mlp.fc1"},
		{Src: "layers.1.blocks.0.mlp.fc2", Dst: "stages.1.blocks.0.mlp.fc2"},
	}

	// 2 patch embed + 14 stage-0 blocks + 2 downsample
	if diff := cmp.Diff(want, mapping[18:25]); diff != "" {
		t.Errorf("stage 1 block 0 entries (-want +got):\n%s", diff)
	}
}

func TestBuildMappingDownsamplePrefixes(t *testing.T) {
	depths := []int{2, 2, 6, 2}
	mapping := BuildMapping(depths)

	var got []Entry
	for _, e := range mapping {
		if strings.Contains(e.Src, "downsample") || strings.Contains(e.Dst, "downsample") {
			got = append(got, e)
		}
	}

	if len(got) != 2*(len(depths)-1) {
		t.Fatalf("expected %d downsample entries, got %d", 2*(len(depths)-1), len(got))
	}

	for i, e := range got {
		stage := i / 2
		if want := fmt.Sprintf("layers.%d.downsample", stage); !strings.HasPrefix(e.Src, want) {
			t.Errorf("entry %d: source %q does not start with %q", i, e.Src, want)
		}
		if want := fmt.Sprintf("stages.%d.downsample", stage); !strings.HasPrefix(e.Dst, want) {
			t.Errorf("entry %d: destination %q does not start with %q", i, e.Dst, want)
		}
	}

	// reduction carries the explicit suffix, norm does not
	if got[0].Src != "layers.0.downsample.reduction.weight" {
		t.Errorf("unexpected reduction source %q", got[0].Src)
	}
	if got[1].Src != "layers.0.downsample.norm" {
		t.Errorf("unexpected norm source %q", got[1].Src)
	}
}

func TestBuildTrans2SegMapping(t *testing.T) {
	mapping := BuildTrans2SegMapping(2, 1)

	// 2 embeddings + 6 per encoder block + norm + cls_embed + 14 per decoder block
	if want := 2 + 6*2 + 1 + 1 + 14; len(mapping) != want {
		t.Fatalf("len = %d, want %d", len(mapping), want)
	}

	if e := mapping[2]; e.Src != "blocks.0.norm1" || e.Dst != "blocks_encoder.0.norm1" {
		t.Errorf("unexpected encoder entry %+v", e)
	}
	if e := mapping[len(mapping)-1]; e.Src != e.Dst || e.Src != "blocks_decoder.0.mlp3.fc2" {
		t.Errorf("unexpected decoder entry %+v", e)
	}
}
