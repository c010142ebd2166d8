package convert

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/vitport/vitport/fs/ggml"
	"github.com/vitport/vitport/ml"
	"github.com/vitport/vitport/ml/nn"
	"github.com/vitport/vitport/model/swin"
)

var testSwinConfig = swin.Config{
	ImageSize:  16,
	PatchSize:  4,
	InChannels: 3,
	EmbedDim:   8,
	Depths:     []int{1, 1},
	NumHeads:   []int{2, 4},
	WindowSize: 2,
	MLPRatio:   2,
	QKVBias:    true,
	NumClasses: 5,
}

// dumpSafetensors serializes a namespace the way checkpoint exporters do:
// one F32 safetensors file holding every parameter.
func dumpSafetensors(t *testing.T, path string, ns *ml.Namespace) {
	t.Helper()

	headers := make(map[string]safetensorMetadata, ns.Len())
	var payload []byte
	var offset int64
	for _, key := range ns.Keys() {
		v, _ := ns.Get(key)

		shape := make([]uint64, v.Dims())
		for i := range shape {
			shape[i] = uint64(v.Dim(i))
		}

		size := int64(4 * v.Size())
		headers[key] = safetensorMetadata{
			Type:    "F32",
			Shape:   shape,
			Offsets: []int64{offset, offset + size},
		}
		offset += size

		for _, f := range v.Data() {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(f))
		}
	}

	writeSafetensors(t, path, headers, payload)
}

func TestConvertModel(t *testing.T) {
	source := swin.New(testSwinConfig, nn.RowMajor)
	source.Init(rand.New(rand.NewSource(42)))
	srcParams := ml.NamedParameters(source)

	dir := t.TempDir()
	dumpSafetensors(t, filepath.Join(dir, "model.safetensors"), srcParams)

	config, err := json.Marshal(map[string]any{
		"architectures": []string{"SwinForImageClassification"},
		"image_size":    testSwinConfig.ImageSize,
		"patch_size":    testSwinConfig.PatchSize,
		"num_channels":  testSwinConfig.InChannels,
		"embed_dim":     testSwinConfig.EmbedDim,
		"depths":        testSwinConfig.Depths,
		"num_heads":     testSwinConfig.NumHeads,
		"window_size":   testSwinConfig.WindowSize,
		"mlp_ratio":     testSwinConfig.MLPRatio,
		"qkv_bias":      testSwinConfig.QKVBias,
		"num_classes":   testSwinConfig.NumClasses,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), config, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := os.Create(filepath.Join(dir, "model.gguf"))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if err := ConvertModel(dir, out, true, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := out.Seek(0, 0); err != nil {
		t.Fatal(err)
	}
	g, err := ggml.DecodeGGUF(out)
	if err != nil {
		t.Fatal(err)
	}

	if arch := g.KV.Architecture(); arch != "swin" {
		t.Errorf("architecture = %q", arch)
	}
	if v := g.KV.Uint("swin.embedding_dim"); v != 8 {
		t.Errorf("swin.embedding_dim = %d", v)
	}

	tensors := make(map[string]ggml.Tensor, len(g.Tensors))
	for _, tensor := range g.Tensors {
		tensors[tensor.Name] = tensor
	}

	// the destination namespace is keyed by the ported paths
	for _, name := range []string{
		"patch_embedding.patch_embed.weight",
		"stages.0.blocks.0.attn.qkv.weight",
		"stages.0.downsample.reduction.weight",
		"fc.weight",
		"norm.weight",
	} {
		if _, ok := tensors[name]; !ok {
			t.Errorf("tensor %q missing from output", name)
		}
	}
	if _, ok := tensors["layers.0.blocks.0.attn.qkv.weight"]; ok {
		t.Error("source-convention names must not appear in the output")
	}

	// qkv is a transposed linear weight
	qkv := tensors["stages.0.blocks.0.attn.qkv.weight"]
	if !slices.Equal(qkv.Shape, []uint64{8, 24}) {
		t.Fatalf("qkv shape = %v", qkv.Shape)
	}

	data, err := g.TensorData(out, qkv)
	if err != nil {
		t.Fatal(err)
	}

	srcQKV, _ := srcParams.Get("layers.0.blocks.0.attn.qkv.weight")
	for i := 0; i < 8; i++ {
		for j := 0; j < 24; j++ {
			if data[i*24+j] != srcQKV.At(j, i) {
				t.Fatalf("qkv[%d,%d] not transposed", i, j)
			}
		}
	}

	// the bias table keeps its orientation
	table := tensors["stages.0.blocks.0.attn.relative_position_bias_table"]
	srcTable, _ := srcParams.Get("layers.0.blocks.0.attn.relative_position_bias_table")
	tableData, err := g.TensorData(out, table)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(tableData, srcTable.Data()) {
		t.Error("bias table was transposed")
	}
}
