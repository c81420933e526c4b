package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/checkpoint"
	"github.com/born-ml/perceiver/internal/imageproc"
	"github.com/born-ml/perceiver/internal/registry"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
	"github.com/born-ml/perceiver/version"
)

const tinyName = "cmd_test_tiny"

func registerTiny(t *testing.T) {
	t.Helper()
	registry.DefaultRegistry.Register(tinyName, registry.Entry{
		Constructor: func(*registry.Options) vit.Config {
			cfg := vit.DefaultConfig()
			cfg.PatchSize = 2
			cfg.EmbedDim = 8
			cfg.Depth = 1
			cfg.NumHeads = 2
			cfg.MLPRatio = 2
			return cfg
		},
		DefaultCfg: vit.DefaultCfg{
			NumClasses:    4,
			InputSize:     [3]int{3, 8, 8},
			CropPct:       1,
			Interpolation: "bilinear",
			Mean:          imageproc.InceptionMean,
			Std:           imageproc.InceptionStd,
			FirstConv:     "patch_embed.proj",
			Classifier:    []string{"head"},
		},
		Description: "tiny command test model",
	})
	t.Cleanup(func() { registry.DefaultRegistry.Unregister(tinyName) })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := NewCLI()
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 20), G: 128, B: uint8(y * 20), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "perceiver version is "+version.Version+"\n", out)

	out, err = run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestListHandler(t *testing.T) {
	registerTiny(t)
	out, err := run(t, "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, registry.DefaultRegistry.Count()+1)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[0], "PRETRAINED")

	var tiny, base, hybrid string
	for _, l := range lines {
		switch strings.Fields(l)[0] {
		case tinyName:
			tiny = l
		case "vit_base_patch16_224":
			base = l
		case "vit_small_resnet26d_224":
			hybrid = l
		}
	}
	assert.Equal(t, []string{tinyName, "8", "1", "2", "2", "8x8", "-", "no"}, strings.Fields(tiny))
	assert.Equal(t, []string{"vit_base_patch16_224", "768", "12", "12", "16", "224x224", "-", "yes"}, strings.Fields(base))
	assert.Equal(t, vit.BackboneResNet26D, strings.Fields(hybrid)[6])
}

func TestShowHandler(t *testing.T) {
	out, err := run(t, "show", "vit_base_patch16_384", "--num-classes", "10")
	require.NoError(t, err)

	var resp struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Config      vit.Config     `json:"config"`
		DefaultCfg  vit.DefaultCfg `json:"default_cfg"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "vit_base_patch16_384", resp.Name)
	assert.Equal(t, 384, resp.Config.ImgSize)
	assert.Equal(t, 10, resp.Config.NumClasses)
	assert.Equal(t, 1000, resp.DefaultCfg.NumClasses)
	assert.NotEmpty(t, resp.Description)

	_, err = run(t, "show", "no_such_model")
	require.ErrorIs(t, err, registry.ErrUnknownModel)
}

func TestEncodeHandler(t *testing.T) {
	registerTiny(t)
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 8, 8)
	b := writePNG(t, dir, "b.png", 12, 10)

	out, err := run(t, "encode", tinyName, a, b, "--max-image-len", "4", "--json")
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, tinyName, s.Model)
	assert.Equal(t, []int{2, 5, 8}, s.Shape)
	assert.Equal(t, 4, s.GridH)
	assert.Equal(t, 4, s.GridW)
	assert.Equal(t, []int{5, 5}, s.Valid)
	require.Len(t, s.Pooled, 2)
	assert.Len(t, s.Pooled[0], 8)
	for _, n := range s.CLSNorm {
		assert.Greater(t, n, 0.0)
	}

	out, err = run(t, "encode", tinyName, a, "--mask", "--max-image-len", "-1", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "features:  [1 17 8]")
	assert.Contains(t, out, "masked patches:")

	out, err = run(t, "encode", tinyName, a, b, a, "--video", "--json")
	require.NoError(t, err)
	s = Summary{}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, 1, s.Shape[0])

	_, err = run(t, "encode", tinyName, filepath.Join(dir, "missing.png"))
	require.Error(t, err)
}

func TestConvertHandler(t *testing.T) {
	registerTiny(t)
	dir := t.TempDir()

	src, err := registry.Create(tinyName, registry.WithSeed(7))
	require.NoError(t, err)
	in := filepath.Join(dir, "in.safetensors")
	require.NoError(t, checkpoint.WriteSafetensors(in, checkpoint.FromModule(src), nil, tensor.Float32))

	out := filepath.Join(dir, "out.safetensors")
	msg, err := run(t, "convert", in, out, "--model", tinyName, "--f16")
	require.NoError(t, err)
	assert.Contains(t, msg, "wrote")

	sd, meta, err := checkpoint.ReadSafetensors(out)
	require.NoError(t, err)
	assert.Equal(t, tinyName, meta["model"])
	assert.Equal(t, "pt", meta["format"])

	want := checkpoint.FromModule(src)
	assert.Equal(t, want.Keys(), sd.Keys())
	for name, w := range want.All() {
		got, ok := sd.Get(name)
		require.True(t, ok, name)
		assert.True(t, tensor.AllClose(w, got, 1e-2, 1e-3), name)
	}

	// Resizing to a larger input adapts the position embedding.
	big := filepath.Join(dir, "big.safetensors")
	_, err = run(t, "convert", in, big, "--model", tinyName, "--img-size", "16", "--num-classes", "0")
	require.NoError(t, err)
	sd, _, err = checkpoint.ReadSafetensors(big)
	require.NoError(t, err)
	pos, ok := sd.Get("pos_embed")
	require.True(t, ok)
	assert.Equal(t, []int{1, 65, 8}, []int(pos.Shape()))
	_, ok = sd.Get("head.weight")
	assert.False(t, ok)

	_, err = run(t, "convert", filepath.Join(dir, "missing.pth"), out)
	require.Error(t, err)
}
