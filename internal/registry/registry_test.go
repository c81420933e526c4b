package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/checkpoint"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
)

func tinyEntry(url string) Entry {
	return Entry{
		Constructor: arch{patch: 2, dim: 8, depth: 1, heads: 2, mlpRatio: 2}.constructor(),
		DefaultCfg: defaultCfg(url, func(c *vit.DefaultCfg) {
			c.InputSize = [3]int{3, 8, 8}
			c.NumClasses = 5
		}),
		Description: "tiny test model",
	}
}

func TestRegistry_Operations(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Has("b"))

	r.Register("b", tinyEntry(""))
	r.Register("a", tinyEntry(""))
	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Has("a"))
	assert.Equal(t, []string{"a", "b"}, r.List())

	e, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "tiny test model", e.Description)

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.Equal(t, []string{"b"}, r.List())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := string(rune('a' + i))
			r.Register(name, tinyEntry(""))
			_ = r.List()
			_ = r.Has(name)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, r.Count())
}

func TestCreate_UnknownModel(t *testing.T) {
	_, err := New().Create("nope")
	require.ErrorIs(t, err, ErrUnknownModel)
	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "create", regErr.Op)
	assert.Equal(t, "nope", regErr.Name)
	assert.Contains(t, err.Error(), "nope")
}

func TestDefaultRegistry_Variants(t *testing.T) {
	names := List()
	assert.Len(t, names, 28)
	for _, name := range names {
		cfg, dc, err := Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, dc.InputSize[2], cfg.ImgSize, name)
		assert.Equal(t, dc.NumClasses, cfg.NumClasses, name)
		assert.NotEmpty(t, dc.Classifier, name)
	}
}

func TestDefaultRegistry_Hyperparameters(t *testing.T) {
	tests := []struct {
		name                   string
		dim, depth, heads, img int
		classes, repr          int
		distilled              bool
		backbone               string
	}{
		{"vit_small_patch16_224", 768, 8, 8, 224, 1000, 0, false, ""},
		{"vit_base_patch16_384", 768, 12, 12, 384, 1000, 0, false, ""},
		{"vit_large_patch32_224", 1024, 24, 16, 224, 1000, 0, false, ""},
		{"vit_huge_patch14_224_in21k", 1280, 32, 16, 224, 21843, 1280, false, ""},
		{"vit_base_patch16_224_in21k", 768, 12, 12, 224, 21843, 768, false, ""},
		{"vit_base_resnet50_224_in21k", 768, 12, 12, 224, 21843, 768, false, vit.BackboneResNetV2},
		{"vit_small_resnet50d_s3_224", 768, 8, 8, 224, 1000, 0, false, vit.BackboneResNet50D},
		{"vit_deit_tiny_patch16_224", 192, 12, 3, 224, 1000, 0, false, ""},
		{"vit_deit_base_distilled_patch16_384", 768, 12, 12, 384, 1000, 0, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _, err := Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.dim, cfg.EmbedDim)
			assert.Equal(t, tt.depth, cfg.Depth)
			assert.Equal(t, tt.heads, cfg.NumHeads)
			assert.Equal(t, tt.img, cfg.ImgSize)
			assert.Equal(t, tt.classes, cfg.NumClasses)
			assert.Equal(t, tt.repr, cfg.RepresentationSize)
			assert.Equal(t, tt.distilled, cfg.Distilled)
			assert.Equal(t, tt.backbone, cfg.Backbone.Kind)
		})
	}
}

func TestVitSmall_Defaults(t *testing.T) {
	cfg, _, err := Resolve("vit_small_patch16_224")
	require.NoError(t, err)
	assert.False(t, cfg.QKVBias)
	assert.InDelta(t, 3.0, cfg.MLPRatio, 0)
	assert.InDelta(t, 1e-5, cfg.NormEps, 0)
	assert.Zero(t, cfg.QKScale)

	cfg, _, err = Resolve("vit_small_patch16_224", WithPretrained(true))
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(768, -0.5), cfg.QKScale, 1e-12)

	cfg, _, err = Resolve("vit_small_patch16_224", WithPretrained(true), WithQKScale(0.25))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.QKScale, 0)
}

func TestResolve_RepresentationRemovedForFineTune(t *testing.T) {
	cfg, _, err := Resolve("vit_base_patch16_224_in21k", WithNumClasses(10))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.NumClasses)
	assert.Zero(t, cfg.RepresentationSize)

	cfg, _, err = Resolve("vit_base_patch16_224_in21k", WithNumClasses(0))
	require.NoError(t, err)
	assert.Zero(t, cfg.RepresentationSize)

	cfg, _, err = Resolve("vit_base_patch16_224", WithRepresentationSize(256))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.RepresentationSize)
}

func TestResolve_Options(t *testing.T) {
	cfg, _, err := Resolve("vit_deit_small_patch16_224",
		WithImgSize(96),
		WithInChans(1),
		WithUseVideo(4),
		WithDropRates(0.1, 0.2, 0.3),
		WithSeed(9),
		WithAddNormBeforeTransformer(true),
		WithNoPatchEmbedBias(true),
		WithNormEps(1e-5),
	)
	require.NoError(t, err)
	assert.Equal(t, 96, cfg.ImgSize)
	assert.Equal(t, 1, cfg.InChans)
	assert.True(t, cfg.UseVideo)
	assert.Equal(t, 4, cfg.MaxFrames)
	assert.InDelta(t, 0.3, cfg.DropPathRate, 0)
	assert.Equal(t, uint64(9), cfg.Seed)
	assert.True(t, cfg.AddNormBeforeTransformer)
	assert.True(t, cfg.NoPatchEmbedBias)
	assert.InDelta(t, 1e-5, cfg.NormEps, 0)

	_, _, err = Resolve("vit_deit_small_patch16_224", WithUseVideo(65))
	assert.ErrorIs(t, err, vit.ErrInvalidConfig)
	_, _, err = Resolve("vit_deit_small_patch16_224", WithImgSize(100))
	assert.ErrorIs(t, err, vit.ErrInvalidConfig)
}

func TestCreate_Tiny(t *testing.T) {
	r := New()
	r.Register("tiny", tinyEntry(""))

	m, err := r.Create("tiny", WithSeed(3))
	require.NoError(t, err)
	assert.Equal(t, 8, m.Config().ImgSize)
	assert.Equal(t, 5, m.Config().NumClasses)
	assert.Equal(t, [3]int{3, 8, 8}, m.DefaultCfg().InputSize)

	// Without published weights the model keeps its initialization.
	m2, err := r.Create("tiny", WithSeed(3), WithPretrained(true))
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(m.StateDict()["cls_token"], m2.StateDict()["cls_token"], 0, 0))

	_, err = r.Create("tiny", WithUseVideo(65))
	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.ErrorIs(t, err, vit.ErrInvalidConfig)
}

func writeTinyCheckpoint(t *testing.T, r *Registry, dir, file string) (string, *vit.Model) {
	t.Helper()
	src, err := r.Create("tiny", WithSeed(11))
	require.NoError(t, err)
	path := filepath.Join(dir, file)
	require.NoError(t, checkpoint.WriteSafetensors(path, checkpoint.FromModule(src), nil, tensor.Float32))
	return path, src
}

func TestCreate_FromCheckpoint(t *testing.T) {
	r := New()
	r.Register("tiny", tinyEntry(""))
	path, src := writeTinyCheckpoint(t, r, t.TempDir(), "tiny.safetensors")

	m, err := r.Create("tiny", WithSeed(12), WithCheckpoint(path))
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(src.StateDict()["blocks.0.attn.qkv.weight"], m.StateDict()["blocks.0.attn.qkv.weight"], 0, 0))

	// A new head for another class count keeps its initialization.
	m, err = r.Create("tiny", WithSeed(12), WithCheckpoint(path), WithNumClasses(3))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 8}, m.StateDict()["head.weight"].Shape())

	_, err = r.Create("tiny", WithCheckpoint(filepath.Join(t.TempDir(), "missing.safetensors")))
	var regErr *Error
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "pretrained", regErr.Op)
}

func TestCreate_PretrainedDownload(t *testing.T) {
	r := New()
	r.Register("tiny", tinyEntry(""))
	path, src := writeTinyCheckpoint(t, r, t.TempDir(), "tiny.safetensors")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(data)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	r.Register("tiny", tinyEntry(srv.URL+"/tiny-"+hex.EncodeToString(sum[:4])+".safetensors"))
	cache := checkpoint.NewCache(t.TempDir(), false)

	m, err := r.CreateContext(t.Context(), "tiny", WithPretrained(true), WithCache(cache))
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(src.StateDict()["pos_embed"], m.StateDict()["pos_embed"], 0, 0))

	_, err = r.Create("tiny", WithPretrained(true), WithCache(checkpoint.NewCache(t.TempDir(), true)))
	assert.ErrorIs(t, err, checkpoint.ErrOffline)
}
