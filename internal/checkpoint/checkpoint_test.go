package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/nn"
	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
)

func tinyModel(t *testing.T, edit func(*vit.Config)) *vit.Model {
	t.Helper()
	cfg := vit.DefaultConfig()
	cfg.ImgSize = 8
	cfg.PatchSize = 2
	cfg.EmbedDim = 8
	cfg.Depth = 1
	cfg.NumHeads = 2
	cfg.MLPRatio = 2
	cfg.NumClasses = 5
	if edit != nil {
		edit(&cfg)
	}
	m, err := vit.New(cfg)
	require.NoError(t, err)
	return m
}

func TestStateDict_Order(t *testing.T) {
	sd := NewStateDict()
	sd.Set("b", tensor.Zeros(1))
	sd.Set("a", tensor.Zeros(2))
	sd.Set("c", tensor.Zeros(3))
	sd.Set("b", tensor.Ones(1))

	assert.Equal(t, []string{"b", "a", "c"}, sd.Keys())
	assert.Equal(t, 6, sd.NumElements())
	b, ok := sd.Get("b")
	require.True(t, ok)
	assert.Equal(t, float32(1), b.Data()[0])

	assert.True(t, sd.Delete("a"))
	assert.False(t, sd.Delete("a"))
	assert.Equal(t, []string{"b", "c"}, sd.Keys())
}

func TestFromModule(t *testing.T) {
	m := tinyModel(t, nil)
	sd := FromModule(m)
	assert.Equal(t, "cls_token", sd.Keys()[0])
	assert.Len(t, sd.Keys(), len(m.NamedParameters("")))
}

func TestSafetensors_RoundTrip(t *testing.T) {
	sd := NewStateDict()
	sd.Set("weight", tensor.New(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6}))
	sd.Set("bias", tensor.New(tensor.Shape{3}, []float32{0.5, -0.25, 8}))
	sd.Set("count", tensor.New(tensor.Shape{}, []float32{7}))

	for _, dt := range []tensor.DataType{tensor.Float32, tensor.Float16} {
		t.Run(dt.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.safetensors")
			require.NoError(t, WriteSafetensors(path, sd, map[string]string{"format": "pt"}, dt))

			got, meta, err := ReadSafetensors(path)
			require.NoError(t, err)
			assert.Equal(t, "pt", meta["format"])
			assert.Equal(t, []string{"weight", "bias", "count"}, got.Keys())
			for name, want := range sd.All() {
				have, ok := got.Get(name)
				require.True(t, ok)
				assert.True(t, tensor.AllClose(want, have, 0, 0), name)
			}

			viaRead, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, 3, viaRead.Len())
		})
	}
}

func TestWriteSafetensors_UnsupportedDType(t *testing.T) {
	err := WriteSafetensors(filepath.Join(t.TempDir(), "x.safetensors"), NewStateDict(), nil, tensor.Int64)
	assert.ErrorIs(t, err, ErrUnsupportedDType)
}

func writeRawSafetensors(t *testing.T, hdr map[string]any, data []byte) string {
	t.Helper()
	js, err := json.Marshal(hdr)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "raw.safetensors")
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(js)))
	buf = append(buf, js...)
	buf = append(buf, data...)
	require.NoError(t, os.WriteFile(path, buf, 0o600))
	return path
}

func TestReadSafetensors_IntegerAndBFloat16(t *testing.T) {
	data := binary.LittleEndian.AppendUint64(nil, uint64(42))
	// bfloat16 1.0 and -2.0
	data = binary.LittleEndian.AppendUint16(data, 0x3f80)
	data = binary.LittleEndian.AppendUint16(data, 0xc000)
	path := writeRawSafetensors(t, map[string]any{
		"steps": TensorInfo{DType: "I64", Shape: []int{1}, DataOffsets: [2]int64{0, 8}},
		"scale": TensorInfo{DType: "BF16", Shape: []int{2}, DataOffsets: [2]int64{8, 12}},
	}, data)

	sd, _, err := ReadSafetensors(path)
	require.NoError(t, err)
	steps, _ := sd.Get("steps")
	assert.Equal(t, []float32{42}, steps.Data())
	scale, _ := sd.Get("scale")
	assert.Equal(t, []float32{1, -2}, scale.Data())
}

func TestReadSafetensors_Errors(t *testing.T) {
	path := writeRawSafetensors(t, map[string]any{
		"x": TensorInfo{DType: "F8_E4M3", Shape: []int{1}, DataOffsets: [2]int64{0, 1}},
	}, []byte{0})
	_, _, err := ReadSafetensors(path)
	assert.ErrorIs(t, err, ErrUnsupportedDType)

	path = writeRawSafetensors(t, map[string]any{
		"x": TensorInfo{DType: "F32", Shape: []int{2}, DataOffsets: [2]int64{0, 4}},
	}, make([]byte, 4))
	_, _, err = ReadSafetensors(path)
	assert.Error(t, err)
}

func TestRead_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o600))
	_, err := Read(path)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFromTorch_Strided(t *testing.T) {
	// A transposed 2x3 view over storage [x, 0, 1, 2, 3, 4, 5] with offset 1.
	pt := &pytorch.Tensor{
		Source:        &pytorch.FloatStorage{Data: []float32{-1, 0, 1, 2, 3, 4, 5}},
		StorageOffset: 1,
		Size:          []int{3, 2},
		Stride:        []int{1, 3},
	}
	got, err := fromTorch(pt)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, got.Shape())
	assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, got.Data())
}

func TestFromTorch_Long(t *testing.T) {
	pt := &pytorch.Tensor{Source: &pytorch.LongStorage{Data: []int64{9}}, Size: []int{}, Stride: []int{}}
	got, err := fromTorch(pt)
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, got.Data())
}

func TestDictEntries(t *testing.T) {
	od := types.NewOrderedDict()
	od.Set("b", 1)
	od.Set("a", 2)
	entries, err := dictEntries(od)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].key)
	assert.Equal(t, "a", entries[1].key)

	d := types.NewDict()
	d.Set("model", od)
	d.Set(3, "skipped")
	entries, err = dictEntries(d)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model", entries[0].key)

	_, err = dictEntries([]int{1})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResizePosEmbed(t *testing.T) {
	// prefix 1, grid 2x2, D = 2: the grid is constant per channel.
	pe := tensor.New(tensor.Shape{1, 5, 2}, []float32{
		9, 9,
		1, 2, 1, 2,
		1, 2, 1, 2,
	})
	out, err := ResizePosEmbed(pe, 17, 1)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{1, 17, 2}, out.Shape())
	assert.Equal(t, []float32{9, 9}, out.Data()[:2])
	for i := 1; i < 17; i++ {
		assert.InDelta(t, 1, out.At(0, i, 0), 1e-6)
		assert.InDelta(t, 2, out.At(0, i, 1), 1e-6)
	}

	same, err := ResizePosEmbed(pe, 5, 1)
	require.NoError(t, err)
	assert.True(t, tensor.AllClose(pe, same, 0, 0))

	_, err = ResizePosEmbed(pe, 8, 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestResizePosEmbed_Layout(t *testing.T) {
	// Grid values encode (row, col) so the permutes can be checked:
	// channel 0 = row, channel 1 = col.
	pe := tensor.Zeros(1, 1+4, 2)
	for r := range 2 {
		for c := range 2 {
			pe.Set(float32(r), 0, 1+r*2+c, 0)
			pe.Set(float32(c), 0, 1+r*2+c, 1)
		}
	}
	out, err := ResizePosEmbed(pe, 1+16, 1)
	require.NoError(t, err)
	// Top-left stays (0, 0), bottom-right becomes (1, 1), rows grow down.
	assert.InDelta(t, 0, out.At(0, 1, 0), 1e-6)
	assert.InDelta(t, 0, out.At(0, 1, 1), 1e-6)
	assert.InDelta(t, 1, out.At(0, 16, 0), 1e-6)
	assert.InDelta(t, 1, out.At(0, 16, 1), 1e-6)
	assert.InDelta(t, 0, out.At(0, 4, 0), 1e-6, "end of first row")
	assert.InDelta(t, 1, out.At(0, 4, 1), 1e-6, "end of first row")
}

func TestAdaptInputConv(t *testing.T) {
	w := tensor.New(tensor.Shape{1, 3, 1, 1}, []float32{1, 2, 3})

	one, err := AdaptInputConv(w, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{6}, one.Data())

	six, err := AdaptInputConv(w, 6)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 6, 1, 1}, six.Shape())
	assert.InDeltaSlice(t, []float32{0.5, 1, 1.5, 0.5, 1, 1.5}, six.Data(), 1e-6)

	same, err := AdaptInputConv(w, 3)
	require.NoError(t, err)
	assert.Same(t, w, same)

	_, err = AdaptInputConv(tensor.Zeros(1, 2, 1, 1), 5)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAdaptInputConv_Kernels(t *testing.T) {
	const o, in, plane = 2, 3, 4
	data := make([]float32, o*in*plane)
	for i := range data {
		data[i] = float32(i)
	}
	w := tensor.New(tensor.Shape{o, in, 2, 2}, data)

	gray, err := AdaptInputConv(w, 1)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{o, 1, 2, 2}, gray.Shape())
	for oc := range o {
		for p := range plane {
			var want float32
			for ic := range in {
				want += data[(oc*in+ic)*plane+p]
			}
			assert.InDelta(t, want, gray.At(oc, 0, p/2, p%2), 1e-5)
		}
	}

	// Four channels repeat the first one and rescale by 3/4.
	rgba, err := AdaptInputConv(w, 4)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{o, 4, 2, 2}, rgba.Shape())
	for oc := range o {
		for ic := range 4 {
			for p := range plane {
				want := data[(oc*in+ic%in)*plane+p] * 0.75
				assert.InDelta(t, want, rgba.At(oc, ic, p/2, p%2), 1e-5)
			}
		}
	}
	assert.Equal(t, data, w.Data(), "the input is not modified")
}

func TestFilter_AdaptsPretrained(t *testing.T) {
	// A "pretrained" model at a smaller resolution with another head.
	src := tinyModel(t, func(c *vit.Config) {
		c.ImgSize = 4
		c.NumClasses = 10
		c.Seed = 3
	})
	pretrained := NewStateDict()
	for name, tt := range FromModule(src).All() {
		switch name {
		case "mask_token":
			continue
		case "patch_embed.proj.weight":
			tt = tt.Reshape(tt.Dim(0), -1)
		}
		pretrained.Set(name, tt)
	}

	dst := tinyModel(t, nil)
	filtered, err := Filter(pretrained, dst)
	require.NoError(t, err)

	pos, _ := filtered.Get("pos_embed")
	assert.Equal(t, tensor.Shape{1, 17, 8}, pos.Shape())
	proj, _ := filtered.Get("patch_embed.proj.weight")
	assert.Equal(t, tensor.Shape{8, 3, 2, 2}, proj.Shape())
	head, _ := filtered.Get("head.weight")
	assert.Equal(t, tensor.Shape{5, 8}, head.Shape())
	_, ok := filtered.Get("mask_token")
	assert.True(t, ok)

	// The input dict is untouched.
	_, ok = pretrained.Get("mask_token")
	assert.False(t, ok)

	require.NoError(t, Load(dst, filtered, true))
	blk, _ := FromModule(dst).Get("blocks.0.attn.qkv.weight")
	want, _ := FromModule(src).Get("blocks.0.attn.qkv.weight")
	assert.True(t, tensor.AllClose(want, blk, 0, 0))
}

func TestFilter_DropsHeadForHeadlessModel(t *testing.T) {
	src := tinyModel(t, func(c *vit.Config) { c.RepresentationSize = 4 })
	dst := tinyModel(t, func(c *vit.Config) { c.NumClasses = 0 })

	filtered, err := Filter(FromModule(src), dst)
	require.NoError(t, err)
	for _, k := range []string{"head.weight", "head.bias", "pre_logits.fc.weight"} {
		_, ok := filtered.Get(k)
		assert.False(t, ok, k)
	}
	require.NoError(t, Load(dst, filtered, true))
}

func TestLoad_StrictKeyErrors(t *testing.T) {
	m := tinyModel(t, nil)
	sd := FromModule(tinyModel(t, nil))
	sd.Set("extra.weight", tensor.Zeros(1))
	sd.Delete("norm.bias")

	err := Load(m, sd, true)
	var keyErr *nn.KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, []string{"norm.bias"}, keyErr.Missing)
	assert.Equal(t, []string{"extra.weight"}, keyErr.Unexpected)
	assert.ErrorIs(t, err, nn.ErrMissingKey)
	assert.ErrorIs(t, err, nn.ErrUnexpectedKey)

	assert.NoError(t, Load(m, sd, false))

	sd = FromModule(tinyModel(t, nil))
	sd.Set("norm.bias", tensor.Zeros(3))
	assert.ErrorIs(t, Load(m, sd, true), ErrShapeMismatch)
}

func TestLoadFile(t *testing.T) {
	src := tinyModel(t, func(c *vit.Config) { c.Seed = 42 })
	path := filepath.Join(t.TempDir(), "tiny.safetensors")
	require.NoError(t, WriteSafetensors(path, FromModule(src), nil, tensor.Float32))

	dst := tinyModel(t, nil)
	require.NoError(t, LoadFile(dst, path))
	a, _ := FromModule(src).Get("cls_token")
	b, _ := FromModule(dst).Get("cls_token")
	assert.True(t, tensor.AllClose(a, b, 0, 0))
}

func TestCache_Fetch(t *testing.T) {
	payload := []byte("pretend weights")
	sum := sha256.Sum256(payload)
	prefix := hex.EncodeToString(sum[:])[:8]

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cache := NewCache(t.TempDir(), false)
	good := srv.URL + "/weights/vit-" + prefix + ".pth"

	p, err := cache.Fetch(t.Context(), good)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = cache.Fetch(t.Context(), good)
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second fetch is served from disk")

	_, err = cache.Fetch(t.Context(), srv.URL+"/weights/vit-deadbeef.pth")
	assert.ErrorIs(t, err, ErrHashMismatch)
	_, statErr := os.Stat(filepath.Join(cache.Dir, "vit-deadbeef.pth"))
	assert.True(t, os.IsNotExist(statErr))

	offline := NewCache(cache.Dir, true)
	_, err = offline.Fetch(t.Context(), good)
	assert.NoError(t, err, "cached files are usable offline")
	_, err = offline.Fetch(t.Context(), srv.URL+"/other.pth")
	assert.ErrorIs(t, err, ErrOffline)
}

func TestCache_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewCache(t.TempDir(), false).Fetch(t.Context(), srv.URL+"/missing.pth")
	assert.Error(t, err)
}
