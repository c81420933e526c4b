package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/born-ml/perceiver/internal/tensor"
	"github.com/born-ml/perceiver/internal/vit"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encode(t *testing.T, img image.Image, enc func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, enc(&buf, img))
	return buf.Bytes()
}

func TestDecode_Formats(t *testing.T) {
	img := solid(5, 3, color.RGBA{R: 255, A: 255})
	tests := []struct {
		name string
		enc  func(*bytes.Buffer, image.Image) error
	}{
		{"png", func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) }},
		{"bmp", func(b *bytes.Buffer, i image.Image) error { return bmp.Encode(b, i) }},
		{"tiff", func(b *bytes.Buffer, i image.Image) error { return tiff.Encode(b, i, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(bytes.NewReader(encode(t, img, tt.enc)))
			require.NoError(t, err)
			assert.Equal(t, 5, got.Bounds().Dx())
			assert.Equal(t, 3, got.Bounds().Dy())
			r, g, _, _ := got.At(2, 1).RGBA()
			assert.Equal(t, uint32(0xffff), r)
			assert.Zero(t, g)
		})
	}

	_, err := Decode(bytes.NewReader([]byte("nope")))
	assert.Error(t, err)
}

func TestDecodeAll_KeepsOrder(t *testing.T) {
	var bufs [][]byte
	for w := 1; w <= 6; w++ {
		bufs = append(bufs, encode(t, solid(w, 2, color.RGBA{A: 255}), func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) }))
	}
	imgs, err := DecodeAll(t.Context(), bufs)
	require.NoError(t, err)
	for i, img := range imgs {
		assert.Equal(t, i+1, img.Bounds().Dx())
	}

	_, err = DecodeAll(t.Context(), append(bufs, []byte("bad")))
	assert.ErrorContains(t, err, "image 6")
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, encode(t, solid(4, 4, color.RGBA{A: 255}), func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) }), 0o600))

	imgs, err := LoadAll(t.Context(), []string{path, path})
	require.NoError(t, err)
	assert.Len(t, imgs, 2)

	_, err = LoadAll(t.Context(), []string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestResizeShorter(t *testing.T) {
	img := solid(40, 20, color.RGBA{A: 255})
	got, err := ResizeShorter(img, 10, Bicubic)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 10), got.Bounds())

	got, err = ResizeShorter(solid(20, 30, color.RGBA{A: 255}), 7, Bilinear)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 7, 10), got.Bounds())
}

func TestCenterCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(1, 1, color.RGBA{R: 255, A: 255})
	got, err := CenterCrop(img, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, got.RGBAAt(0, 0))

	_, err = CenterCrop(img, 5, 2)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestLetterbox(t *testing.T) {
	got, err := Letterbox(solid(30, 10, color.RGBA{A: 255}), 12, 12, Nearest)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 4), got.Bounds())

	_, err = Letterbox(solid(3, 3, color.RGBA{}), 0, 4, Nearest)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestToTensor(t *testing.T) {
	img := solid(2, 1, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	x := ToTensor(img, InceptionMean, InceptionStd)
	require.Equal(t, tensor.Shape{3, 1, 2}, x.Shape())
	assert.InDeltaSlice(t, []float32{1, 1, -1, -1, -0.6, -0.6}, x.Data(), 1e-6)

	Unnormalize(x, InceptionMean, InceptionStd)
	assert.InDeltaSlice(t, []float32{1, 1, 0, 0, 0.2, 0.2}, x.Data(), 1e-6)
}

func TestBatch_PadsTopLeft(t *testing.T) {
	a := tensor.Full(1, 3, 2, 3)
	b := tensor.Full(2, 3, 3, 1)
	x, err := Batch([]*tensor.Tensor{a, b}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 3, 3, 3}, x.Shape())

	assert.Equal(t, float32(1), x.At(0, 0, 1, 2))
	assert.Equal(t, float32(0), x.At(0, 0, 2, 0), "row below image a is padding")
	assert.Equal(t, float32(2), x.At(1, 2, 2, 0))
	assert.Equal(t, float32(0), x.At(1, 2, 2, 1), "column right of image b is padding")

	_, err = Batch([]*tensor.Tensor{a}, 1, 3)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = Batch(nil, 4, 4)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = Batch([]*tensor.Tensor{a, tensor.Zeros(1, 2, 2)}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestParseInterpolation(t *testing.T) {
	assert.Equal(t, Bicubic, ParseInterpolation("bicubic"))
	assert.Equal(t, Nearest, ParseInterpolation("NEAREST"))
	assert.Equal(t, Bilinear, ParseInterpolation("lanczos"))
	assert.Equal(t, "bicubic", Bicubic.String())
}

func TestTransform(t *testing.T) {
	cfg := vit.DefaultCfg{
		InputSize:     [3]int{3, 8, 8},
		CropPct:       0.9,
		Interpolation: "bicubic",
		Mean:          InceptionMean,
		Std:           InceptionStd,
	}
	tr := NewTransform(cfg)
	assert.Equal(t, 8, tr.ResizeTo)
	assert.Equal(t, 8, tr.CropSize)
	assert.Equal(t, Bicubic, tr.Interp)

	cfg.InputSize = [3]int{3, 224, 224}
	assert.Equal(t, 248, NewTransform(cfg).ResizeTo)

	white := solid(16, 12, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	x, err := tr.Apply(white)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 8, 8}, x.Shape())
	for _, v := range x.Data() {
		assert.InDelta(t, 1, v, 0.02)
	}

	batch, err := tr.BatchImages(t.Context(), []image.Image{white, solid(4, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255})}, true)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{2, 3, 8, 8}, batch.Shape())
	assert.InDelta(t, 1, batch.At(0, 0, 5, 7), 0.02)
	assert.Equal(t, float32(0), batch.At(0, 0, 6, 0), "16x12 letterboxes to 8x6")
	assert.InDelta(t, 1, batch.At(1, 1, 7, 7), 0.02, "4x4 scales up to fill the square")
}
