package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFrom(t *testing.T, data []float32, dims ...int) *Tensor {
	t.Helper()
	x, err := FromSlice(data, dims...)
	require.NoError(t, err)
	return x
}

func TestShape_Resolve(t *testing.T) {
	s, err := Shape{2, -1, 4}.Resolve(24)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3, 4}, s)

	_, err = Shape{-1, -1}.Resolve(4)
	require.Error(t, err)

	_, err = Shape{5, -1}.Resolve(12)
	require.Error(t, err)
}

func TestTensor_ReshapeSharesData(t *testing.T) {
	x := Arange(6)
	v := x.Reshape(2, 3)
	v.Set(42, 1, 2)
	assert.Equal(t, float32(42), x.At(5))
	assert.Equal(t, Shape{2, 3}, v.Shape())
}

func TestPermute(t *testing.T) {
	x := Arange(24).Reshape(2, 3, 4)
	y := Permute(x, 2, 0, 1)
	require.Equal(t, Shape{4, 2, 3}, y.Shape())
	for i := range 2 {
		for j := range 3 {
			for k := range 4 {
				assert.Equal(t, x.At(i, j, k), y.At(k, i, j))
			}
		}
	}
}

func TestCatAndSlice(t *testing.T) {
	a := Arange(6).Reshape(2, 3)
	b := Full(9, 2, 1)
	c := Cat(1, a, b)
	require.Equal(t, Shape{2, 4}, c.Shape())
	assert.Equal(t, []float32{0, 1, 2, 9, 3, 4, 5, 9}, c.Data())

	s := Slice(c, 1, 1, 3)
	assert.Equal(t, []float32{1, 2, 4, 5}, s.Data())
}

func TestPad2D(t *testing.T) {
	x := Ones(1, 2, 2)
	y := Pad2D(x, 0, 1, 1, 0, 0)
	require.Equal(t, Shape{1, 3, 3}, y.Shape())
	assert.Equal(t, []float32{
		0, 1, 1,
		0, 1, 1,
		0, 0, 0,
	}, y.Data())
}

func TestRepeatInterleave(t *testing.T) {
	x := mustFrom(t, []float32{1, 2, 3, 4}, 1, 2, 2)
	y := RepeatInterleave(x, 1, 3)
	require.Equal(t, Shape{1, 6, 2}, y.Shape())
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2, 3, 4, 3, 4, 3, 4}, y.Data())
}

func TestGatherRows(t *testing.T) {
	x := Arange(12).Reshape(2, 3, 2)
	y := GatherRows(x, [][]int{{2, 0}, {1, 1}})
	assert.Equal(t, []float32{4, 5, 0, 1, 8, 9, 8, 9}, y.Data())
}

func TestAddInPlace_Broadcast(t *testing.T) {
	x := Zeros(2, 3)
	AddInPlace(x, mustFrom(t, []float32{1, 2, 3}, 1, 3))
	assert.Equal(t, []float32{1, 2, 3, 1, 2, 3}, x.Data())

	assert.Panics(t, func() { AddInPlace(x, Zeros(2)) })
}

func TestMatMul(t *testing.T) {
	a := mustFrom(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := mustFrom(t, []float32{7, 8, 9, 10, 11, 12}, 3, 2)
	c := MatMul(a, b)
	assert.Equal(t, []float32{58, 64, 139, 154}, c.Data())
}

func TestLinear(t *testing.T) {
	x := mustFrom(t, []float32{1, 2, 3, 4}, 1, 2, 2)
	w := mustFrom(t, []float32{1, 0, 0, 1, 1, 1}, 3, 2)
	b := mustFrom(t, []float32{0, 0, 10}, 3)
	y := Linear(x, w, b)
	require.Equal(t, Shape{1, 2, 3}, y.Shape())
	assert.Equal(t, []float32{1, 2, 13, 3, 4, 17}, y.Data())
}

func TestBatchMatMul_TransB(t *testing.T) {
	a := Arange(12).Reshape(2, 2, 3)
	b := Arange(12).Reshape(2, 2, 3)
	c := BatchMatMul(a, b, true)
	require.Equal(t, Shape{2, 2, 2}, c.Shape())
	// a[0] @ a[0]ᵀ
	assert.Equal(t, []float32{5, 14, 14, 50}, c.Data()[:4])
}

// Fully masked rows must not produce NaN.
func TestSoftmax_MaskedRow(t *testing.T) {
	inf := float32(math.Inf(-1))
	x := mustFrom(t, []float32{0, 0, inf, inf, inf, inf}, 3, 2)
	y := Softmax(x)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0, 0, 0, 0}, y.Data(), 1e-6)
}

func TestLayerNorm(t *testing.T) {
	x := mustFrom(t, []float32{1, 2, 3, 4}, 1, 4)
	y := LayerNorm(x, nil, nil, 1e-6)
	assert.InDelta(t, 0, y.Mean(), 1e-6)
	var sq float64
	for _, v := range y.Data() {
		sq += float64(v * v)
	}
	assert.InDelta(t, 1, sq/4, 1e-4)
}

func TestGroupNorm_MatchesLayerNormForOneGroup(t *testing.T) {
	x := Arange(8).Reshape(1, 2, 2, 2)
	y := GroupNorm(x, 1, nil, nil, 1e-5)
	z := LayerNorm(x.Reshape(1, 8), nil, nil, 1e-5)
	assert.InDeltaSlice(t, z.Data(), y.Data(), 1e-5)
}

func TestConv2D_Identity(t *testing.T) {
	x := Arange(16).Reshape(1, 1, 4, 4)
	w := Zeros(1, 1, 3, 3)
	w.Set(1, 0, 0, 1, 1)
	y := Conv2D(x, w, nil, 1, 1, 1)
	assert.Equal(t, x.Data(), y.Data())
}

func TestConv2D_PatchStride(t *testing.T) {
	x := Ones(1, 2, 4, 4)
	w := Ones(3, 2, 2, 2)
	b := mustFrom(t, []float32{0, 1, 2}, 3)
	y := Conv2D(x, w, b, 2, 0, 1)
	require.Equal(t, Shape{1, 3, 2, 2}, y.Shape())
	assert.Equal(t, float32(8), y.At(0, 0, 1, 1))
	assert.Equal(t, float32(10), y.At(0, 2, 0, 0))
}

func TestSamePadding(t *testing.T) {
	top, bottom := SamePadding(224, 7, 2, 1)
	assert.Equal(t, 2, top)
	assert.Equal(t, 3, bottom)

	top, bottom = SamePadding(5, 1, 1, 1)
	assert.Zero(t, top+bottom)
}

func TestAvgPool2D_CeilExcludePad(t *testing.T) {
	x := Arange(9).Reshape(1, 1, 3, 3)
	y := AvgPool2D(x, 2, 2, 0, true, false)
	require.Equal(t, Shape{1, 1, 2, 2}, y.Shape())
	assert.InDeltaSlice(t, []float32{2, 3.5, 6.5, 8}, y.Data(), 1e-6)
}

func TestMaxPool2D(t *testing.T) {
	x := Arange(16).Reshape(1, 1, 4, 4)
	y := MaxPool2D(x, 3, 2, 1, false)
	require.Equal(t, Shape{1, 1, 2, 2}, y.Shape())
	assert.Equal(t, []float32{5, 7, 13, 15}, y.Data())
}

func TestBilinear_AlignCorners(t *testing.T) {
	x := mustFrom(t, []float32{0, 1, 2, 3}, 1, 2, 2)
	y := Bilinear(x, 3, 3, true)
	assert.InDeltaSlice(t, []float32{
		0, 0.5, 1,
		1, 1.5, 2,
		2, 2.5, 3,
	}, y.Data(), 1e-6)
}

func TestBilinear_HalfPixel(t *testing.T) {
	x := mustFrom(t, []float32{0, 1}, 1, 1, 2)
	y := Bilinear(x, 1, 4, false)
	assert.InDeltaSlice(t, []float32{0, 0.25, 0.75, 1}, y.Data(), 1e-6)
}

func TestNearest(t *testing.T) {
	x := mustFrom(t, []float32{1, 2, 3, 4}, 2, 2)
	y := Nearest(x, 4, 4)
	assert.Equal(t, float32(1), y.At(1, 1))
	assert.Equal(t, float32(4), y.At(3, 2))
	z := Nearest(y, 2, 2)
	assert.Equal(t, x.Data(), z.Data())
}

func TestRNG_Reproducible(t *testing.T) {
	a, b := NewRNG(7), NewRNG(7)
	assert.Equal(t, a.Perm(10), b.Perm(10))

	c := a.Choice(5, 5, false)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, c)
}

func TestRNG_TruncNormal(t *testing.T) {
	x := Zeros(1000)
	NewRNG(1).TruncNormalInPlace(x, 1, -0.5, 0.5)
	for _, v := range x.Data() {
		assert.LessOrEqual(t, math.Abs(float64(v)), 0.5)
	}
}
