package vit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/perceiver/internal/tensor"
)

func TestPool(t *testing.T) {
	// B=1, N=3, D=2
	feats := tensor.New(tensor.Shape{1, 3, 2}, []float32{1, 2, 3, 4, 100, 100})
	mask := tensor.New(tensor.Shape{1, 3}, []float32{1, 1, 0})

	cls, err := Pool(feats, mask, PoolCLS)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, cls.Data())

	mean, err := Pool(feats, mask, PoolMean)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, mean.Data())

	all, err := Pool(feats, nil, PoolMean)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{104.0 / 3, 106.0 / 3}, all.Data(), 1e-4)

	same, err := Pool(feats, mask, PoolNone)
	require.NoError(t, err)
	assert.Same(t, feats, same)

	_, err = Pool(feats, mask, "max")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Pool(feats, tensor.Zeros(1, 2), PoolMean)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Pool(tensor.Zeros(3, 2), nil, PoolCLS)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
