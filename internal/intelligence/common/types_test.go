package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	tn, err := NewTensor([]int64{1, 2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, tn.Len())

	_, err = NewTensor([]int64{1, 3}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewTensor([]int64{0, 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewTensor(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestZeroTensor(t *testing.T) {
	tn := ZeroTensor(1, 3, 4, 4)
	assert.Equal(t, 48, tn.Len())
	assert.NoError(t, tn.Validate())
	assert.Panics(t, func() { ZeroTensor(1, -1) })
}

func TestTensorValidate_Nil(t *testing.T) {
	var tn *Tensor
	assert.ErrorIs(t, tn.Validate(), ErrInvalidInput)
}

func TestBackendFunc(t *testing.T) {
	var b ModelBackend = BackendFunc(func(_ context.Context, in *Tensor) (*Tensor, error) {
		return in, nil
	})
	in := ZeroTensor(2)
	out, err := b.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.NoError(t, b.Healthy(context.Background()))
	assert.NoError(t, b.Close())
}
