// Package common holds the inference primitives shared by the MicroNet
// engine: dense float tensors, the ModelBackend contract implemented by the
// local ONNX runtime and the remote serving client, and the diagnostics
// metrics API.
package common

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrBackendClosed      = errors.New("backend closed")
	ErrServingUnavailable = errors.New("serving unavailable")
	ErrModelNotDeployed   = errors.New("model not deployed")
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor checks that data matches shape.
func NewTensor(shape []int64, data []float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != n {
		return nil, fmt.Errorf("%w: shape %v needs %d values, got %d", ErrInvalidInput, shape, n, len(data))
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: data}, nil
}

// ZeroTensor allocates a zero-filled tensor.
func ZeroTensor(shape ...int64) *Tensor {
	n, err := numElements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: make([]float32, n)}
}

func numElements(shape []int64) (int64, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", ErrInvalidInput)
	}
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: non-positive dimension in %v", ErrInvalidInput, shape)
		}
		n *= d
	}
	return n, nil
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Validate checks the tensor's internal consistency.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrInvalidInput)
	}
	_, err := NewTensor(t.Shape, t.Data)
	return err
}

// ModelBackend runs a forward pass. Implementations are safe for concurrent
// use unless the device serialises them.
type ModelBackend interface {
	Run(ctx context.Context, input *Tensor) (*Tensor, error)
	Healthy(ctx context.Context) error
	Close() error
}

// BackendFunc adapts a function to ModelBackend.
type BackendFunc func(ctx context.Context, input *Tensor) (*Tensor, error)

func (f BackendFunc) Run(ctx context.Context, input *Tensor) (*Tensor, error) {
	return f(ctx, input)
}

func (f BackendFunc) Healthy(context.Context) error { return nil }

func (f BackendFunc) Close() error { return nil }
