package common

import (
	"context"
	"sync"
)

// DeviceKind names an execution provider.
type DeviceKind string

const (
	DeviceCPU  DeviceKind = "cpu"
	DeviceCUDA DeviceKind = "cuda"
)

// Device is the execution target a model handle is bound to. When the
// device reports a single stream, Exclusive serialises forward passes.
type Device struct {
	Kind         DeviceKind
	ID           int
	SingleStream bool

	mu sync.Mutex
}

// CPU returns a device that runs passes concurrently.
func CPU() *Device { return &Device{Kind: DeviceCPU} }

// CUDA returns GPU id as a single-stream device.
func CUDA(id int) *Device { return &Device{Kind: DeviceCUDA, ID: id, SingleStream: true} }

// SelectDevice returns CUDA(0) when preferGPU is set and cudaAvailable
// reports true, CPU otherwise. A nil probe counts as unavailable.
func SelectDevice(preferGPU bool, cudaAvailable func() bool) *Device {
	if preferGPU && cudaAvailable != nil && cudaAvailable() {
		return CUDA(0)
	}
	return CPU()
}

func (d *Device) String() string {
	if d == nil {
		return string(DeviceCPU)
	}
	return string(d.Kind)
}

// Exclusive runs fn, holding the device lock if the device is single stream.
// It gives up waiting for the lock when ctx is done.
func (d *Device) Exclusive(ctx context.Context, fn func() error) error {
	if d == nil || !d.SingleStream {
		return fn()
	}
	acquired := make(chan struct{})
	go func() {
		d.mu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-ctx.Done():
		// Release the lock once the pending Lock completes.
		go func() {
			<-acquired
			d.mu.Unlock()
		}()
		return ctx.Err()
	}
	defer d.mu.Unlock()
	return fn()
}
