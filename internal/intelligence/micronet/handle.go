package micronet

import (
	"context"
	"fmt"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/types/diagnosis"
)

// TaskKind selects classification or segmentation.
type TaskKind = diagnosis.TaskType

const (
	Classification = diagnosis.TaskClassification
	Segmentation   = diagnosis.TaskSegmentation
)

// ModelHandle is a loaded model in inference mode. It is immutable and safe
// for concurrent use; forward passes are serialised by the device when it is
// single stream.
type ModelHandle struct {
	Config  ModelConfig
	Kind    TaskKind
	Encoder string
	Tier    string

	backbone common.ModelBackend
	head     *LinearHead
	device   *common.Device
}

// NewModelHandle binds a backbone and its resized head. A nil head means the
// backbone already emits class logits.
func NewModelHandle(cfg ModelConfig, kind TaskKind, encoder, tier string, backbone common.ModelBackend, head *LinearHead, device *common.Device) *ModelHandle {
	if device == nil {
		device = common.CPU()
	}
	return &ModelHandle{
		Config:   cfg,
		Kind:     kind,
		Encoder:  encoder,
		Tier:     tier,
		backbone: backbone,
		head:     head,
		device:   device,
	}
}

// Device returns the device the handle is bound to.
func (h *ModelHandle) Device() *common.Device { return h.device }

// Run performs one forward pass. Classification returns [1, C] logits and
// segmentation returns [1, C, H, W] logits.
func (h *ModelHandle) Run(ctx context.Context, in *common.Tensor) (*common.Tensor, error) {
	var features *common.Tensor
	err := h.device.Exclusive(ctx, func() error {
		var err error
		features, err = h.backbone.Run(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	if h.head == nil {
		return features, nil
	}

	out, _ := h.head.Dims()
	switch h.Kind {
	case Segmentation:
		if len(features.Shape) != 4 {
			return nil, fmt.Errorf("segmentation backbone returned shape %v, want [1 F H W]", features.Shape)
		}
		height, width := features.Shape[2], features.Shape[3]
		logits, err := h.head.ApplyPixels(features.Data, int(height*width))
		if err != nil {
			return nil, err
		}
		return common.NewTensor([]int64{1, int64(out), height, width}, logits)
	default:
		logits, err := h.head.Apply(features.Data)
		if err != nil {
			return nil, err
		}
		return common.NewTensor([]int64{1, int64(out)}, logits)
	}
}

// Close releases the backbone.
func (h *ModelHandle) Close() error {
	if h.backbone == nil {
		return nil
	}
	return h.backbone.Close()
}
