package micronet

import (
	"context"
	"fmt"
	"strings"

	"github.com/turtacn/MicroNet-Diagnostics/internal/intelligence/common"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// HeadKind tells how an architecture's classifier is laid out.
type HeadKind int

const (
	// LinearHeadKind is a single dense layer; the whole layer is replaced.
	LinearHeadKind HeadKind = iota
	// SequentialHeadKind is a stack whose last layer is dense; only that
	// layer is replaced.
	SequentialHeadKind
)

func (k HeadKind) String() string {
	if k == SequentialHeadKind {
		return "sequential"
	}
	return "linear"
}

// HeadDescriptor locates the classifier of a backbone.
type HeadDescriptor struct {
	Kind       HeadKind
	Locator    string
	InFeatures int
}

// FallbackEncoder is the encoder used by the last acquisition tier.
const FallbackEncoder = "resnet18"

// Weight tags.
const (
	WeightsDomain  = "micronet"
	WeightsGeneric = "imagenet"
)

// unetDecoderChannels is the channel count of the final U-Net decoder block.
const unetDecoderChannels = 16

var architectures = map[string]HeadDescriptor{
	"resnet18":           {Kind: LinearHeadKind, Locator: "fc", InFeatures: 512},
	"resnet34":           {Kind: LinearHeadKind, Locator: "fc", InFeatures: 512},
	"resnet50":           {Kind: LinearHeadKind, Locator: "fc", InFeatures: 2048},
	"se_resnext50_32x4d": {Kind: LinearHeadKind, Locator: "last_linear", InFeatures: 2048},
	"efficientnet-b0":    {Kind: SequentialHeadKind, Locator: "classifier.1", InFeatures: 1280},
	"efficientnet-b1":    {Kind: SequentialHeadKind, Locator: "classifier.1", InFeatures: 1280},
	"efficientnet-b2":    {Kind: SequentialHeadKind, Locator: "classifier.1", InFeatures: 1408},
	"efficientnet-b3":    {Kind: SequentialHeadKind, Locator: "classifier.1", InFeatures: 1536},
}

// LookupArchitecture returns the classifier descriptor for encoder.
func LookupArchitecture(encoder string) (HeadDescriptor, error) {
	d, ok := architectures[strings.ToLower(encoder)]
	if !ok {
		return HeadDescriptor{}, errors.Newf(errors.ErrCodeArchitectureUnknown, "unknown encoder %q", encoder)
	}
	return d, nil
}

// SegmentationHead is the descriptor of the per-pixel head that follows a
// U-Net decoder.
func SegmentationHead() HeadDescriptor {
	return HeadDescriptor{Kind: LinearHeadKind, Locator: "segmentation_head", InFeatures: unetDecoderChannels}
}

// ArchitectureLoader builds classification backbones. The returned backend
// produces a [1, InFeatures] feature vector for a [1, 3, S, S] input.
type ArchitectureLoader interface {
	Load(ctx context.Context, encoder, weightsTag string) (common.ModelBackend, HeadDescriptor, error)
}

// SegmentationModelFactory builds U-Net backbones. The returned backend
// produces a [1, InFeatures, S, S] decoder feature map.
type SegmentationModelFactory interface {
	Name() string
	// Available reports whether the factory can build models at all.
	Available(ctx context.Context) error
	Unet(ctx context.Context, encoder, weightsTag string) (common.ModelBackend, HeadDescriptor, error)
}

// ReplaceHead returns the head that substitutes the descriptor's classifier
// with numClasses outputs.
func ReplaceHead(desc HeadDescriptor, encoder string, numClasses int) (*LinearHead, error) {
	if desc.InFeatures < 1 {
		return nil, fmt.Errorf("head %q of %s has no input features", desc.Locator, encoder)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("cannot build a head with %d classes", numClasses)
	}
	return NewLinearHead(numClasses, desc.InFeatures, headSeed(encoder+"/"+desc.Locator)), nil
}

func classifierWeightName(encoder, tag string) string {
	return fmt.Sprintf("%s_%s.onnx", encoder, tag)
}

func unetWeightName(encoder, tag string) string {
	return fmt.Sprintf("unet_%s_%s.onnx", encoder, tag)
}
