package micronet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

func TestLookupArchitecture(t *testing.T) {
	for _, cfg := range builtinConfigs() {
		_, err := LookupArchitecture(cfg.Encoder)
		assert.NoError(t, err, cfg.Encoder)
	}

	d, err := LookupArchitecture(FallbackEncoder)
	require.NoError(t, err)
	assert.Equal(t, LinearHeadKind, d.Kind)
	assert.Equal(t, 512, d.InFeatures)

	d, err = LookupArchitecture("EfficientNet-B2")
	require.NoError(t, err)
	assert.Equal(t, SequentialHeadKind, d.Kind)
	assert.Equal(t, "sequential", d.Kind.String())

	_, err = LookupArchitecture("vit_b_16")
	assert.True(t, errors.IsCode(err, errors.ErrCodeArchitectureUnknown))
}

func TestReplaceHead(t *testing.T) {
	d, _ := LookupArchitecture("se_resnext50_32x4d")
	h, err := ReplaceHead(d, "se_resnext50_32x4d", 4)
	require.NoError(t, err)
	out, in := h.Dims()
	assert.Equal(t, 4, out)
	assert.Equal(t, 2048, in)

	seg, err := ReplaceHead(SegmentationHead(), "resnet50", 3)
	require.NoError(t, err)
	out, in = seg.Dims()
	assert.Equal(t, 3, out)
	assert.Equal(t, unetDecoderChannels, in)

	_, err = ReplaceHead(HeadDescriptor{}, "x", 2)
	assert.Error(t, err)
	_, err = ReplaceHead(d, "x", 0)
	assert.Error(t, err)
}

func TestWeightNames(t *testing.T) {
	assert.Equal(t, "resnet50_micronet.onnx", classifierWeightName("resnet50", WeightsDomain))
	assert.Equal(t, "unet_resnet18_imagenet.onnx", unetWeightName("resnet18", WeightsGeneric))
}
