package micronet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MicroNet-Diagnostics/internal/testutil"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

func TestRegistry_BuiltinTable(t *testing.T) {
	r := NewRegistry(nil)

	cases := []struct {
		disease, task string
		encoder       string
		classes       []string
		threshold     float64
	}{
		{"malaria", "classification", "efficientnet-b2", []string{"Normal", "Malaria_Infected", "Suspicious"}, 0.7},
		{"malaria", "segmentation", "resnet50", []string{"Background", "Blood_Cell", "Parasite"}, 0.6},
		{"parasite", "classification", "se_resnext50_32x4d", []string{"Normal", "Malaria", "Other_Parasite", "Artifact"}, 0.75},
		{"general", "segmentation", "efficientnet-b1", []string{"Background", "Abnormal_Region"}, 0.5},
	}
	for _, tc := range cases {
		cfg, err := r.Lookup(tc.disease, tc.task)
		require.NoError(t, err, ConfigKey(tc.disease, tc.task))
		assert.Equal(t, tc.encoder, cfg.Encoder)
		assert.Equal(t, tc.classes, cfg.ClassNames)
		assert.Equal(t, len(tc.classes), cfg.NumClasses)
		assert.InDelta(t, tc.threshold, cfg.ConfidenceThreshold, 1e-9)
		assert.Equal(t, ModelVersion, cfg.Version)
		assert.NoError(t, cfg.Validate())
	}
}

func TestRegistry_ResolveFallsBackToDefault(t *testing.T) {
	log := testutil.NewMockLogger()
	r := NewRegistry(log)

	_, err := r.Lookup("tuberculosis", "classification")
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigNotFound))

	cfg := r.Resolve("tuberculosis", "classification")
	def, _ := r.Lookup("parasite", "classification")
	assert.Equal(t, def, cfg)
	assert.True(t, log.HasMessage("debug", "falling back"))
}

func TestRegistry_LookupNormalisesInput(t *testing.T) {
	r := NewRegistry(nil)
	cfg, err := r.Lookup(" Malaria ", "SEGMENTATION")
	require.NoError(t, err)
	assert.Equal(t, "resnet50", cfg.Encoder)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := NewRegistry(nil)
	cfg := r.Resolve("malaria", "segmentation")
	cfg.ClassNames[0] = "Mutated"
	again := r.Resolve("malaria", "segmentation")
	assert.Equal(t, "Background", again.ClassNames[0])
}

func TestRegistry_Keys(t *testing.T) {
	assert.Equal(t, []string{
		"general_segmentation",
		"malaria_classification",
		"malaria_segmentation",
		"parasite_classification",
	}, NewRegistry(nil).Keys())
}

func TestModelConfig_Validate(t *testing.T) {
	ok := ModelConfig{Encoder: "resnet18", NumClasses: 2, ClassNames: []string{"a", "b"}, ConfidenceThreshold: 0.5}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.NumClasses = 3
	assert.ErrorContains(t, bad.Validate(), "class names")

	bad = ok
	bad.Encoder = ""
	assert.Error(t, bad.Validate())

	bad = ok
	bad.ConfidenceThreshold = 1.5
	assert.Error(t, bad.Validate())

	_, found := ok.ClassName(2)
	assert.False(t, found)
}

func TestNewRegistryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  tuberculosis_classification:
    encoder: resnet50
    num_classes: 2
    confidence_threshold: 0.8
    class_names: [Normal, TB_Positive]
  malaria_classification:
    encoder: efficientnet-b3
    num_classes: 3
    confidence_threshold: 0.7
    class_names: [Normal, Malaria_Infected, Suspicious]
    version: micronet_v1.2
`), 0o644))

	r, err := NewRegistryFromFile(path, nil)
	require.NoError(t, err)

	tb, err := r.Lookup("tuberculosis", "classification")
	require.NoError(t, err)
	assert.Equal(t, ModelVersion, tb.Version)
	assert.Equal(t, []string{"Normal", "TB_Positive"}, tb.ClassNames)

	mal := r.Resolve("malaria", "classification")
	assert.Equal(t, "efficientnet-b3", mal.Encoder)
	assert.Equal(t, "micronet_v1.2", mal.Version)
	assert.Len(t, r.Keys(), 5)
}

func TestNewRegistryFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  broken_segmentation:
    encoder: resnet50
    num_classes: 3
    class_names: [Background]
`), 0o644))

	_, err := NewRegistryFromFile(path, nil)
	assert.ErrorContains(t, err, "broken_segmentation")

	_, err = NewRegistryFromFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	r, err := NewRegistryFromFile("", nil)
	require.NoError(t, err)
	assert.Len(t, r.Keys(), 4)
}
