// Package micronet is the MicroNet microscopy inference engine. It resolves a
// disease/task pair to a model configuration, acquires the model through a
// tiered weight strategy, runs classification or U-Net segmentation and turns
// segmentation masks into region detections and a diagnostic verdict.
package micronet

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/MicroNet-Diagnostics/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MicroNet-Diagnostics/pkg/errors"
)

// ModelVersion tags every built-in configuration.
const ModelVersion = "micronet_v1.1"

// DefaultConfigKey is used for any disease/task pair without an entry.
const DefaultConfigKey = "parasite_classification"

// ModelConfig describes the model serving one disease/task pair.
type ModelConfig struct {
	Encoder             string   `json:"encoder" yaml:"encoder"`
	NumClasses          int      `json:"num_classes" yaml:"num_classes"`
	ConfidenceThreshold float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
	ClassNames          []string `json:"class_names" yaml:"class_names"`
	Version             string   `json:"version" yaml:"version"`
}

// Validate checks that the class list matches NumClasses.
func (c ModelConfig) Validate() error {
	if c.Encoder == "" {
		return fmt.Errorf("encoder is required")
	}
	if c.NumClasses < 1 {
		return fmt.Errorf("num_classes must be positive, got %d", c.NumClasses)
	}
	if len(c.ClassNames) != c.NumClasses {
		return fmt.Errorf("num_classes is %d but %d class names are given", c.NumClasses, len(c.ClassNames))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %.3f is outside [0, 1]", c.ConfidenceThreshold)
	}
	return nil
}

// ClassName returns the name for idx and false when idx is out of range.
func (c ModelConfig) ClassName(idx int) (string, bool) {
	if idx < 0 || idx >= len(c.ClassNames) {
		return "", false
	}
	return c.ClassNames[idx], true
}

func builtinConfigs() map[string]ModelConfig {
	return map[string]ModelConfig{
		"malaria_classification": {
			Encoder:             "efficientnet-b2",
			NumClasses:          3,
			ConfidenceThreshold: 0.7,
			ClassNames:          []string{"Normal", "Malaria_Infected", "Suspicious"},
			Version:             ModelVersion,
		},
		"malaria_segmentation": {
			Encoder:             "resnet50",
			NumClasses:          3,
			ConfidenceThreshold: 0.6,
			ClassNames:          []string{"Background", "Blood_Cell", "Parasite"},
			Version:             ModelVersion,
		},
		"parasite_classification": {
			Encoder:             "se_resnext50_32x4d",
			NumClasses:          4,
			ConfidenceThreshold: 0.75,
			ClassNames:          []string{"Normal", "Malaria", "Other_Parasite", "Artifact"},
			Version:             ModelVersion,
		},
		"general_segmentation": {
			Encoder:             "efficientnet-b1",
			NumClasses:          2,
			ConfidenceThreshold: 0.5,
			ClassNames:          []string{"Background", "Abnormal_Region"},
			Version:             ModelVersion,
		},
	}
}

// ConfigKey joins a disease type and task type into a registry key.
func ConfigKey(diseaseType, taskType string) string {
	return diseaseType + "_" + taskType
}

// normalizeKeyPart lowercases and trims one half of a configuration key.
func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Registry maps configuration keys to model configurations. It is read-only
// after construction.
type Registry struct {
	configs map[string]ModelConfig
	logger  logging.Logger
}

// NewRegistry returns the built-in table.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{configs: builtinConfigs(), logger: logger}
}

type registryFile struct {
	Models map[string]ModelConfig `yaml:"models"`
}

// NewRegistryFromFile returns the built-in table merged with the entries of a
// YAML file of the form
//
//	models:
//	  malaria_classification:
//	    encoder: efficientnet-b3
//	    num_classes: 3
//	    ...
//
// Entries in the file replace built-in entries with the same key. A missing
// version defaults to ModelVersion.
func NewRegistryFromFile(path string, logger logging.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if path == "" {
		return r, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse registry file %s: %w", path, err)
	}
	for key, cfg := range f.Models {
		if cfg.Version == "" {
			cfg.Version = ModelVersion
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("registry entry %q: %w", key, err)
		}
		r.configs[key] = cfg
		r.logger.Info("registry entry loaded from file",
			logging.String("key", key), logging.String(logging.FieldEncoder, cfg.Encoder))
	}
	return r, nil
}

// Lookup returns the configuration for the pair or a ConfigNotFound error.
func (r *Registry) Lookup(diseaseType, taskType string) (ModelConfig, error) {
	key := ConfigKey(normalizeKeyPart(diseaseType), normalizeKeyPart(taskType))
	cfg, ok := r.configs[key]
	if !ok {
		return ModelConfig{}, errors.Newf(errors.ErrCodeConfigNotFound, "no model configuration for %q", key)
	}
	return cfg.clone(), nil
}

// Resolve returns the configuration for the pair, or the DefaultConfigKey
// entry when none is registered.
func (r *Registry) Resolve(diseaseType, taskType string) ModelConfig {
	cfg, err := r.Lookup(diseaseType, taskType)
	if err == nil {
		return cfg
	}
	r.logger.Debug("falling back to default model configuration",
		logging.String(logging.FieldDiseaseType, diseaseType),
		logging.String(logging.FieldTaskType, taskType),
		logging.String("default", DefaultConfigKey))
	return r.configs[DefaultConfigKey].clone()
}

// Keys lists the registered keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.configs))
	for k := range r.configs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c ModelConfig) clone() ModelConfig {
	c.ClassNames = append([]string(nil), c.ClassNames...)
	return c
}
