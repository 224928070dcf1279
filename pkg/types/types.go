package types

import (
	"errors"
	"strings"
)

// Handle identifies one loaded model instance. Handles are positive and never reused.
type Handle int64

// RequestID identifies one generation call within a client binding.
type RequestID int64

// Generation parameter defaults applied by DefaultGenerationParams.
const (
	DefaultMaxTokens   = 512
	DefaultTopK        = 40
	DefaultTemperature = float32(0.8)
	DefaultRandomSeed  = 0
)

type sourceKind uint8

const (
	sourceNone sourceKind = iota
	sourcePath
	sourceAsset
)

// ModelSource names where model weights come from: either a filesystem path or
// a bundled asset name, never both.
type ModelSource struct {
	kind  sourceKind
	value string
}

// PathSource returns a source pointing at a model file on disk.
func PathSource(path string) ModelSource { return ModelSource{kind: sourcePath, value: path} }

// AssetSource returns a source naming a bundled asset.
func AssetSource(name string) ModelSource { return ModelSource{kind: sourceAsset, value: name} }

// Path returns the filesystem path and whether the source is path-based.
func (s ModelSource) Path() (string, bool) { return s.value, s.kind == sourcePath }

// Asset returns the asset name and whether the source is asset-based.
func (s ModelSource) Asset() (string, bool) { return s.value, s.kind == sourceAsset }

// IsZero reports whether no source was set.
func (s ModelSource) IsZero() bool { return s.kind == sourceNone }

func (s ModelSource) String() string {
	switch s.kind {
	case sourcePath:
		return "path:" + s.value
	case sourceAsset:
		return "asset:" + s.value
	default:
		return "(none)"
	}
}

// Validate checks that exactly one non-empty location is set.
func (s ModelSource) Validate() error {
	if s.kind == sourceNone {
		return errors.New("model source is not set")
	}
	if strings.TrimSpace(s.value) == "" {
		return errors.New("model source is empty")
	}
	return nil
}

// GenerationParams are the per-model generation settings fixed at creation time.
type GenerationParams struct {
	MaxTokens            int     `json:"maxTokens" yaml:"max_tokens" toml:"max_tokens"`
	TopK                 int     `json:"topK" yaml:"top_k" toml:"top_k"`
	Temperature          float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	RandomSeed           int     `json:"randomSeed" yaml:"random_seed" toml:"random_seed"`
	EnableVisionModality bool    `json:"enableVisionModality" yaml:"enable_vision_modality" toml:"enable_vision_modality"`
	PreferGPU            bool    `json:"preferGpu" yaml:"prefer_gpu" toml:"prefer_gpu"`
}

// DefaultGenerationParams returns the documented defaults.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:   DefaultMaxTokens,
		TopK:        DefaultTopK,
		Temperature: DefaultTemperature,
		RandomSeed:  DefaultRandomSeed,
	}
}

// ModelConfig describes how to construct a model. It is immutable for the
// lifetime of the handle created from it.
type ModelConfig struct {
	Source ModelSource
	Params GenerationParams
}

// NewPathConfig builds a config for a model file with the given params.
func NewPathConfig(path string, params GenerationParams) ModelConfig {
	return ModelConfig{Source: PathSource(path), Params: params}
}

// NewAssetConfig builds a config for a bundled asset with the given params.
func NewAssetConfig(asset string, params GenerationParams) ModelConfig {
	return ModelConfig{Source: AssetSource(asset), Params: params}
}

// Validate checks the source and rejects nonsensical parameters.
func (c ModelConfig) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if c.Params.MaxTokens <= 0 {
		return errors.New("maxTokens must be positive")
	}
	if c.Params.TopK <= 0 {
		return errors.New("topK must be positive")
	}
	if c.Params.Temperature < 0 {
		return errors.New("temperature must not be negative")
	}
	return nil
}
