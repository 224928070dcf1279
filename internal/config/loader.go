package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llmbridge/internal/assets"
	"llmbridge/pkg/types"
)

// Config holds runtime parameters for the service. Zero values mean
// "unspecified": Resolve layers a file over LLMBRIDGE_* environment values
// over Defaults, and the CLI applies explicit flags last.
type Config struct {
	Addr                   string `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes           int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	GenerateTimeoutSeconds int64  `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`
	EventBuffer            int    `json:"event_buffer" yaml:"event_buffer" toml:"event_buffer"`

	CORS   CORSConfig   `json:"cors" yaml:"cors" toml:"cors"`
	Log    LogConfig    `json:"log" yaml:"log" toml:"log"`
	Assets AssetsConfig `json:"assets" yaml:"assets" toml:"assets"`
	Engine EngineConfig `json:"engine" yaml:"engine" toml:"engine"`

	// Defaults are the generation params used by the CLI when a flag or
	// request leaves them out.
	Defaults types.GenerationParams `json:"defaults" yaml:"defaults" toml:"defaults"`
}

type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

type LogConfig struct {
	// Level is a zerolog level name.
	Level string `json:"level" yaml:"level" toml:"level"`
	// Format is "console" or "json".
	Format string `json:"format" yaml:"format" toml:"format"`
	// HTTP is the per-request log level: off, error, info or debug.
	HTTP string `json:"http" yaml:"http" toml:"http"`
}

type AssetsConfig struct {
	// Dir is a local bundle directory used in place.
	Dir string `json:"dir" yaml:"dir" toml:"dir"`
	// CacheDir receives materialized copies of remote assets.
	CacheDir string `json:"cache_dir" yaml:"cache_dir" toml:"cache_dir"`
	// S3 selects a bucket as the bundle instead of Dir.
	S3 *assets.S3Config `json:"s3,omitempty" yaml:"s3,omitempty" toml:"s3,omitempty"`
}

type EngineConfig struct {
	// Text picks the text-only engine: "llama", "shim" or "auto" (llama when
	// built in, otherwise the shim).
	Text             string `json:"text" yaml:"text" toml:"text"`
	ShimLibrary      string `json:"shim_library" yaml:"shim_library" toml:"shim_library"`
	LlamaContextSize int    `json:"llama_context_size" yaml:"llama_context_size" toml:"llama_context_size"`
	LlamaThreads     int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaGPULayers   int    `json:"llama_gpu_layers" yaml:"llama_gpu_layers" toml:"llama_gpu_layers"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:         ":8080",
		MaxBodyBytes: 16 << 20,
		EventBuffer:  256,
		CORS: CORSConfig{
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Accept", "X-Log-Level"},
		},
		Log:      LogConfig{Level: "info", Format: "console", HTTP: "info"},
		Engine:   EngineConfig{Text: "auto", LlamaContextSize: 2048, LlamaThreads: 4},
		Defaults: types.DefaultGenerationParams(),
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Resolve returns Defaults overlaid with LLMBRIDGE_* environment values and
// then with the file at path, if any.
func Resolve(path string) (Config, error) {
	cfg := Merge(Defaults(), FromEnv(os.LookupEnv))
	if path == "" {
		return cfg, nil
	}
	file, err := Load(path)
	if err != nil {
		return cfg, err
	}
	return Merge(cfg, file), nil
}

// FromEnv reads LLMBRIDGE_* variables through lookup.
func FromEnv(lookup func(string) (string, bool)) Config {
	var c Config
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int64) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	integer := func(key string, dst *int) {
		var n int64
		num(key, &n)
		if n != 0 {
			*dst = int(n)
		}
	}
	str("LLMBRIDGE_ADDR", &c.Addr)
	num("LLMBRIDGE_MAX_BODY_BYTES", &c.MaxBodyBytes)
	num("LLMBRIDGE_GENERATE_TIMEOUT_SECONDS", &c.GenerateTimeoutSeconds)
	integer("LLMBRIDGE_EVENT_BUFFER", &c.EventBuffer)
	str("LLMBRIDGE_LOG_LEVEL", &c.Log.Level)
	str("LLMBRIDGE_LOG_FORMAT", &c.Log.Format)
	str("LLMBRIDGE_HTTP_LOG", &c.Log.HTTP)
	str("LLMBRIDGE_ASSETS_DIR", &c.Assets.Dir)
	str("LLMBRIDGE_CACHE_DIR", &c.Assets.CacheDir)
	str("LLMBRIDGE_ENGINE", &c.Engine.Text)
	str("LLMBRIDGE_SHIM_LIBRARY", &c.Engine.ShimLibrary)
	integer("LLMBRIDGE_LLAMA_GPU_LAYERS", &c.Engine.LlamaGPULayers)
	integer("LLMBRIDGE_LLAMA_THREADS", &c.Engine.LlamaThreads)
	if v, ok := lookup("LLMBRIDGE_CORS_ORIGINS"); ok && v != "" {
		c.CORS.Enabled = true
		c.CORS.AllowedOrigins = SplitCSV(v)
	}
	if v, ok := lookup("LLMBRIDGE_S3_BUCKET"); ok && v != "" {
		s3 := &assets.S3Config{Bucket: v}
		str("LLMBRIDGE_S3_PREFIX", &s3.Prefix)
		str("LLMBRIDGE_S3_REGION", &s3.Region)
		str("LLMBRIDGE_S3_ENDPOINT", &s3.Endpoint)
		str("AWS_ACCESS_KEY_ID", &s3.AccessKeyID)
		str("AWS_SECRET_ACCESS_KEY", &s3.SecretAccessKey)
		str("AWS_SESSION_TOKEN", &s3.SessionToken)
		if v, ok := lookup("LLMBRIDGE_S3_PATH_STYLE"); ok {
			s3.UsePathStyle, _ = strconv.ParseBool(v)
		}
		c.Assets.S3 = s3
	}
	return c
}

// Merge returns base with every non-zero field of over applied.
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Addr, over.Addr)
	setNum(&out.MaxBodyBytes, over.MaxBodyBytes)
	setNum(&out.GenerateTimeoutSeconds, over.GenerateTimeoutSeconds)
	setNum(&out.EventBuffer, over.EventBuffer)

	if over.CORS.Enabled {
		out.CORS.Enabled = true
	}
	setList(&out.CORS.AllowedOrigins, over.CORS.AllowedOrigins)
	setList(&out.CORS.AllowedMethods, over.CORS.AllowedMethods)
	setList(&out.CORS.AllowedHeaders, over.CORS.AllowedHeaders)

	setStr(&out.Log.Level, over.Log.Level)
	setStr(&out.Log.Format, over.Log.Format)
	setStr(&out.Log.HTTP, over.Log.HTTP)

	setStr(&out.Assets.Dir, over.Assets.Dir)
	setStr(&out.Assets.CacheDir, over.Assets.CacheDir)
	if over.Assets.S3 != nil {
		s3 := *over.Assets.S3
		out.Assets.S3 = &s3
	}

	setStr(&out.Engine.Text, over.Engine.Text)
	setStr(&out.Engine.ShimLibrary, over.Engine.ShimLibrary)
	setNum(&out.Engine.LlamaContextSize, over.Engine.LlamaContextSize)
	setNum(&out.Engine.LlamaThreads, over.Engine.LlamaThreads)
	setNum(&out.Engine.LlamaGPULayers, over.Engine.LlamaGPULayers)

	setNum(&out.Defaults.MaxTokens, over.Defaults.MaxTokens)
	setNum(&out.Defaults.TopK, over.Defaults.TopK)
	setNum(&out.Defaults.Temperature, over.Defaults.Temperature)
	setNum(&out.Defaults.RandomSeed, over.Defaults.RandomSeed)
	if over.Defaults.EnableVisionModality {
		out.Defaults.EnableVisionModality = true
	}
	if over.Defaults.PreferGPU {
		out.Defaults.PreferGPU = true
	}
	return out
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setNum[T int | int64 | float32](dst *T, v T) {
	if v != 0 {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}

// SplitCSV splits a comma-separated list, trimming blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
