package types

// CreateModelRequest is the body of POST /v1/models and POST /v1/models/asset.
// Omitted sampling fields fall back to the documented defaults.
type CreateModelRequest struct {
	// Filesystem path to the model file (POST /v1/models).
	// example: /data/models/gemma-2b-it-cpu-int4.bin
	Path string `json:"path,omitempty" example:"/data/models/gemma-2b-it-cpu-int4.bin"`
	// Bundled asset name (POST /v1/models/asset).
	// example: gemma-2b-it-cpu-int4.bin
	AssetName string `json:"assetName,omitempty" example:"gemma-2b-it-cpu-int4.bin"`
	// Maximum number of output tokens.
	// example: 512
	MaxTokens *int `json:"maxTokens,omitempty" example:"512"`
	// Top-K sampling width.
	// example: 40
	TopK *int `json:"topK,omitempty" example:"40"`
	// Sampling temperature.
	// example: 0.8
	Temperature *float32 `json:"temperature,omitempty" example:"0.8"`
	// Random seed.
	// example: 0
	RandomSeed *int `json:"randomSeed,omitempty" example:"0"`
	// Enable image input; forces CPU execution.
	// example: false
	EnableVisionModality bool `json:"enableVisionModality,omitempty" example:"false"`
	// Prefer GPU execution for text-only models; falls back to CPU silently.
	// example: true
	PreferGPU bool `json:"preferGpu,omitempty" example:"true"`
}

// Params returns the generation params with defaults applied to omitted fields.
func (r CreateModelRequest) Params() GenerationParams {
	p := DefaultGenerationParams()
	if r.MaxTokens != nil {
		p.MaxTokens = *r.MaxTokens
	}
	if r.TopK != nil {
		p.TopK = *r.TopK
	}
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.RandomSeed != nil {
		p.RandomSeed = *r.RandomSeed
	}
	p.EnableVisionModality = r.EnableVisionModality
	p.PreferGPU = r.PreferGPU
	return p
}

// NewCreateModelRequest is the inverse of Params, used by remote clients.
func NewCreateModelRequest(cfg ModelConfig) CreateModelRequest {
	p := cfg.Params
	r := CreateModelRequest{
		MaxTokens:            &p.MaxTokens,
		TopK:                 &p.TopK,
		Temperature:          &p.Temperature,
		RandomSeed:           &p.RandomSeed,
		EnableVisionModality: p.EnableVisionModality,
		PreferGPU:            p.PreferGPU,
	}
	if path, ok := cfg.Source.Path(); ok {
		r.Path = path
	}
	if asset, ok := cfg.Source.Asset(); ok {
		r.AssetName = asset
	}
	return r
}

// CreateModelResponse carries the handle of a newly loaded model.
type CreateModelResponse struct {
	// example: 1
	Handle Handle `json:"handle" example:"1"`
}

// ReleaseModelResponse is returned by DELETE /v1/models/{handle}.
type ReleaseModelResponse struct {
	// example: true
	Released bool `json:"released" example:"true"`
}

// GenerateRequest is the body of POST /v1/models/{handle}/generate.
type GenerateRequest struct {
	// Caller-chosen id used to correlate streamed events.
	// example: 0
	RequestID RequestID `json:"requestId" example:"0"`
	// Prompt text.
	// example: Describe this picture.
	Prompt string `json:"prompt" example:"Describe this picture."`
	// Optional base64 image, with or without a "<mime>;base64," prefix.
	Image *string `json:"image,omitempty"`
}

// GenerateResponse carries the final accumulated text of a generation.
type GenerateResponse struct {
	// example: 1
	Handle Handle `json:"handle" example:"1"`
	// example: 0
	RequestID RequestID `json:"requestId" example:"0"`
	// example: Hi there!
	Response string `json:"response" example:"Hi there!"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid handle (handle 7)
	Error string `json:"error" example:"invalid handle (handle 7)"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Bridge error kind, empty for transport errors.
	// example: InvalidHandle
	Kind ErrorKind `json:"kind,omitempty" example:"InvalidHandle"`
}

// Asset describes one bundled model asset.
type Asset struct {
	// example: gemma-2b-it-cpu-int4.bin
	Name string `json:"name" example:"gemma-2b-it-cpu-int4.bin"`
	// example: 1342177280
	SizeBytes int64 `json:"sizeBytes" example:"1342177280"`
	// Whether a materialized copy already exists in the cache directory.
	// example: false
	Cached bool `json:"cached" example:"false"`
}

// AssetsResponse wraps GET /v1/assets.
type AssetsResponse struct {
	Assets []Asset `json:"assets"`
}

// MemoryStats is a diagnostic process/system memory snapshot. Fields the
// platform cannot report are zero.
type MemoryStats struct {
	// Resident set size of this process.
	ProcessResidentBytes uint64 `json:"processResidentBytes"`
	// Virtual memory size of this process.
	ProcessVirtualBytes uint64 `json:"processVirtualBytes"`
	// Go heap bytes in use.
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	// Bytes obtained from the OS by the Go runtime.
	RuntimeSysBytes uint64 `json:"runtimeSysBytes"`
	// Total system memory.
	SystemTotalBytes uint64 `json:"systemTotalBytes"`
	// Memory available for new allocations without swapping.
	SystemAvailableBytes uint64 `json:"systemAvailableBytes"`
	// Completely unused memory.
	SystemFreeBytes uint64 `json:"systemFreeBytes"`
	// True when available memory is below the low-memory threshold.
	LowMemory bool `json:"lowMemory"`
	// Number of loaded models.
	LoadedModels int `json:"loadedModels"`
}

// InstanceStatus summarizes a loaded model for /status.
type InstanceStatus struct {
	// example: 1
	Handle Handle `json:"handle" example:"1"`
	// example: asset:gemma-2b-it-cpu-int4.bin
	Source string `json:"source" example:"asset:gemma-2b-it-cpu-int4.bin"`
	// example: /var/cache/llmbridge/gemma-2b-it-cpu-int4.bin
	ModelPath string `json:"modelPath" example:"/var/cache/llmbridge/gemma-2b-it-cpu-int4.bin"`
	// Lifecycle state: ready, generating, closed.
	// example: ready
	State string `json:"state" example:"ready"`
	// Execution backend actually in use.
	// example: gpu
	Backend string `json:"backend" example:"gpu"`
	// example: false
	VisionEnabled bool `json:"visionEnabled" example:"false"`
	// Generations started on this handle.
	// example: 3
	Generations uint64 `json:"generations" example:"3"`
	// Last time a generation started (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"lastUsedUnix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// example: 3600
	UptimeSeconds int64 `json:"uptimeSeconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"serverTimeUnix" example:"1700000000"`
	// Total models created since start.
	// example: 4
	CreatedTotal uint64 `json:"createdTotal" example:"4"`
	// Total models released since start.
	// example: 1
	ReleasedTotal uint64 `json:"releasedTotal" example:"1"`
}
