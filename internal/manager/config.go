package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"llmbridge/internal/engine"
	"llmbridge/internal/events"
	"llmbridge/internal/imaging"
	"llmbridge/pkg/types"
)

// AssetResolver maps a bundled asset name to a readable model file path.
type AssetResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// TextLoader builds engines for text-only models. When nil, VisionLoader
	// is used for every model.
	TextLoader engine.Loader
	// VisionLoader builds engines for models with the vision modality enabled.
	// It must report SupportsVision.
	VisionLoader engine.Loader
	Assets       AssetResolver
	Publisher    events.Publisher
	Logger       *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		instances:    make(map[types.Handle]*Instance),
		textLoader:   cfg.TextLoader,
		visionLoader: cfg.VisionLoader,
		assets:       cfg.Assets,
		publisher:    cfg.Publisher,
		startTime:    time.Now(),
	}
	if m.textLoader == nil {
		m.textLoader = m.visionLoader
	}
	if m.publisher == nil {
		m.publisher = events.Nop{}
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	} else {
		m.log = zerolog.Nop()
	}
	m.normalizer = imaging.New(m.publisher)
	return m
}
