package httpapi

import (
	"context"

	"llmbridge/internal/bridge"
	"llmbridge/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	bridge.Gateway
	Status() types.StatusResponse
	Ready() bool
	ListAssets(ctx context.Context) ([]types.Asset, error)
}

// StatusReporter reports registry status. *manager.Manager satisfies it.
type StatusReporter interface {
	Status() types.StatusResponse
	Ready() bool
}

// AssetLister lists bundled assets. *assets.Resolver satisfies it.
type AssetLister interface {
	List(ctx context.Context) ([]types.Asset, error)
}

type service struct {
	bridge.Gateway
	status StatusReporter
	assets AssetLister
}

// NewService combines a gateway with registry status and an asset listing.
// assets may be nil.
func NewService(gw bridge.Gateway, status StatusReporter, assets AssetLister) Service {
	return &service{Gateway: gw, status: status, assets: assets}
}

func (s *service) Status() types.StatusResponse { return s.status.Status() }
func (s *service) Ready() bool                  { return s.status.Ready() }

func (s *service) ListAssets(ctx context.Context) ([]types.Asset, error) {
	if s.assets == nil {
		return []types.Asset{}, nil
	}
	return s.assets.List(ctx)
}
