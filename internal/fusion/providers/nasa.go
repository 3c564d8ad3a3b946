package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

const (
	NASAID          = "nasa"
	nasaDefaultBase = "https://api.nasa.gov/planetary/earth"
	nasaDefaultDim  = "0.15"
	nasaAttribution = "NASA Earth Imagery API (Landsat 8)"
)

// NASAImagery fetches Landsat-derived snapshots from the NASA earth imagery API.
type NASAImagery struct {
	cfg fusion.ProviderConfig
	ep  endpoint

	// Dim is the tile width and height in degrees.
	Dim string
}

func NewNASAImagery(cfg fusion.ProviderConfig, client *http.Client) *NASAImagery {
	if cfg.ID == "" {
		cfg.ID = NASAID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = nasaDefaultBase
	}
	return &NASAImagery{cfg: cfg, ep: newEndpoint(cfg.ID, client), Dim: nasaDefaultDim}
}

func (p *NASAImagery) ID() string { return p.cfg.ID }

func (p *NASAImagery) Config() fusion.ProviderConfig { return p.cfg }

func (p *NASAImagery) Fetch(ctx context.Context, q fusion.ImageryQuery) (fusion.ImagerySnapshot, error) {
	if p.cfg.Credentials == "" {
		return fusion.ImagerySnapshot{}, p.ep.wrap(fmt.Errorf("nasa: %w", errMissingCredentials))
	}
	if err := q.Coordinates.Validate(); err != nil {
		return fusion.ImagerySnapshot{}, p.ep.wrap(err)
	}

	values := imageryQueryValues(q)
	values.Set("dim", p.Dim)
	values.Set("api_key", p.cfg.Credentials)

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/imagery", values, nil)
	if err != nil {
		return fusion.ImagerySnapshot{}, err
	}
	return p.ep.toSnapshot(body, q, nasaAttribution)
}
