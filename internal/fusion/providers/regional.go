package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/i474232898/environmental-fusion/internal/fusion"
)

const (
	RegionalID          = "regional"
	regionalAttribution = "Regional imagery service"

	regionalDefaultResolution = "10m"
	regionalDefaultProduct    = "water-extent"
)

// RegionalImagery fetches higher-resolution recent imagery from a bearer-authenticated regional service.
type RegionalImagery struct {
	cfg fusion.ProviderConfig
	ep  endpoint

	Resolution string
	Product    string
}

func NewRegionalImagery(cfg fusion.ProviderConfig, client *http.Client) *RegionalImagery {
	if cfg.ID == "" {
		cfg.ID = RegionalID
	}
	return &RegionalImagery{
		cfg:        cfg,
		ep:         newEndpoint(cfg.ID, client),
		Resolution: regionalDefaultResolution,
		Product:    regionalDefaultProduct,
	}
}

func (p *RegionalImagery) ID() string { return p.cfg.ID }

func (p *RegionalImagery) Config() fusion.ProviderConfig { return p.cfg }

func (p *RegionalImagery) Fetch(ctx context.Context, q fusion.ImageryQuery) (fusion.ImagerySnapshot, error) {
	if p.cfg.Credentials == "" {
		return fusion.ImagerySnapshot{}, p.ep.wrap(fmt.Errorf("regional: %w", errMissingCredentials))
	}
	if p.cfg.BaseURL == "" {
		return fusion.ImagerySnapshot{}, p.ep.wrap(fmt.Errorf("regional: base url is not configured"))
	}
	if err := q.Coordinates.Validate(); err != nil {
		return fusion.ImagerySnapshot{}, p.ep.wrap(err)
	}

	values := imageryQueryValues(q)
	values.Set("resolution", p.Resolution)
	values.Set("product", p.Product)
	values.Set("token", p.cfg.Credentials)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.Credentials)

	body, err := p.ep.get(ctx, p.cfg.BaseURL, "/imagery", values, header)
	if err != nil {
		return fusion.ImagerySnapshot{}, err
	}
	return p.ep.toSnapshot(body, q, regionalAttribution)
}
