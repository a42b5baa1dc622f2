package handler

import (
	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
)

// BulkResponse is the response for POST /cep/bulk. Results keep request order.
type BulkResponse struct {
	Results []models.BulkResult `json:"results"`
}

type ProviderInfo struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// ProvidersResponse lists providers in priority order.
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

func NewProvidersResponse(ps []providers.Provider) ProvidersResponse {
	out := ProvidersResponse{Providers: make([]ProviderInfo, len(ps))}
	for i, p := range ps {
		out.Providers[i] = ProviderInfo{
			Name:      p.Name(),
			Priority:  i,
			TimeoutMS: p.Timeout().Milliseconds(),
		}
	}
	return out
}

func (r ProvidersResponse) Names() []string {
	names := make([]string, len(r.Providers))
	for i, p := range r.Providers {
		names[i] = p.Name
	}
	return names
}
