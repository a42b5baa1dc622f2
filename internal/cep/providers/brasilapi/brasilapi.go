// Package brasilapi implements the BrasilAPI CEP v1 provider.
package brasilapi

import (
	"encoding/json"
	"strings"
	"time"

	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

const (
	Name           = "brasilapi"
	DefaultBaseURL = "https://brasilapi.com.br/api/cep/v1"
)

type Provider struct {
	baseURL string
	timeout time.Duration
}

type Option func(*Provider)

func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

func New(opts ...Option) *Provider {
	p := &Provider{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string           { return Name }
func (p *Provider) Timeout() time.Duration { return p.timeout }

func (p *Provider) BuildURL(cep domain.CEP) string {
	return p.baseURL + "/" + cep.String()
}

type response struct {
	CEP          string `json:"cep"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`

	// error envelope
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []json.RawMessage `json:"errors"`
}

func (p *Provider) Transform(raw []byte) (*models.Address, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, providers.BadData(Name, err)
	}
	if r.Type != "" || len(r.Errors) > 0 || strings.TrimSpace(r.CEP) == "" {
		return nil, providers.NotFound(Name, r.CEP)
	}
	return &models.Address{
		CEP:          r.CEP,
		State:        r.State,
		City:         r.City,
		Neighborhood: r.Neighborhood,
		Street:       r.Street,
		Service:      Name,
	}, nil
}
