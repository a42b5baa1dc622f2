// Package widenet implements the WideNet apicep provider, which serves
// static JSON files keyed by the hyphenated CEP.
package widenet

import (
	"encoding/json"
	"strings"
	"time"

	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

const (
	Name           = "widenet"
	DefaultBaseURL = "https://cdn.apicep.com/file/apicep"
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
	return p.baseURL + "/" + cep.Formatted() + ".json"
}

type response struct {
	Status   int    `json:"status"`
	OK       bool   `json:"ok"`
	Code     string `json:"code"`
	State    string `json:"state"`
	City     string `json:"city"`
	District string `json:"district"`
	Address  string `json:"address"`
	Message  string `json:"message"`
}

func (p *Provider) Transform(raw []byte) (*models.Address, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, providers.BadData(Name, err)
	}
	if r.Status != 200 || !r.OK || strings.TrimSpace(r.Code) == "" {
		return nil, providers.NotFound(Name, r.Code)
	}
	return &models.Address{
		CEP:          r.Code,
		State:        r.State,
		City:         r.City,
		Neighborhood: r.District,
		Street:       r.Address,
		Service:      Name,
	}, nil
}
