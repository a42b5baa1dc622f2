// Package viacep implements the ViaCEP provider (https://viacep.com.br).
package viacep

import (
	"encoding/json"
	"strings"
	"time"

	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

const (
	Name           = "viacep"
	DefaultBaseURL = "https://viacep.com.br/ws"
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
	return p.baseURL + "/" + cep.String() + "/json/"
}

type response struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	IBGE       string `json:"ibge"`
	DDD        string `json:"ddd"`
	// ViaCEP has sent both true and "true" here.
	Erro any `json:"erro"`
}

func (r response) notFound() bool {
	switch v := r.Erro.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

func (p *Provider) Transform(raw []byte) (*models.Address, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, providers.BadData(Name, err)
	}
	if r.notFound() || strings.TrimSpace(r.CEP) == "" {
		return nil, providers.NotFound(Name, r.CEP)
	}
	return &models.Address{
		CEP:          r.CEP,
		State:        r.UF,
		City:         r.Localidade,
		Neighborhood: r.Bairro,
		Street:       r.Logradouro,
		Service:      Name,
		IBGE:         r.IBGE,
		DDD:          r.DDD,
	}, nil
}
