// Package contract is a reusable test kit that checks a provider honours the
// Provider contract against recorded response payloads.
package contract

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/pkg/domain"
)

// Fixture is one recorded payload and its expected outcome.
// Exactly one of Want and WantErr should be set.
type Fixture struct {
	Name    string
	Body    string
	Want    *models.Address
	WantErr error
}

// Suite is a collection of contract checks for a provider.
type Suite struct {
	Provider providers.Provider
	Fixtures []Fixture
}

// Run executes the URL check and every fixture.
func (s *Suite) Run(t *testing.T) {
	t.Helper()

	t.Run("declares a name", func(t *testing.T) {
		if strings.TrimSpace(s.Provider.Name()) == "" {
			t.Fatal("provider name is empty")
		}
	})

	t.Run("builds an absolute URL containing the CEP", func(t *testing.T) {
		cep := domain.MustParseCEP("01001000")
		raw := s.Provider.BuildURL(cep)
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("invalid URL %q: %v", raw, err)
		}
		if !u.IsAbs() {
			t.Fatalf("URL %q is not absolute", raw)
		}
		if !strings.Contains(raw, cep.String()) && !strings.Contains(raw, cep.Formatted()) {
			t.Fatalf("URL %q does not contain the CEP", raw)
		}
	})

	for _, fx := range s.Fixtures {
		t.Run(fx.Name, func(t *testing.T) {
			got, err := s.Provider.Transform([]byte(fx.Body))
			if fx.WantErr != nil {
				if err == nil {
					t.Fatalf("expected error %v, got address %+v", fx.WantErr, got)
				}
				if !errors.Is(err, fx.WantErr) {
					t.Fatalf("expected error matching %v, got %v", fx.WantErr, err)
				}
				if got != nil {
					t.Fatalf("error path returned partial data: %+v", got)
				}
				var pe *providers.ProviderError
				if errors.As(err, &pe) && pe.Provider != s.Provider.Name() {
					t.Errorf("error tagged with provider %q, want %q", pe.Provider, s.Provider.Name())
				}
				return
			}

			if err != nil {
				t.Fatalf("transform failed: %v", err)
			}
			if got == nil {
				t.Fatal("transform returned nil address without error")
			}
			if got.Service != s.Provider.Name() {
				t.Errorf("service = %q, want %q", got.Service, s.Provider.Name())
			}
			if fx.Want != nil && *got != *fx.Want {
				t.Errorf("address mismatch\n got: %+v\nwant: %+v", *got, *fx.Want)
			}
		})
	}
}
