package models

import "strings"

// Address is the structured result of a CEP lookup.
// Service names the provider that produced it.
type Address struct {
	CEP          string `json:"cep"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`
	Service      string `json:"service"`
	IBGE         string `json:"ibge,omitempty"`
	DDD          string `json:"ddd,omitempty"`
}

// Sanitize returns a copy with every string field trimmed and the CEP
// reduced to its digits.
func (a Address) Sanitize() Address {
	return Address{
		CEP:          digitsOnly(strings.TrimSpace(a.CEP)),
		State:        strings.TrimSpace(a.State),
		City:         strings.TrimSpace(a.City),
		Neighborhood: strings.TrimSpace(a.Neighborhood),
		Street:       strings.TrimSpace(a.Street),
		Service:      strings.TrimSpace(a.Service),
		IBGE:         strings.TrimSpace(a.IBGE),
		DDD:          strings.TrimSpace(a.DDD),
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
