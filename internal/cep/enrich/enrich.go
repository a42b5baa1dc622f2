// Package enrich fills address fields some providers leave empty.
package enrich

import (
	"strings"

	"cepfinder/internal/cep/models"
)

// capitalDDD maps each federal unit to the area code of its capital.
var capitalDDD = map[string]string{
	"AC": "68", "AL": "82", "AP": "96", "AM": "92", "BA": "71",
	"CE": "85", "DF": "61", "ES": "27", "GO": "62", "MA": "98",
	"MT": "65", "MS": "67", "MG": "31", "PA": "91", "PB": "83",
	"PR": "41", "PE": "81", "PI": "86", "RJ": "21", "RN": "84",
	"RS": "51", "RO": "69", "RR": "95", "SC": "48", "SP": "11",
	"SE": "79", "TO": "63",
}

// DDDForState returns the capital area code for a state abbreviation.
func DDDForState(state string) (string, bool) {
	ddd, ok := capitalDDD[strings.ToUpper(strings.TrimSpace(state))]
	return ddd, ok
}

// Apply returns addr with DDD filled from the state when it was empty.
// Provider-supplied DDD and IBGE are never overwritten.
func Apply(addr models.Address) models.Address {
	if addr.DDD != "" {
		return addr
	}
	if ddd, ok := DDDForState(addr.State); ok {
		addr.DDD = ddd
	}
	return addr
}
