package domain

import (
	"fmt"

	dErrors "cepfinder/pkg/domain-errors"
)

// CEP is a validated Brazilian postal code in its canonical 8-digit form.
// The zero value is not a valid CEP.
type CEP string

// ValidationError reports a postal code that is not in one of the two
// accepted shapes: 8 digits, or 5 digits, a hyphen and 3 digits.
type ValidationError struct {
	Input string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid CEP %q: expected 8 digits or NNNNN-NNN", e.Input)
}

// DomainCode maps validation failures to invalid input at the transport boundary.
func (e *ValidationError) DomainCode() dErrors.Code {
	return dErrors.CodeInvalidInput
}

// ParseCEP validates raw input and returns the canonical form with the
// hyphen stripped. Surrounding whitespace is not tolerated.
func ParseCEP(raw string) (CEP, error) {
	switch len(raw) {
	case 8:
		if allDigits(raw) {
			return CEP(raw), nil
		}
	case 9:
		if raw[5] == '-' && allDigits(raw[:5]) && allDigits(raw[6:]) {
			return CEP(raw[:5] + raw[6:]), nil
		}
	}
	return "", &ValidationError{Input: raw}
}

// MustParseCEP is ParseCEP for constants and tests; it panics on bad input.
func MustParseCEP(raw string) CEP {
	c, err := ParseCEP(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the 8-digit form used as cache key and provider input.
func (c CEP) String() string {
	return string(c)
}

// Formatted returns the NNNNN-NNN form some providers key their files by.
func (c CEP) Formatted() string {
	if len(c) != 8 {
		return string(c)
	}
	return string(c[:5]) + "-" + string(c[5:])
}

// IsNil returns true if the CEP is empty.
func (c CEP) IsNil() bool {
	return c == ""
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
