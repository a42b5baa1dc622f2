package handler

import (
	"fmt"
	"strings"

	dErrors "cepfinder/pkg/domain-errors"
)

const (
	MaxBulkCEPs        = 100
	MaxBulkConcurrency = 20
)

// BulkRequest is the HTTP request body for POST /cep/bulk.
type BulkRequest struct {
	CEPs        []string `json:"ceps"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// Validate checks size limits and trims entries. Individual CEPs are
// validated per item by the lookup so one bad entry does not fail the batch.
func (r *BulkRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.CEPs) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "ceps is required")
	}
	if len(r.CEPs) > MaxBulkCEPs {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("ceps must contain at most %d entries", MaxBulkCEPs))
	}
	if r.Concurrency < 0 || r.Concurrency > MaxBulkConcurrency {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("concurrency must be between 0 and %d", MaxBulkConcurrency))
	}
	for i := range r.CEPs {
		r.CEPs[i] = strings.TrimSpace(r.CEPs[i])
	}
	return nil
}
