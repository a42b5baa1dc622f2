package testutil

import (
	"net/http"

	"cepfinder/pkg/requestcontext"
)

// WithRequestID sets the request ID the RequestID middleware would assign.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithClientIP sets the caller address the ClientIP middleware would resolve.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
}
