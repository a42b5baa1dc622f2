package handler

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cepfinder/internal/cep/metrics"
	"cepfinder/internal/cep/models"
	"cepfinder/internal/cep/providers"
	"cepfinder/internal/cep/ratelimit"
	dErrors "cepfinder/pkg/domain-errors"
	"cepfinder/pkg/platform/httputil"
	"cepfinder/pkg/platform/sentinel"
	"cepfinder/pkg/requestcontext"
)

// Service defines the lookup operations exposed over HTTP.
type Service interface {
	Lookup(ctx context.Context, raw string) (models.Address, error)
	LookupMany(ctx context.Context, ceps []string, concurrency int) []models.BulkResult
	Warmup(ctx context.Context) ([]providers.Provider, error)
	Providers() []providers.Provider
	Invalidate(ctx context.Context, raw string) error
	ClearCache(ctx context.Context) error
}

// Handler wires CEP endpoints to the orchestrator.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs a CEP handler with its dependencies. metrics may be nil.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
}

// Register mounts CEP endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/cep/providers", h.HandleProviders)
	r.Post("/cep/bulk", h.HandleBulk)
	r.Post("/cep/warmup", h.HandleWarmup)
	r.Delete("/cep/cache", h.HandleClearCache)
	r.Delete("/cep/cache/{cep}", h.HandleInvalidate)
	r.Get("/cep/{cep}", h.HandleLookup)
}

// HandleLookup handles GET /cep/{cep}.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	raw := chi.URLParam(r, "cep")

	addr, err := h.service.Lookup(ctx, raw)
	if err != nil {
		h.writeLookupError(ctx, w, err, raw, requestID)
		return
	}

	h.logger.InfoContext(ctx, "cep resolved",
		"request_id", requestID,
		"cep", addr.CEP,
		"provider", addr.Service,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, addr)
}

// HandleBulk handles POST /cep/bulk.
func (h *Handler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[BulkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveBulkSize(len(req.CEPs))
	}

	results := h.service.LookupMany(ctx, req.CEPs, req.Concurrency)

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	h.logger.InfoContext(ctx, "bulk lookup served",
		"request_id", requestID,
		"count", len(results),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, BulkResponse{Results: results})
}

// HandleWarmup handles POST /cep/warmup.
func (h *Handler) HandleWarmup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	ranked, err := h.service.Warmup(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "warmup failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "warmup did not complete"))
		return
	}

	resp := NewProvidersResponse(ranked)
	h.logger.InfoContext(ctx, "providers reordered",
		"request_id", requestID,
		"order", resp.Names(),
	)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleProviders handles GET /cep/providers.
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, NewProvidersResponse(h.service.Providers()))
}

// HandleInvalidate handles DELETE /cep/cache/{cep}.
func (h *Handler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "cep")

	if err := h.service.Invalidate(ctx, raw); err != nil {
		h.logger.WarnContext(ctx, "cache invalidation failed",
			"request_id", requestcontext.RequestID(ctx),
			"cep", raw,
			"error", err,
		)
		httputil.WriteError(w, cacheAdminError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearCache handles DELETE /cep/cache.
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.ClearCache(ctx); err != nil {
		h.logger.ErrorContext(ctx, "cache clear failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, cacheAdminError(err))
		return
	}
	h.logger.InfoContext(ctx, "cache cleared", "request_id", requestcontext.RequestID(ctx))
	w.WriteHeader(http.StatusNoContent)
}

// cacheAdminError maps a cache backend outage to 503 so callers know the
// invalidation has not reached every cache yet.
func cacheAdminError(err error) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "cache backend unavailable, invalidation queued for retry")
	}
	return err
}

func (h *Handler) writeLookupError(ctx context.Context, w http.ResponseWriter, err error, raw, requestID string) {
	var limitErr *ratelimit.LimitError
	if errors.As(err, &limitErr) {
		secs := int(math.Ceil(limitErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}

	code := dErrors.CodeOf(err)
	attrs := []any{
		"request_id", requestID,
		"cep", raw,
		"code", string(code),
		"error", err,
	}
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeNotFound, dErrors.CodeRateLimited:
		h.logger.InfoContext(ctx, "cep lookup rejected", attrs...)
	default:
		h.logger.WarnContext(ctx, "cep lookup failed", attrs...)
	}
	httputil.WriteError(w, err)
}
