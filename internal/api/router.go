// Package api serves deployment records, health and metrics over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Bidon15/erc20kit/internal/repository"
)

// Options tunes the router.
type Options struct {
	// CORSOrigins lists allowed origins; empty allows localhost only.
	CORSOrigins []string
	// RequestTimeout bounds every request. Zero means 30s.
	RequestTimeout time.Duration
}

// Handler serves deployment records from a repository.
type Handler struct {
	repo   repository.Repository
	logger *slog.Logger
}

// NewRouter returns the API router.
func NewRouter(repo repository.Repository, logger *slog.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	h := &Handler{repo: repo, logger: logger}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(logger))
	r.Use(Metrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS(opts.CORSOrigins))
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/deployments", func(r chi.Router) {
		r.Get("/{network}", h.List)
		r.Get("/{network}/{contract}", h.Latest)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, ErrNotFound)
	})

	return r
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]string{"status": "ok"})
}

// List handles GET /v1/deployments/{network}. The optional contract query parameter
// narrows the result to one contract name.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")

	records, err := h.repo.List(r.Context(), network)
	if err != nil {
		h.logger.Error("failed to list deployments",
			slog.String("network", network),
			slog.String("error", err.Error()),
		)
		Error(w, ErrInternal)
		return
	}

	if contract := r.URL.Query().Get("contract"); contract != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.ContractName == contract {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []*repository.Record{}
	}

	JSONWithMeta(w, http.StatusOK, records, &Meta{Total: len(records)})
}

// Latest handles GET /v1/deployments/{network}/{contract}
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	contract := chi.URLParam(r, "contract")

	rec, err := h.repo.Latest(r.Context(), network, contract)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			Error(w, NewNotFoundError("deployment"))
			return
		}
		h.logger.Error("failed to get deployment",
			slog.String("network", network),
			slog.String("contract", contract),
			slog.String("error", err.Error()),
		)
		Error(w, ErrInternal)
		return
	}

	OK(w, rec)
}
