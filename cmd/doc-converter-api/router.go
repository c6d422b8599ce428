// Package main provides the API router setup.
package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/doc-converter/cmd/doc-converter-api/handlers"
	"github.com/spherical/doc-converter/cmd/doc-converter-api/middleware"
	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/observability"
)

// NewRouter creates the API router. The converter is built once by the
// caller and shared by every request.
func NewRouter(logger *observability.Logger, cfg *config.Config, converter handlers.Converter) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLog(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "ready",
			"converter":        cfg.Converter.Engine,
			"layout":           converter.HasDetector(),
			"max_upload_bytes": converter.MaxUploadBytes(),
		})
	})

	convertHandler := handlers.NewConvertHandler(logger, converter)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ConcurrencyLimit(cfg.Server.MaxConcurrentRequests, logger))
		if cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Deadline(cfg.Server.RequestTimeout))
		}
		r.Post("/convert", convertHandler.Convert)
	})

	return r
}
