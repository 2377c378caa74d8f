package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router. The MTConnect REST surface supports
// both agent-wide and device-scoped forms of every query endpoint.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/probe", s.handleProbe)
	r.Get("/current", s.handleCurrent)
	r.Get("/sample", s.handleSample)
	r.Get("/sample/ws", s.handleWebSocket)

	r.Route("/asset", func(r chi.Router) {
		r.Get("/", s.handleAssets)
		r.Get("/{id}", s.handleAssetByID)
		r.Delete("/{id}", s.handleDeleteAsset)
		if s.cfg.AllowPut {
			r.Post("/{id}", s.handlePutAsset)
			r.Put("/{id}", s.handlePutAsset)
		}
	})
	// Plural alias kept for older clients.
	r.Get("/assets", s.handleAssets)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	// Device-scoped forms: /{device}/probe, /{device}/current, ...
	r.Route("/{device}", func(r chi.Router) {
		r.Get("/probe", s.handleProbe)
		r.Get("/current", s.handleCurrent)
		r.Get("/sample", s.handleSample)
	})

	// A bare GET / is a probe, per the protocol.
	r.Get("/", s.handleProbe)

	return r
}

// recoveryMiddleware converts handler panics into 500 error documents.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic serving request", "path", r.URL.Path, "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware records each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "query", r.URL.RawQuery)
		next.ServeHTTP(w, r)
	})
}
