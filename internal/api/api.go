// Package api exposes the extraction pipeline and record store over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/auction-ocr/internal/config"
	"github.com/sells-group/auction-ocr/internal/imaging"
	"github.com/sells-group/auction-ocr/internal/monitoring"
	"github.com/sells-group/auction-ocr/internal/pipeline"
	"github.com/sells-group/auction-ocr/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Config
	store     store.Store
	pipeline  *pipeline.Pipeline
	collector *monitoring.Collector
}

// NewServer creates a Server around an already-open store and pipeline.
func NewServer(cfg *config.Config, st store.Store, p *pipeline.Pipeline) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		pipeline:  p,
		collector: monitoring.NewCollector(st),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.handleIngest)

		r.Get("/records", s.handleListRecords)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Post("/records/{id}/reprocess", s.handleReprocess)

		r.Get("/review/queue", s.handleReviewQueue)
		r.Post("/review/{id}/verify", s.handleVerify)
		r.Post("/review/{id}/override", s.handleOverride)
		r.Get("/review/{id}/overrides", s.handleListOverrides)

		r.Get("/export/records.csv", s.handleExportCSV)
		r.Get("/export/records.xlsx", s.handleExportXLSX)

		r.Get("/stats", s.handleStats)
	})

	return r
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError maps domain errors onto HTTP statuses and emits the
// {"error": ...} body every endpoint shares.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	}
	if ie := imaging.AsImageError(err); ie != nil {
		switch ie.Kind {
		case imaging.ErrTooLarge:
			status = http.StatusRequestEntityTooLarge
		default:
			status = http.StatusBadRequest
		}
	}

	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": eris.Cause(err).Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
