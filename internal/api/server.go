// Package api exposes question answering and index rebuilds over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/newsrag/internal/query"
	"github.com/seanblong/newsrag/internal/rebuild"
	"github.com/seanblong/newsrag/pkg/models"
)

const (
	askTimeout   = 60 * time.Second
	maxBodyBytes = 1 << 20
)

type Asker interface {
	Ask(ctx context.Context, question string) (models.Answer, error)
	Sources() []string
}

type Rebuilder interface {
	Start(ctx context.Context) (string, error)
	Status() models.RebuildStatus
}

type Server struct {
	query   Asker
	rebuild Rebuilder
	origins []string
	now     func() time.Time
}

func NewServer(q Asker, r Rebuilder, origins []string) *Server {
	return &Server{query: q, rebuild: r, origins: origins, now: time.Now}
}

type askRequest struct {
	Question string `json:"question"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type sourcesResponse struct {
	RSS []string `json:"rss"`
}

type rebuildResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /ask", s.ask)
	mux.HandleFunc("GET /ingest/sources", s.sources)
	mux.HandleFunc("POST /ingest/rebuild", s.startRebuild)
	mux.HandleFunc("GET /ingest/rebuild/status", s.rebuildStatus)
	return mux
}

// Handler wraps the routes with CORS and request logging.
func (s *Server) Handler(logger zerolog.Logger) http.Handler {
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(s.cors(s.Routes())),
	)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: s.now().Format(time.RFC3339)})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), askTimeout)
	defer cancel()
	ans, err := s.query.Ask(ctx, req.Question)
	if errors.Is(err, query.ErrInvalidQuestion) {
		writeError(w, http.StatusBadRequest, "Question cannot be empty")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("ask failed")
		writeError(w, http.StatusInternalServerError, "Error processing question: "+err.Error())
		return
	}

	hlog.FromRequest(r).Info().Int("citations", len(ans.Citations)).Float64("processing_time", ans.ProcessingTime).Msg("answered")
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) sources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sourcesResponse{RSS: s.query.Sources()})
}

func (s *Server) startRebuild(w http.ResponseWriter, r *http.Request) {
	runID, err := s.rebuild.Start(r.Context())
	if errors.Is(err, rebuild.ErrAlreadyInProgress) {
		writeError(w, http.StatusConflict, "Rebuild already in progress")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("rebuild not started")
		writeError(w, http.StatusInternalServerError, "Error starting rebuild: "+err.Error())
		return
	}
	hlog.FromRequest(r).Info().Str("run_id", runID).Msg("rebuild started")
	writeJSON(w, http.StatusOK, rebuildResponse{
		Status:  "started",
		Message: "Index rebuild started in background",
		RunID:   runID,
	})
}

func (s *Server) rebuildStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rebuild.Status())
}

// cors answers preflight requests and tags responses for allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.origins, origin) || slices.Contains(s.origins, "*")) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
				if hdrs := r.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
					h.Set("Access-Control-Allow-Headers", hdrs)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: strings.TrimSpace(detail)})
}
