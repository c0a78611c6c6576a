package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/samuel-adebayo/docextract/constants"
	"github.com/samuel-adebayo/docextract/internal/common"
	"github.com/samuel-adebayo/docextract/internal/document"
	"github.com/samuel-adebayo/docextract/internal/pipeline"
)

const maxUploadBytes = 64 << 20

// Runner is the pipeline entry point the HTTP layer depends on.
type Runner interface {
	Run(ctx context.Context, doc *document.Document, strategy document.Strategy, template string, schemaHint map[string]any) (*pipeline.Result, error)
}

type Server struct {
	runner        Runner
	pdfStrategy   string
	defaultPrompt string
	schemaHint    map[string]any
	logger        *slog.Logger
}

func New(runner Runner, pdfStrategy, defaultPrompt string, schemaHint map[string]any, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runner:        runner,
		pdfStrategy:   pdfStrategy,
		defaultPrompt: defaultPrompt,
		schemaHint:    schemaHint,
		logger:        logger,
	}
}

// Router wires the upload endpoint. One file per request; the pipeline result
// is returned as JSON once every page resolves.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/v1/extract", s.handleExtract)
	return r
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing 'file' part")
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		// fall back on the filename when the client sent no useful type
		if byExt := constants.MapExtToMediaType(filepath.Ext(header.Filename)); byExt != "" {
			mediaType = byExt
		}
	}
	if !constants.IsSupportedMediaType(mediaType) {
		s.writeError(w, http.StatusUnsupportedMediaType, "unsupported media type: "+mediaType)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	doc, err := document.New(header.Filename, mediaType, data)
	if err != nil {
		s.writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	pdfStrategy := s.pdfStrategy
	if v := r.FormValue("strategy"); v != "" {
		pdfStrategy = v
	}
	strategy, err := document.Classify(mediaType, pdfStrategy)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	template := r.FormValue("prompt")
	if template == "" {
		template = s.defaultPrompt
	}

	res, err := s.runner.Run(r.Context(), doc, strategy, template, s.schemaHint)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, common.ErrMaterialization) {
			status = http.StatusUnprocessableEntity
		}
		s.logger.Error("server.extract.failed", "doc", doc.Name, "error", err)
		s.writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Warn("server.extract.encode_failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
