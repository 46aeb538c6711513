package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/examgen/internal/apierr"
	"github.com/pavelanni/examgen/internal/export"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/storage"
	"github.com/pavelanni/examgen/internal/store"
)

// Generator produces exam questions from document text.
type Generator interface {
	GenerateQuestions(ctx context.Context, sourceText string, specs []model.QuestionSpec) ([]model.Question, error)
	Ping(ctx context.Context) (*llm.PingResult, error)
}

// Config holds handler settings.
type Config struct {
	// AdminPasswordHash is a bcrypt hash guarding delete routes. Empty
	// leaves them open.
	AdminPasswordHash []byte
	MaxUploadBytes    int64
	// Fallback makes generate-questions answer with placeholder questions
	// when the generator fails.
	Fallback bool
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	exporter *export.Exporter
	gen      Generator
	blobs    storage.BlobStore
	config   Config
	now      func() time.Time
}

// New creates a new Handler. gen may be nil when no generator is configured.
func New(s *store.Store, x *export.Exporter, gen Generator, blobs storage.BlobStore, cfg Config) (*Handler, error) {
	if s == nil || x == nil || blobs == nil {
		return nil, errors.New("handler: store, exporter and blob store are required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handler{store: s, exporter: x, gen: gen, blobs: blobs, config: cfg, now: time.Now}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(requestContext)

	r.Get("/", h.handleHistory)
	r.Get("/uploads/{key}", h.handleGetUpload)

	r.Route("/api", func(r chi.Router) {
		r.Get("/carreras", h.handleListCareers)
		r.Post("/carreras", h.handleCreateCareer)
		r.Patch("/carreras/{id}", h.handleRenameCareer)
		r.With(h.requireAdmin).Delete("/carreras/{id}", h.handleDeleteCareer)

		r.Get("/catedras", h.handleListCourses)
		r.Post("/catedras", h.handleCreateCourse)
		r.Get("/catedras/{id}", h.handleGetCourse)
		r.Put("/catedras/{id}", h.handleUpdateCourse)
		r.With(h.requireAdmin).Delete("/catedras/{id}", h.handleDeleteCourse)

		r.Get("/examenes", h.handleListExams)
		r.Post("/examenes", h.handleCreateExam)
		r.Get("/examenes/{id}", h.handleGetExam)
		r.Get("/examenes/{id}/export", h.handleExportStored)
		r.With(h.requireAdmin).Delete("/examenes/{id}", h.handleDeleteExam)

		r.Post("/export", h.handleExport(""))
		r.Post("/export-pdf", h.handleExport(export.FormatPDF))
		r.Post("/export-docx", h.handleExport(export.FormatDOCX))

		r.Post("/upload", h.handleUpload)
		r.Post("/process-pdf", h.handleProcessPDF)
		r.Post("/generate-questions", h.handleGenerateQuestions)
		r.Get("/test-llm", h.handleTestLLM)
	})
}

// requestContext copies chi's request id into the context key the export
// pipeline logs with.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(model.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// fail writes err as the JSON error envelope.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apierr.From(err)
	attrs := []any{"path", r.URL.Path, "status", e.Status, "error", err}
	if id := model.RequestIDFromContext(r.Context()); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if e.Status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		slog.WarnContext(r.Context(), "request rejected", attrs...)
	}
	writeJSON(w, e.Status, e.Body())
}

const maxJSONBytes = 8 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.New(apierr.KindValidation, http.StatusBadRequest, "Cuerpo JSON inválido", err)
	}
	return nil
}

// storeError maps store sentinels onto API errors. what names the record
// in Spanish for the client message.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrCourseNotFound):
		return apierr.NotFound("La cátedra especificada no existe", err)
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound(what+" no encontrado", err)
	case errors.Is(err, store.ErrConflict):
		return apierr.Conflict("Ya existe un registro con ese nombre", err)
	case errors.Is(err, store.ErrInUse):
		return apierr.Conflict(what+" tiene registros asociados y no puede eliminarse", err)
	}
	return apierr.Persistence("Error de base de datos", err)
}

func requiredName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apierr.Validation("El nombre es obligatorio")
	}
	return s, nil
}
