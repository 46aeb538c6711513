package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgen/internal/apierr"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/pdftext"
	"github.com/pavelanni/examgen/internal/storage"
)

const uploadField = "file"

type uploadedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

type uploadResponse struct {
	Success bool         `json:"success"`
	Key     string       `json:"key"`
	URL     string       `json:"url"`
	File    uploadedFile `json:"file"`
}

// readUpload reads the multipart PDF and checks its size and magic bytes.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+1<<20)
	f, hdr, err := r.FormFile(uploadField)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, nil, h.tooLarge()
		}
		return nil, nil, apierr.Validation("No se recibió ningún archivo")
	}
	defer f.Close()
	if hdr.Size > h.config.MaxUploadBytes {
		return nil, nil, h.tooLarge()
	}
	data, err := io.ReadAll(io.LimitReader(f, h.config.MaxUploadBytes+1))
	if err != nil {
		return nil, nil, apierr.Validation("No se pudo leer el archivo")
	}
	if int64(len(data)) > h.config.MaxUploadBytes {
		return nil, nil, h.tooLarge()
	}
	if !pdftext.IsPDF(data) {
		return nil, nil, apierr.Validation("Solo se permiten archivos PDF")
	}
	return data, hdr, nil
}

func (h *Handler) tooLarge() error {
	limit := fmt.Sprintf("%d KB", h.config.MaxUploadBytes>>10)
	if h.config.MaxUploadBytes >= 1<<20 {
		limit = fmt.Sprintf("%d MB", h.config.MaxUploadBytes>>20)
	}
	return apierr.New(apierr.KindValidation, http.StatusRequestEntityTooLarge, "El archivo supera el máximo de "+limit, nil)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, hdr, err := h.readUpload(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	key, err := h.blobs.Put(storage.Key(hdr.Filename, h.now()), bytes.NewReader(data))
	if err != nil {
		fail(w, r, apierr.Persistence("Error guardando el archivo", err))
		return
	}
	url := h.blobs.URL(key)
	slog.InfoContext(r.Context(), "pdf uploaded", "key", key, "bytes", len(data))
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Key:     key,
		URL:     url,
		File: uploadedFile{
			Name: hdr.Filename,
			Size: int64(len(data)),
			Type: "application/pdf",
			URL:  url,
		},
	})
}

func (h *Handler) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rc, err := h.blobs.Get(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			fail(w, r, apierr.NotFound("Archivo no encontrado", err))
			return
		}
		fail(w, r, apierr.Persistence("Error leyendo el archivo", err))
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+key+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		slog.WarnContext(r.Context(), "stream upload", "key", key, "error", err)
	}
}

type processResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Pages   int    `json:"pages"`
	Message string `json:"message"`
}

// sourcePDF returns the bytes of the PDF to process: a multipart upload, or a
// previously uploaded file named by key or pdfUrl. Remote URLs are not fetched.
func (h *Handler) sourcePDF(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		data, _, err := h.readUpload(w, r)
		return data, err
	}
	var p struct {
		Key    string `json:"key"`
		PDFURL string `json:"pdfUrl"`
	}
	if err := decodeJSON(w, r, &p); err != nil {
		return nil, err
	}
	key := p.Key
	if key == "" && p.PDFURL != "" {
		key = path.Base(p.PDFURL)
	}
	if key == "" {
		return nil, apierr.Validation("No se recibió ningún archivo")
	}
	rc, err := h.blobs.Get(key)
	if err != nil {
		return nil, apierr.NotFound("Archivo no encontrado", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, h.config.MaxUploadBytes+1))
	if err != nil {
		return nil, apierr.Persistence("Error leyendo el archivo", err)
	}
	return data, nil
}

func (h *Handler) handleProcessPDF(w http.ResponseWriter, r *http.Request) {
	data, err := h.sourcePDF(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	doc, err := pdftext.Extract(data)
	switch {
	case errors.Is(err, pdftext.ErrNotPDF):
		fail(w, r, apierr.Validation("Solo se permiten archivos PDF"))
		return
	case errors.Is(err, pdftext.ErrNoText):
		fail(w, r, apierr.New(apierr.KindValidation, http.StatusBadRequest,
			"No se pudo extraer texto del PDF. Verifique que no sea un documento escaneado", err))
		return
	case err != nil:
		fail(w, r, apierr.New(apierr.KindValidation, http.StatusBadRequest, "Error procesando el PDF", err))
		return
	}
	text := doc.Text()
	writeJSON(w, http.StatusOK, processResponse{
		Success: true,
		Text:    text,
		Pages:   doc.NumPages,
		Message: fmt.Sprintf("PDF procesado: %d páginas, %d caracteres", doc.NumPages, len([]rune(text))),
	})
}

type generatePayload struct {
	PDFText         string               `json:"pdfText"`
	QuestionConfigs []model.QuestionSpec `json:"questionConfigs"`
	Questions       []model.QuestionSpec `json:"questions"`
}

type generateResponse struct {
	Questions []model.Question `json:"questions"`
	Fallback  bool             `json:"fallback,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func (h *Handler) useFallback(r *http.Request) bool {
	if v := r.URL.Query().Get("fallback"); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return h.config.Fallback
}

func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var p generatePayload
	if err := decodeJSON(w, r, &p); err != nil {
		fail(w, r, err)
		return
	}
	specs := p.QuestionConfigs
	if len(specs) == 0 {
		specs = p.Questions
	}
	if strings.TrimSpace(p.PDFText) == "" {
		fail(w, r, apierr.Validation("El texto del documento es obligatorio"))
		return
	}
	if len(specs) == 0 {
		fail(w, r, apierr.Validation("Configure al menos una pregunta"))
		return
	}
	specs, err := llm.NormalizeSpecs(specs)
	if err != nil {
		fail(w, r, apierr.New(apierr.KindValidation, http.StatusBadRequest, "Configuración de preguntas inválida", err))
		return
	}

	var questions []model.Question
	if h.gen == nil {
		err = errors.New("no question generator configured")
	} else {
		questions, err = h.gen.GenerateQuestions(r.Context(), p.PDFText, specs)
	}
	if err == nil {
		writeJSON(w, http.StatusOK, generateResponse{Questions: questions})
		return
	}
	if !h.useFallback(r) {
		fail(w, r, apierr.Upstream("Error generando preguntas con IA", err))
		return
	}
	slog.WarnContext(r.Context(), "question generation failed, using fallback", "count", len(specs), "error", err)
	writeJSON(w, http.StatusOK, generateResponse{
		Questions: llm.Fallback(specs),
		Fallback:  true,
		Error:     err.Error(),
	})
}

type pingResponse struct {
	Success bool `json:"success"`
	*llm.PingResult
}

func (h *Handler) handleTestLLM(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		fail(w, r, apierr.Upstream("No hay un modelo de lenguaje configurado", nil))
		return
	}
	res, err := h.gen.Ping(r.Context())
	if err != nil {
		fail(w, r, apierr.Upstream("Error conectando con el modelo de lenguaje", err))
		return
	}
	writeJSON(w, http.StatusOK, pingResponse{Success: true, PingResult: res})
}
