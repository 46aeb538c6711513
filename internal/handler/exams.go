package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pavelanni/examgen/internal/apierr"
	"github.com/pavelanni/examgen/internal/export"
	"github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/store"
)

// Response headers describing the outcome of storing an exported exam.
const (
	HeaderPersisted    = "X-Exam-Persisted"
	HeaderPersistError = "X-Exam-Persist-Error"
	HeaderExamID       = "X-Exam-Id"
)

// examPayload accepts both the Spanish field names of the web client and
// English aliases.
type examPayload struct {
	Nombre    string           `json:"nombre"`
	Name      string           `json:"name"`
	CatedraID string           `json:"catedra_id"`
	CourseID  string           `json:"courseId"`
	Preguntas []model.Question `json:"preguntas"`
	Questions []model.Question `json:"questions"`
	PDFURL    string           `json:"pdf_url"`
	AnswerKey *bool            `json:"answerKey"`
}

func (p examPayload) request() export.Request {
	req := export.Request{
		Name:      strings.TrimSpace(first(p.Nombre, p.Name)),
		CourseID:  strings.TrimSpace(first(p.CatedraID, p.CourseID)),
		Questions: p.Preguntas,
		PDFURL:    p.PDFURL,
		AnswerKey: p.AnswerKey == nil || *p.AnswerKey,
	}
	if len(req.Questions) == 0 {
		req.Questions = p.Questions
	}
	return req
}

func first(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func decodeExam(w http.ResponseWriter, r *http.Request) (export.Request, error) {
	var p examPayload
	if err := decodeJSON(w, r, &p); err != nil {
		return export.Request{}, err
	}
	req := p.request()
	req.AnswerKey = answerKeyParam(r, req.AnswerKey)
	return req, nil
}

// answerKeyParam lets ?answerKey=false request the unmarked student copy.
// Without the parameter def is returned.
func answerKeyParam(r *http.Request, def bool) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get("answerKey"))
	if err != nil {
		return def
	}
	return b
}

func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams(r.Context(), r.URL.Query().Get("catedra_id"))
	if err != nil {
		fail(w, r, storeError(err, "Examen"))
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.GetExam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, storeError(err, "Examen"))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleCreateExam stores an exam without producing a document.
func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExam(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := req.Validate(true); err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.store.InsertExam(r.Context(), model.NewExam{
		Name:      req.Name,
		CourseID:  req.CourseID,
		Questions: req.Questions,
		PDFURL:    req.PDFURL,
	})
	if err != nil {
		fail(w, r, storeError(err, "Examen"))
		return
	}
	if e, err = h.store.GetExam(r.Context(), e.ID); err != nil {
		fail(w, r, storeError(err, "Examen"))
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteExam(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, storeError(err, "Examen"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func formatParam(r *http.Request, fixed export.Format) (export.Format, error) {
	if fixed != "" {
		return fixed, nil
	}
	f, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		return "", apierr.Validation("Formato no soportado: use pdf o docx")
	}
	return f, nil
}

// persistParam is true unless ?persist=false (or 0, no) is given.
func persistParam(r *http.Request) bool {
	v := r.URL.Query().Get("persist")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return v != "no"
	}
	return b
}

// handleExport renders the posted exam and stores it. fixed pins the format
// for the legacy /export-pdf and /export-docx routes.
func (h *Handler) handleExport(fixed export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := formatParam(r, fixed)
		if err != nil {
			fail(w, r, err)
			return
		}
		req, err := decodeExam(w, r)
		if err != nil {
			fail(w, r, err)
			return
		}
		req.Labels = i18n.DocumentLabels(r.Context())
		if req.CourseID != "" {
			c, err := h.store.FindCourse(r.Context(), req.CourseID)
			if err != nil {
				slog.WarnContext(r.Context(), "course lookup failed", "course_id", req.CourseID, "error", err)
			} else if c != nil {
				req.CourseName = c.Name
			}
		}

		persist := persistParam(r)
		res, err := h.exporter.Export(r.Context(), req, format, persist)
		if err != nil {
			fail(w, r, err)
			return
		}
		if persist {
			setPersistHeaders(w, res)
		}
		writeDocument(w, res)
	}
}

// handleExportStored renders a stored exam again without storing a copy.
func (h *Handler) handleExportStored(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r, "")
	if err != nil {
		fail(w, r, err)
		return
	}
	e, err := h.store.GetExam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, storeError(err, "Examen"))
		return
	}
	req := export.Request{
		Name:       e.Name,
		CourseName: e.CourseName,
		Questions:  e.Questions,
		AnswerKey:  answerKeyParam(r, true),
		Labels:     i18n.DocumentLabels(r.Context()),
	}
	if e.CourseID != nil {
		req.CourseID = *e.CourseID
	}
	res, err := h.exporter.Export(r.Context(), req, format, false)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeDocument(w, res)
}

func setPersistHeaders(w http.ResponseWriter, res *export.Result) {
	if res.PersistErr == nil {
		w.Header().Set(HeaderPersisted, "true")
		if res.Exam != nil {
			w.Header().Set(HeaderExamID, res.Exam.ID)
		}
		return
	}
	w.Header().Set(HeaderPersisted, "false")
	body := apierr.From(storeError(res.PersistErr, "Examen")).Body()
	if errors.Is(res.PersistErr, store.ErrCourseNotFound) {
		body.Error = "La cátedra especificada no existe"
	} else {
		body.Error = "Error guardando el examen en la base de datos"
	}
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	w.Header().Set(HeaderPersistError, asciiJSON(data))
}

// asciiJSON rewrites non-ASCII runes in encoded JSON as \u escapes, so the
// value stays valid JSON and a valid header value.
func asciiJSON(data []byte) string {
	var b strings.Builder
	for _, r := range string(data) {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String()
}

// contentDisposition names the attachment with an ASCII fallback and the
// UTF-8 name in filename* (RFC 6266, RFC 5987).
func contentDisposition(name string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	fallback, _, err := transform.String(fold, name)
	if err != nil {
		fallback = name
	}
	fallback = strings.Map(func(r rune) rune {
		if r >= utf8.RuneSelf || r < ' ' || r == 0x7f || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, fallback)
	v := `attachment; filename="` + fallback + `"`
	if fallback != name {
		v += "; filename*=UTF-8''" + encodeExtValue(name)
	}
	return v
}

// encodeExtValue percent-encodes everything outside the RFC 5987 attr-char set.
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			strings.IndexByte("!#$&+-.^_`|~", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		}
	}
	return b.String()
}

func writeDocument(w http.ResponseWriter, res *export.Result) {
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Bytes)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Bytes); err != nil {
		slog.Warn("write document", "filename", res.Filename, "error", err)
	}
}
