package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examgen/internal/apierr"
	"github.com/pavelanni/examgen/internal/model"
)

type careerPayload struct {
	Name string `json:"nombre"`
}

func (h *Handler) handleListCareers(w http.ResponseWriter, r *http.Request) {
	careers, err := h.store.ListCareers(r.Context())
	if err != nil {
		fail(w, r, storeError(err, "Carrera"))
		return
	}
	writeJSON(w, http.StatusOK, careers)
}

func (h *Handler) handleCreateCareer(w http.ResponseWriter, r *http.Request) {
	var p careerPayload
	if err := decodeJSON(w, r, &p); err != nil {
		fail(w, r, err)
		return
	}
	name, err := requiredName(p.Name)
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.store.CreateCareer(r.Context(), name)
	if err != nil {
		fail(w, r, storeError(err, "Carrera"))
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleRenameCareer(w http.ResponseWriter, r *http.Request) {
	var p careerPayload
	if err := decodeJSON(w, r, &p); err != nil {
		fail(w, r, err)
		return
	}
	name, err := requiredName(p.Name)
	if err != nil {
		fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.store.RenameCareer(r.Context(), id, name); err != nil {
		fail(w, r, storeError(err, "Carrera"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "nombre": name})
}

func (h *Handler) handleDeleteCareer(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteCareer(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, storeError(err, "Carrera"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.ListCourses(r.Context(), r.URL.Query().Get("carrera_id"))
	if err != nil {
		fail(w, r, storeError(err, "Cátedra"))
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

func (h *Handler) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCourse(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, storeError(err, "Cátedra"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func courseInput(w http.ResponseWriter, r *http.Request) (model.CourseInput, error) {
	var in model.CourseInput
	if err := decodeJSON(w, r, &in); err != nil {
		return in, err
	}
	name, err := requiredName(in.Name)
	if err != nil {
		return in, err
	}
	in.Name = name
	if len(in.CareerIDs) == 0 {
		return in, apierr.Validation("Seleccione al menos una carrera")
	}
	return in, nil
}

func (h *Handler) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	in, err := courseInput(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.store.CreateCourse(r.Context(), in)
	if err != nil {
		fail(w, r, storeError(err, "Carrera"))
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	in, err := courseInput(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.store.UpdateCourse(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, storeError(err, "Cátedra o carrera"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteCourse(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, storeError(err, "Cátedra"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
