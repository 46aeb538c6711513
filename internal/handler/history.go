package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/examgen/internal/handler/views"
)

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("catedra_id")
	exams, err := h.store.ListExams(r.Context(), courseID)
	if err != nil {
		slog.Error("list exams", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	courses, err := h.store.ListCourses(r.Context(), "")
	if err != nil {
		slog.Error("list courses", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	view := views.HistoryView{Exams: exams, Courses: courses, CourseID: courseID}
	if err := views.HistoryPage(view).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
