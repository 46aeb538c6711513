// Package views renders the server-side HTML pages. Pages are templ
// components; run templ generate after editing a .templ file.
package views

import (
	"context"
	"net/url"

	"github.com/a-h/templ"

	"github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/model"
)

// HistoryView is the data behind the exam history page.
type HistoryView struct {
	Exams    []model.Exam
	Courses  []model.Course
	CourseID string // active filter, empty for all
}

var historyColumns = []string{"ColName", "ColCourse", "ColQuestions", "ColPoints", "ColCreated", "ColDownload"}

func courseName(ctx context.Context, e model.Exam) string {
	if e.CourseName == "" {
		return i18n.T(ctx, "NoCourse")
	}
	return e.CourseName
}

func exportURL(id, format string) templ.SafeURL {
	return templ.URL("/api/examenes/" + url.PathEscape(id) + "/export?format=" + format)
}
