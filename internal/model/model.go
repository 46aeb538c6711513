package model

import (
	"context"
	"strconv"
	"time"
)

// Career is a degree program ("carrera") that groups courses.
type Career struct {
	ID           string    `json:"id"`
	Name         string    `json:"nombre"`
	CreatedAt    time.Time `json:"created_at"`
	CoursesCount int       `json:"catedrasCount"`
}

// Course is an academic subject ("cátedra") offered under one or more careers.
type Course struct {
	ID         string    `json:"id"`
	Name       string    `json:"nombre"`
	CreatedAt  time.Time `json:"created_at"`
	ExamsCount int       `json:"examenesCount"`
	Careers    []Career  `json:"carreras"`
}

// Exam is a named, ordered collection of questions tied to a course.
type Exam struct {
	ID         string     `json:"id"`
	Name       string     `json:"nombre"`
	CourseID   *string    `json:"catedra_id"` // nil in degraded paths
	CourseName string     `json:"catedra_nombre,omitempty"`
	Questions  []Question `json:"preguntas"`
	PDFURL     string     `json:"pdf_url,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TotalPoints sums the point values of all questions.
func (e Exam) TotalPoints() int {
	return TotalPoints(e.Questions)
}

// TotalPoints sums the point values of the given questions.
func TotalPoints(questions []Question) int {
	total := 0
	for _, q := range questions {
		total += q.Points
	}
	return total
}

// NewExam is the input for persisting an exam.
type NewExam struct {
	Name      string
	CourseID  string
	Questions []Question
	PDFURL    string
	CreatedAt time.Time
}

// CourseInput carries the editable fields of a course.
type CourseInput struct {
	Name      string   `json:"nombre"`
	CareerIDs []string `json:"carreraIds"`
}

// Category is the thematic focus requested for a generated question.
type Category string

const (
	CategoryTheory   Category = "teoria"
	CategoryPractice Category = "practica"
	CategoryMixed    Category = "mixta"
)

// JustificationMode says whether a true/false question asks for a written justification.
type JustificationMode string

const (
	JustifyTrue  JustificationMode = "true"
	JustifyFalse JustificationMode = "false"
	JustifyNone  JustificationMode = "none"
)

// QuestionSpec describes the desired shape of a question before generation.
type QuestionSpec struct {
	Type            QuestionType      `json:"type"`
	Points          int               `json:"points"`
	Category        Category          `json:"category"`
	IncludesGraphic bool              `json:"includesGraphic"`
	Justification   JustificationMode `json:"justification,omitempty"`
}

// Labels holds the localized strings printed in exam documents.
type Labels struct {
	Course           string // "Cátedra"
	Point            string // singular point unit
	Points           string // plural point unit
	True             string
	False            string
	Correct          string // marker appended to the correct option
	Justification    string
	AnswerSpace      string // caption above development answer lines
	GraphicSpace     string // caption of an empty graphic placeholder
	Graphic          string // prefix of a chart title
	Total            string
	FormulaFallback  string // caption for an image that could not be embedded
	StudentName      string
	Date             string
	AnnotationPrefix string
}

// PointsLabel returns "{n} punto" or "{n} puntos".
func (l Labels) PointsLabel(n int) string {
	if n == 1 {
		return strconv.Itoa(n) + " " + l.Point
	}
	return strconv.Itoa(n) + " " + l.Points
}

// DefaultLabels returns the Spanish document labels.
func DefaultLabels() Labels {
	return Labels{
		Course:           "Cátedra",
		Point:            "punto",
		Points:           "puntos",
		True:             "Verdadero",
		False:            "Falso",
		Correct:          "Correcta",
		Justification:    "Justificación",
		AnswerSpace:      "Espacio para respuesta de desarrollo",
		GraphicSpace:     "Espacio reservado para gráfico",
		Graphic:          "Gráfico",
		Total:            "Puntaje total",
		FormulaFallback:  "Imagen no disponible",
		StudentName:      "Nombre y apellido",
		Date:             "Fecha",
		AnnotationPrefix: "•",
	}
}

type requestIDCtxKey struct{}

// ContextWithRequestID stores the request id used to correlate log lines.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// RequestIDFromContext returns the request id, or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}
