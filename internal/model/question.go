package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// QuestionType discriminates the question variants.
type QuestionType string

const (
	// TypeMultipleChoice is a question with lettered options.
	TypeMultipleChoice QuestionType = "multiple-opcion"
	// TypeDevelopment is an open question answered in writing.
	TypeDevelopment QuestionType = "desarrollo"
	// TypeTrueFalse is a true/false question with optional justification.
	TypeTrueFalse QuestionType = "verdadero-falso"
)

var typeAliases = map[string]QuestionType{
	"multiple-opcion":  TypeMultipleChoice,
	"multiple-opción":  TypeMultipleChoice,
	"multiple":         TypeMultipleChoice,
	"multiple-choice":  TypeMultipleChoice,
	"multiple_choice":  TypeMultipleChoice,
	"desarrollo":       TypeDevelopment,
	"development":      TypeDevelopment,
	"open":             TypeDevelopment,
	"verdadero-falso":  TypeTrueFalse,
	"verdadero_falso":  TypeTrueFalse,
	"truefalse":        TypeTrueFalse,
	"true-false":       TypeTrueFalse,
	"true_false":       TypeTrueFalse,
	"true/false":       TypeTrueFalse,
	"verdadero/falso":  TypeTrueFalse,
}

// ParseQuestionType resolves canonical names and the aliases emitted by generators.
func ParseQuestionType(s string) (QuestionType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// ChartType is the kind of chart drawn for a graphic question.
type ChartType string

const (
	ChartLine    ChartType = "line"
	ChartBar     ChartType = "bar"
	ChartScatter ChartType = "scatter"
)

// Point is a chart data point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Annotation is a chart point with an attached label.
type Annotation struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// GraphicData describes the chart attached to a question.
type GraphicData struct {
	Type        ChartType    `json:"type"`
	Title       string       `json:"title"`
	XLabel      string       `json:"xLabel"`
	YLabel      string       `json:"yLabel"`
	Points      []Point      `json:"data"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// HasData reports whether there is anything to plot.
func (g *GraphicData) HasData() bool {
	return g != nil && len(g.Points) > 0
}

// AnswerKey is a correct-answer indicator as it was given: a number (option
// index) or a string (letter, option text, "verdadero", "true", ...).
// The zero value means no answer was provided.
type AnswerKey struct {
	Value   string
	Numeric bool
}

// IndexAnswer returns a numeric answer key.
func IndexAnswer(i int) AnswerKey {
	return AnswerKey{Value: strconv.Itoa(i), Numeric: true}
}

// TextAnswer returns a string answer key.
func TextAnswer(s string) AnswerKey {
	return AnswerKey{Value: s}
}

// IsZero reports whether no answer was provided.
func (k AnswerKey) IsZero() bool {
	return k.Value == "" && !k.Numeric
}

func (k AnswerKey) String() string {
	return k.Value
}

func (k AnswerKey) MarshalJSON() ([]byte, error) {
	if k.IsZero() {
		return []byte("null"), nil
	}
	if k.Numeric {
		return []byte(k.Value), nil
	}
	return json.Marshal(k.Value)
}

func (k *AnswerKey) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*k = AnswerKey{}
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = AnswerKey{Value: s}
	case string(data) == "true" || string(data) == "false":
		*k = AnswerKey{Value: string(data)}
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("answer key: %w", err)
		}
		*k = AnswerKey{Value: n.String(), Numeric: true}
	}
	return nil
}

// QuestionBody is the type-specific part of a question. The set of
// implementations is closed: MultipleChoice, Development and TrueFalse.
type QuestionBody interface {
	Type() QuestionType
	isQuestionBody()
}

// MultipleChoice lists options in display order.
type MultipleChoice struct {
	Options []string
	Correct AnswerKey
}

// Development has no fields; the document reserves blank lines instead.
type Development struct{}

// TrueFalse carries the expected truth value and an optional justification prompt.
type TrueFalse struct {
	Correct       AnswerKey
	Justification string
}

func (MultipleChoice) Type() QuestionType { return TypeMultipleChoice }
func (Development) Type() QuestionType    { return TypeDevelopment }
func (TrueFalse) Type() QuestionType      { return TypeTrueFalse }

func (MultipleChoice) isQuestionBody() {}
func (Development) isQuestionBody()    {}
func (TrueFalse) isQuestionBody()      {}

// Question is one exam question. Statement may embed $...$ and $$...$$ formulas.
type Question struct {
	ID              string
	Statement       string
	Points          int
	IncludesGraphic bool
	Graphic         *GraphicData
	Body            QuestionBody
}

// Type returns the variant tag, or an empty string when Body is nil.
func (q Question) Type() QuestionType {
	if q.Body == nil {
		return ""
	}
	return q.Body.Type()
}

type questionWire struct {
	ID              string       `json:"id"`
	Type            string       `json:"tipo"`
	Statement       string       `json:"enunciado"`
	Options         []string     `json:"opciones,omitempty"`
	Correct         *AnswerKey   `json:"respuestaCorrecta,omitempty"`
	Justification   string       `json:"justificacion,omitempty"`
	Points          int          `json:"puntaje"`
	IncludesGraphic bool         `json:"incluyeGrafico"`
	Graphic         *GraphicData `json:"graphicData,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	w := questionWire{
		ID:              q.ID,
		Statement:       q.Statement,
		Points:          q.Points,
		IncludesGraphic: q.IncludesGraphic,
		Graphic:         q.Graphic,
	}
	switch b := q.Body.(type) {
	case MultipleChoice:
		w.Type = string(TypeMultipleChoice)
		w.Options = b.Options
		if !b.Correct.IsZero() {
			w.Correct = &b.Correct
		}
	case Development:
		w.Type = string(TypeDevelopment)
	case TrueFalse:
		w.Type = string(TypeTrueFalse)
		w.Justification = b.Justification
		if !b.Correct.IsZero() {
			w.Correct = &b.Correct
		}
	default:
		return nil, fmt.Errorf("question %q has no body", q.ID)
	}
	return json.Marshal(w)
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var w questionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t, ok := ParseQuestionType(w.Type)
	if !ok {
		return fmt.Errorf("unknown question type %q", w.Type)
	}
	var correct AnswerKey
	if w.Correct != nil {
		correct = *w.Correct
	}
	*q = Question{
		ID:              w.ID,
		Statement:       w.Statement,
		Points:          w.Points,
		IncludesGraphic: w.IncludesGraphic,
		Graphic:         w.Graphic,
	}
	switch t {
	case TypeMultipleChoice:
		q.Body = MultipleChoice{Options: w.Options, Correct: correct}
	case TypeDevelopment:
		q.Body = Development{}
	case TypeTrueFalse:
		q.Body = TrueFalse{Correct: correct, Justification: w.Justification}
	}
	return nil
}
