package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestQuestionJSONRoundTrip(t *testing.T) {
	questions := []Question{
		{
			ID:        "q1",
			Statement: "Calcule $\\frac{1}{2}$ de $$x^2$$",
			Points:    10,
			Body:      MultipleChoice{Options: []string{"a", "b", "c"}, Correct: IndexAnswer(1)},
		},
		{
			ID:        "q2",
			Statement: "Explique el MRU.",
			Points:    5,
			Body:      Development{},
			IncludesGraphic: true,
			Graphic: &GraphicData{
				Type:        ChartLine,
				Title:       "Posición",
				Points:      []Point{{X: 0, Y: 0}, {X: 1, Y: 2}},
				Annotations: []Annotation{{X: 1, Y: 2, Text: "fin"}},
			},
		},
		{
			ID:        "q3",
			Statement: "La Tierra es plana.",
			Points:    5,
			Body:      TrueFalse{Correct: TextAnswer("falso"), Justification: "Justifique"},
		},
	}

	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got []Question
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, questions) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, questions)
	}
}

func TestQuestionUnmarshalAliases(t *testing.T) {
	tests := []struct {
		raw  string
		want QuestionType
	}{
		{`{"tipo":"multiple","enunciado":"x","puntaje":1}`, TypeMultipleChoice},
		{`{"tipo":"development","enunciado":"x","puntaje":1}`, TypeDevelopment},
		{`{"tipo":"truefalse","enunciado":"x","puntaje":1}`, TypeTrueFalse},
		{`{"tipo":"Verdadero-Falso","enunciado":"x","puntaje":1}`, TypeTrueFalse},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			var q Question
			if err := json.Unmarshal([]byte(tt.raw), &q); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if q.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", q.Type(), tt.want)
			}
		})
	}

	var q Question
	if err := json.Unmarshal([]byte(`{"tipo":"essay"}`), &q); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestAnswerKeyEncodings(t *testing.T) {
	tests := []struct {
		raw     string
		value   string
		numeric bool
	}{
		{`2`, "2", true},
		{`"B"`, "B", false},
		{`"verdadero"`, "verdadero", false},
		{`true`, "true", false},
		{`null`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var k AnswerKey
			if err := json.Unmarshal([]byte(tt.raw), &k); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if k.Value != tt.value || k.Numeric != tt.numeric {
				t.Errorf("got %+v, want value=%q numeric=%v", k, tt.value, tt.numeric)
			}
		})
	}

	out, err := json.Marshal(IndexAnswer(3))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != "3" {
		t.Errorf("IndexAnswer(3) = %s, want 3", out)
	}
}

func TestTotalPoints(t *testing.T) {
	exam := Exam{Questions: []Question{
		{Points: 10, Body: Development{}},
		{Points: 5, Body: Development{}},
		{Points: 5, Body: Development{}},
	}}
	if got := exam.TotalPoints(); got != 20 {
		t.Errorf("TotalPoints() = %d, want 20", got)
	}
}

func TestPointsLabel(t *testing.T) {
	l := DefaultLabels()
	if got := l.PointsLabel(1); got != "1 punto" {
		t.Errorf("PointsLabel(1) = %q", got)
	}
	if got := l.PointsLabel(10); got != "10 puntos" {
		t.Errorf("PointsLabel(10) = %q", got)
	}
}
