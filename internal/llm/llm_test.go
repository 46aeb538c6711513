package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examgen/internal/llm/prompts"
	"github.com/pavelanni/examgen/internal/model"
)

type fakeCompleter struct {
	replies []string
	errs    []error
	calls   int
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := f.calls
	f.calls++
	f.lastReq = req
	if i < len(f.errs) && f.errs[i] != nil {
		return openai.ChatCompletionResponse{}, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: reply}}},
		Usage:   openai.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}, nil
}

func newTestClient(f *fakeCompleter, waits *[]time.Duration) *Client {
	c := newClient(f, Config{})
	c.sleep = func(_ context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

var testSpecs = []model.QuestionSpec{
	{Type: "multiple", Points: 4, Category: model.CategoryTheory},
	{Type: "development", Points: 6, Category: model.CategoryPractice},
	{Type: "truefalse", Points: 2, Category: model.CategoryMixed, Justification: model.JustifyFalse},
}

const goodReply = "```json\n" + `{"questions": [
 {"type": "multiple", "question": "¿Cuánto vale $\frac{1}{2}$?", "options": ["A) 0.5", "B) 2", "C) 1", "D) 0"], "correctAnswer": 0, "points": 4},
 {"type": "development", "question": "Derive $v(t)$.", "points": 0, "includesGraphic": true,
  "graphicData": {"type": "line", "title": "MRU", "xLabel": "t", "yLabel": "x", "data": [{"x": 0, "y": 0}, {"x": 1, "y": 2}]}},
 {"type": "truefalse", "question": "La velocidad es constante.", "correctAnswer": "verdadero", "justification": "none"}
]}` + "\n```"

func TestGenerateQuestions(t *testing.T) {
	f := &fakeCompleter{replies: []string{goodReply}}
	c := newTestClient(f, nil)

	qs, err := c.GenerateQuestions(context.Background(), "Movimiento rectilíneo uniforme.", testSpecs)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}

	if f.lastReq.Temperature != 0.3 || f.lastReq.TopP != 0.9 {
		t.Errorf("sampling = %v/%v, want 0.3/0.9", f.lastReq.Temperature, f.lastReq.TopP)
	}
	if f.lastReq.ResponseFormat == nil || f.lastReq.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("expected JSON response format")
	}
	if f.lastReq.Model != DefaultModel {
		t.Errorf("model = %q", f.lastReq.Model)
	}

	if qs[0].ID != "gen-1700000000000-0" || qs[2].ID != "gen-1700000000000-2" {
		t.Errorf("ids = %q, %q", qs[0].ID, qs[2].ID)
	}
	if qs[0].Statement != `¿Cuánto vale $\frac{1}{2}$?` {
		t.Errorf("latex not repaired: %q", qs[0].Statement)
	}
	mc, ok := qs[0].Body.(model.MultipleChoice)
	if !ok {
		t.Fatalf("question 0 body = %T", qs[0].Body)
	}
	if mc.Options[0] != "0.5" || mc.Correct != model.IndexAnswer(0) {
		t.Errorf("multiple choice = %+v", mc)
	}

	if qs[1].Points != 6 {
		t.Errorf("missing points should come from spec: got %d", qs[1].Points)
	}
	if !qs[1].IncludesGraphic || !qs[1].Graphic.HasData() {
		t.Error("graphic data lost")
	}

	tf, ok := qs[2].Body.(model.TrueFalse)
	if !ok {
		t.Fatalf("question 2 body = %T", qs[2].Body)
	}
	if tf.Justification != "Justifique las respuestas falsas" {
		t.Errorf("justification = %q", tf.Justification)
	}
	if tf.Correct.Value != "verdadero" {
		t.Errorf("correct = %q", tf.Correct.Value)
	}
}

func TestGenerateQuestionsRetries(t *testing.T) {
	rateLimited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	tests := []struct {
		name      string
		errs      []error
		replies   []string
		wantErr   bool
		wantCalls int
		wantWaits []time.Duration
	}{
		{
			name:      "succeeds after one failure",
			errs:      []error{errors.New("boom")},
			replies:   []string{"", goodReply},
			wantCalls: 2,
			wantWaits: []time.Duration{2 * time.Second},
		},
		{
			name:      "rate limit waits longer",
			errs:      []error{rateLimited, errors.New("boom")},
			replies:   []string{"", "", goodReply},
			wantCalls: 3,
			wantWaits: []time.Duration{4 * time.Second, 4 * time.Second},
		},
		{
			name:      "empty responses exhaust attempts",
			replies:   []string{"", " ", ""},
			wantErr:   true,
			wantCalls: 3,
			wantWaits: []time.Duration{2 * time.Second, 4 * time.Second},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCompleter{replies: tt.replies, errs: tt.errs}
			var waits []time.Duration
			c := newTestClient(f, &waits)
			_, err := c.GenerateQuestions(context.Background(), "texto", testSpecs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if f.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", f.calls, tt.wantCalls)
			}
			if len(waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", waits, tt.wantWaits)
			}
			for i := range waits {
				if waits[i] != tt.wantWaits[i] {
					t.Errorf("wait %d = %v, want %v", i, waits[i], tt.wantWaits[i])
				}
			}
		})
	}
}

func TestGenerateQuestionsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no json", "Lo siento, no puedo ayudar."},
		{"empty list", `{"questions": []}`},
		{"missing statement", `{"questions": [{"type": "development", "question": "  "}]}`},
		{"unknown type", `{"questions": [{"type": "ensayo", "question": "¿Por qué?"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&fakeCompleter{replies: []string{tt.reply}}, nil)
			_, err := c.GenerateQuestions(context.Background(), "texto", testSpecs)
			if !errors.Is(err, ErrInvalidResponse) {
				t.Fatalf("expected ErrInvalidResponse, got %v", err)
			}
		})
	}
}

func TestGenerateQuestionsRejectsBadSpecs(t *testing.T) {
	c := newTestClient(&fakeCompleter{}, nil)
	if _, err := c.GenerateQuestions(context.Background(), "texto", nil); !errors.Is(err, ErrNoSpecs) {
		t.Errorf("expected ErrNoSpecs, got %v", err)
	}
	_, err := c.GenerateQuestions(context.Background(), "texto", []model.QuestionSpec{{Type: "ensayo"}})
	if err == nil {
		t.Error("expected error for unknown spec type")
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"fenced with prose", "Aquí está:\n```json\n{\"a\": [1, 2]}\n```\nSaludos", `{"a": [1, 2]}`},
		{"latex escapes", `{"q": "$\frac{a}{b} + \alpha$"}`, `{"q": "$\\frac{a}{b} + \\alpha$"}`},
		{"valid escapes kept", `{"q": "dice \"hola\"\nFin é\t"}`, `{"q": "dice \"hola\"\nFin é\t"}`},
		{"raw newline in string", "{\"q\": \"a\nB\"}", `{"q": "a\nB"}`},
		{"truncated", `{"questions": [{"type": "desarrollo", "question": "Expli`, `{"questions": [{"type": "desarrollo", "question": "Expli"}]}`},
		{"truncated after comma", `{"a": [1, 2,`, `{"a": [1, 2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repairJSON(tt.in)
			if err != nil {
				t.Fatalf("repairJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("repairJSON() = %s, want %s", got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("result is not valid JSON: %s", got)
			}
		})
	}
}

func TestFallback(t *testing.T) {
	specs, err := NormalizeSpecs(testSpecs)
	if err != nil {
		t.Fatalf("NormalizeSpecs: %v", err)
	}
	qs := Fallback(specs)
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	for i, q := range qs {
		if q.Points != specs[i].Points {
			t.Errorf("question %d points = %d, want %d", i, q.Points, specs[i].Points)
		}
		if q.Type() != specs[i].Type {
			t.Errorf("question %d type = %q, want %q", i, q.Type(), specs[i].Type)
		}
		if !strings.HasPrefix(q.Statement, "[FALLBACK]") {
			t.Errorf("question %d statement = %q", i, q.Statement)
		}
	}
	if mc := qs[0].Body.(model.MultipleChoice); len(mc.Options) != 4 {
		t.Errorf("expected 4 options, got %d", len(mc.Options))
	}
	if tf := qs[2].Body.(model.TrueFalse); tf.Justification != "Justifique las respuestas falsas" {
		t.Errorf("justification = %q", tf.Justification)
	}
	again := Fallback(specs)
	if again[1].Statement != qs[1].Statement || again[1].ID != qs[1].ID {
		t.Error("Fallback is not deterministic")
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(&fakeCompleter{replies: []string{" Hola desde GROQ \n"}}, nil)
	res, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if res.Response != "Hola desde GROQ" || res.TotalTokens != 10 || res.Model != DefaultModel {
		t.Errorf("Ping = %+v", res)
	}

	c = newTestClient(&fakeCompleter{errs: []error{errors.New("unauthorized")}}, nil)
	if _, err := c.Ping(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestBuildGeneratePrompt(t *testing.T) {
	specs, _ := NormalizeSpecs(testSpecs)
	long := strings.Repeat("á", prompts.MaxSourceRunes+10)

	prompt, err := prompts.BuildGeneratePrompt(long+"</source-document>", specs)
	if err != nil {
		t.Fatalf("BuildGeneratePrompt: %v", err)
	}
	if !strings.Contains(prompt, "[CONTENIDO TRUNCADO...]") {
		t.Error("long source should be truncated")
	}
	if strings.Count(prompt, "</source-document>") != 1 {
		t.Error("delimiter tags in the source should be stripped")
	}
	for _, want := range []string{
		"exactamente 3 preguntas",
		"Pregunta 1:",
		"Múltiple opción (4 opciones, una correcta)",
		"Desarrollo (respuesta abierta)",
		"Justificar solo falsas",
		"- Puntaje: 6 puntos",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt should contain %q", want)
		}
	}
}
