package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("es"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	if got := T(ctx, "AppTitle"); got != "Generador de exámenes" {
		t.Errorf("T(AppTitle) = %q", got)
	}
	if got := T(ctx, "ColCourse"); got != "Cátedra" {
		t.Errorf("T(ColCourse) = %q", got)
	}
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Exam Generator" {
		t.Errorf("T(AppTitle) = %q, want 'Exam Generator'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "es")

	if got := Tp(ctx, "QuestionsCount", 1); got != "1 pregunta" {
		t.Errorf("Tp(QuestionsCount, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsCount", 5); got != "5 preguntas" {
		t.Errorf("Tp(QuestionsCount, 5) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "es")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestDocumentLabels(t *testing.T) {
	es := DocumentLabels(initLang(t, "es"))
	if es.True != "Verdadero" || es.Justification != "Justificación" || es.PointsLabel(2) != "2 puntos" {
		t.Errorf("es labels = %+v", es)
	}
	en := DocumentLabels(initLang(t, "en"))
	if en.True != "True" || en.Total != "Total score" || en.PointsLabel(1) != "1 point" {
		t.Errorf("en labels = %+v", en)
	}
	if en.AnnotationPrefix != "•" {
		t.Errorf("unlocalized fields should keep defaults, got %q", en.AnnotationPrefix)
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("es"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var gotLang, gotTitle string
	h := Middleware("es")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLang = Lang(r.Context())
		gotTitle = T(r.Context(), "AppTitle")
	}))

	tests := []struct {
		name, query, accept string
		wantLang, wantTitle string
	}{
		{"default", "", "", "es", "Generador de exámenes"},
		{"accept-language", "", "en-US,en;q=0.9", "en", "Exam Generator"},
		{"query wins", "?lang=es", "en-US", "es", "Generador de exámenes"},
		{"unsupported", "?lang=fr", "", "es", "Generador de exámenes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if gotLang != tt.wantLang {
				t.Errorf("lang = %q, want %q", gotLang, tt.wantLang)
			}
			if gotTitle != tt.wantTitle {
				t.Errorf("title = %q, want %q", gotTitle, tt.wantTitle)
			}
			if rec.Header().Get("Content-Language") != tt.wantLang {
				t.Errorf("Content-Language = %q", rec.Header().Get("Content-Language"))
			}
		})
	}
}
