package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFrom(t *testing.T) {
	cause := errors.New("disk full")
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"validation", Validation("Datos del examen incompletos"), KindValidation, http.StatusBadRequest},
		{"wrapped conflict", fmt.Errorf("insert: %w", Conflict("duplicado", cause)), KindConflict, http.StatusConflict},
		{"upstream", Upstream("Error al generar preguntas", cause), KindUpstream, http.StatusBadGateway},
		{"plain error", cause, KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := From(tt.err)
			if e.Kind != tt.kind || e.Status != tt.status {
				t.Errorf("From() = %s/%d, want %s/%d", e.Kind, e.Status, tt.kind, tt.status)
			}
			if !Is(e, tt.kind) {
				t.Errorf("Is(%s) = false", tt.kind)
			}
		})
	}
	if From(nil) != nil {
		t.Error("From(nil) should be nil")
	}
}

func TestBody(t *testing.T) {
	b := Persistence("Error al guardar el examen", errors.New("constraint failed")).Body()
	if b.Error != "Error al guardar el examen" || b.Details != "constraint failed" {
		t.Errorf("Body() = %+v", b)
	}
	if b := Validation("x").Body(); b.Details != "" {
		t.Errorf("validation details = %q, want empty", b.Details)
	}
}
