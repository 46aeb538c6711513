package pdftext

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/jung-kurt/gofpdf"
)

func makePDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	f := gofpdf.New("P", "mm", "A4", "")
	f.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		f.AddPage()
		if text != "" {
			f.Text(20, 30, text)
		}
	}
	var buf bytes.Buffer
	if err := f.Output(&buf); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	doc, err := Extract(makePDF(t, "Cinematica", "", "Dinamica"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.NumPages != 3 {
		t.Errorf("NumPages = %d, want 3", doc.NumPages)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("expected 2 pages with text, got %d: %q", len(doc.Pages), doc.Pages)
	}
	text := doc.Text()
	if !strings.Contains(text, "Cinematica") || !strings.Contains(text, "Dinamica") {
		t.Errorf("Text() = %q", text)
	}
	if strings.Index(text, "Cinematica") > strings.Index(text, "Dinamica") {
		t.Error("pages out of order")
	}
}

func TestExtractErrors(t *testing.T) {
	if _, err := Extract([]byte("hello")); !errors.Is(err, ErrNotPDF) {
		t.Errorf("expected ErrNotPDF, got %v", err)
	}
	if _, err := Extract(makePDF(t, "")); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText, got %v", err)
	}
}

func TestIsPDF(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"%PDF-1.4\n", true},
		{"\n %PDF-1.7", true},
		{"PK\x03\x04", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPDF([]byte(tt.in)); got != tt.want {
			t.Errorf("IsPDF(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
