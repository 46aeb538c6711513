// Package pdftext extracts the embedded text layer of PDF documents. Scanned
// (image-only) PDFs need OCR and yield no text here.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrNotPDF means the data does not start with a %PDF header.
	ErrNotPDF = errors.New("not a PDF document")
	// ErrNoText means the document has no extractable text layer.
	ErrNoText = errors.New("no text found in PDF")
)

// PageSeparator joins the text of consecutive pages.
const PageSeparator = "\n\n"

// Document is the text extracted from a PDF.
type Document struct {
	Pages []string
	// NumPages counts all pages, including those without text.
	NumPages int
}

// Text returns the non-empty pages joined by PageSeparator.
func (d *Document) Text() string {
	return strings.Join(d.Pages, PageSeparator)
}

// IsPDF reports whether data starts with the PDF magic bytes.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF"))
}

// Extract reads every page of the PDF in data.
func Extract(data []byte) (*Document, error) {
	if !IsPDF(data) {
		return nil, ErrNotPDF
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}

	doc := &Document{NumPages: r.NumPage()}
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= doc.NumPages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}
		text, err := p.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			doc.Pages = append(doc.Pages, trimmed)
		}
	}
	if len(doc.Pages) == 0 {
		return doc, ErrNoText
	}
	return doc, nil
}
