package storage

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	now := time.UnixMilli(1714000000123)
	tests := []struct {
		name, want string
	}{
		{"guía 1.pdf", "1714000000123-gu_a_1.pdf"},
		{"../../etc/passwd", "1714000000123-passwd"},
		{`C:\docs\apunte.pdf`, "1714000000123-apunte.pdf"},
		{"", "1714000000123-documento.pdf"},
		{"...", "1714000000123-documento.pdf"},
	}
	for _, tt := range tests {
		if got := Key(tt.name, now); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFSStore(t *testing.T) {
	s, err := NewFSStore(t.TempDir(), "/files")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	var _ BlobStore = s

	key, err := s.Put("123-a.pdf", strings.NewReader("%PDF-1.4 body"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.4 body" {
		t.Errorf("Get = %q", data)
	}
	if u := s.URL(key); u != "/files/123-a.pdf" {
		t.Errorf("URL = %q", u)
	}

	for _, bad := range []string{"", "..", "a/b", `a\b`} {
		if _, err := s.Put(bad, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q): expected ErrInvalidKey, got %v", bad, err)
		}
	}
	if _, err := s.Get("missing.pdf"); err == nil {
		t.Error("expected error for missing key")
	}
}
