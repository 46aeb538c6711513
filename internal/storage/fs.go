package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey rejects keys that would escape the store directory.
var ErrInvalidKey = errors.New("invalid key")

type FSStore struct {
	base      string
	urlPrefix string
}

// NewFSStore stores blobs under base and serves them below urlPrefix.
func NewFSStore(base, urlPrefix string) (*FSStore, error) {
	if base == "" {
		base = "./uploads"
	}
	if urlPrefix == "" {
		urlPrefix = "/uploads/"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base, urlPrefix: strings.TrimRight(urlPrefix, "/") + "/"}, nil
}

func (s *FSStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.base, key), nil
}

func (s *FSStore) Put(key string, r io.Reader) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", err
	}
	return key, f.Close()
}

func (s *FSStore) Get(key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// URL returns the public path of a stored blob.
func (s *FSStore) URL(key string) string {
	return s.urlPrefix + path.Base(key)
}

// Dir returns the directory blobs are written to.
func (s *FSStore) Dir() string { return s.base }
