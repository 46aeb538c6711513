// Package storage keeps uploaded source documents.
package storage

import (
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
	URL(key string) string
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key builds the storage key "{unix-ms}-{name}" for an uploaded file, with the
// name reduced to a safe base name.
func Key(name string, now time.Time) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "documento.pdf"
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + base
}
