// Package rasterize turns LaTeX fragments into PNG bitmaps.
package rasterize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"sync"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrSurfaceUnavailable means the rendering surface could not be started.
	// Unlike per-fragment failures it affects every formula of the document.
	ErrSurfaceUnavailable = errors.New("rendering surface unavailable")
	// ErrTypeset means the math engine rejected the fragment.
	ErrTypeset = errors.New("formula did not typeset")
	// ErrDisabled is returned by None.
	ErrDisabled = errors.New("formula rasterization disabled")
)

// Bitmap is a rendered formula. Width and Height are device pixels; Scale is
// the supersampling factor, so Width/Scale is the size in CSS pixels.
type Bitmap struct {
	PNG    []byte
	Width  int
	Height int
	Scale  float64
}

// CSSSize returns the bitmap size in CSS pixels.
func (b *Bitmap) CSSSize() (w, h float64) {
	s := b.Scale
	if s <= 0 {
		s = 1
	}
	return float64(b.Width) / s, float64(b.Height) / s
}

// NewBitmap decodes the PNG header to fill in the dimensions.
func NewBitmap(png []byte, scale float64) (*Bitmap, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("decode bitmap: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("decode bitmap: empty image")
	}
	return &Bitmap{PNG: png, Width: cfg.Width, Height: cfg.Height, Scale: scale}, nil
}

// Rasterizer renders one fragment. Display selects block layout ($$...$$).
type Rasterizer interface {
	Rasterize(ctx context.Context, latex string, display bool) (*Bitmap, error)
}

// Engine is a rasterizer owned by a single document export.
type Engine interface {
	Rasterizer
	Close() error
}

// Factory creates the engine for one export.
type Factory func() Engine

// None never renders; every formula falls back to plain text.
type None struct{}

func (None) Rasterize(context.Context, string, bool) (*Bitmap, error) {
	return nil, ErrDisabled
}

func (None) Close() error { return nil }

// NoneFactory returns engines that never render.
func NoneFactory() Factory {
	return func() Engine { return None{} }
}

type cached struct {
	bmp *Bitmap
	err error
}

// Cache memoizes fragments within one document. Identical fragments requested
// concurrently share a single rasterization, and a failure is kept as final.
type Cache struct {
	r     Rasterizer
	group singleflight.Group

	mu   sync.Mutex
	done map[string]cached
}

// NewCache wraps r.
func NewCache(r Rasterizer) *Cache {
	return &Cache{r: r, done: make(map[string]cached)}
}

func cacheKey(latex string, display bool) string {
	if display {
		return "d:" + latex
	}
	return "i:" + latex
}

// Rasterize returns the cached bitmap for the fragment, rendering it once.
func (c *Cache) Rasterize(ctx context.Context, latex string, display bool) (*Bitmap, error) {
	key := cacheKey(latex, display)

	c.mu.Lock()
	if res, ok := c.done[key]; ok {
		c.mu.Unlock()
		return res.bmp, res.err
	}
	c.mu.Unlock()

	v, _, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if res, ok := c.done[key]; ok {
			c.mu.Unlock()
			return res, nil
		}
		c.mu.Unlock()

		bmp, err := c.r.Rasterize(ctx, latex, display)
		res := cached{bmp: bmp, err: err}
		c.mu.Lock()
		c.done[key] = res
		c.mu.Unlock()
		return res, nil
	})
	res := v.(cached)
	return res.bmp, res.err
}

// Len returns the number of distinct fragments seen.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.done)
}
