package rasterize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type countingRasterizer struct {
	calls atomic.Int32
	png   []byte
	fail  string
}

func (c *countingRasterizer) Rasterize(_ context.Context, latex string, _ bool) (*Bitmap, error) {
	c.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if latex == c.fail {
		return nil, ErrTypeset
	}
	return NewBitmap(c.png, 2)
}

func TestCacheDeduplicates(t *testing.T) {
	inner := &countingRasterizer{png: testPNG(t, 40, 20)}
	cache := NewCache(inner)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Rasterize(context.Background(), `\alpha`, false); err != nil {
				t.Errorf("Rasterize: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := inner.calls.Load(); n != 1 {
		t.Errorf("inner rasterizer called %d times, want 1", n)
	}

	// Display and inline variants of the same source are distinct fragments.
	if _, err := cache.Rasterize(context.Background(), `\alpha`, true); err != nil {
		t.Fatalf("Rasterize display: %v", err)
	}
	if n := inner.calls.Load(); n != 2 {
		t.Errorf("inner rasterizer called %d times, want 2", n)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestCacheKeepsFailures(t *testing.T) {
	inner := &countingRasterizer{png: testPNG(t, 4, 4), fail: `\bad`}
	cache := NewCache(inner)

	for i := 0; i < 3; i++ {
		_, err := cache.Rasterize(context.Background(), `\bad`, false)
		if !errors.Is(err, ErrTypeset) {
			t.Fatalf("attempt %d: err = %v, want ErrTypeset", i, err)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Errorf("failed fragment rasterized %d times, want 1", n)
	}
}

func TestNewBitmap(t *testing.T) {
	bmp, err := NewBitmap(testPNG(t, 120, 48), 2)
	if err != nil {
		t.Fatalf("NewBitmap: %v", err)
	}
	if bmp.Width != 120 || bmp.Height != 48 {
		t.Errorf("size = %dx%d, want 120x48", bmp.Width, bmp.Height)
	}
	w, h := bmp.CSSSize()
	if w != 60 || h != 24 {
		t.Errorf("CSSSize = %.0fx%.0f, want 60x24", w, h)
	}

	if _, err := NewBitmap([]byte("not a png"), 2); err == nil {
		t.Error("expected error for malformed bitmap")
	}
}

func TestNone(t *testing.T) {
	e := NoneFactory()()
	defer e.Close()
	if _, err := e.Rasterize(context.Background(), "x", false); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}

func TestPageEscapesLatex(t *testing.T) {
	page, err := Page(`\frac{a}{b}</script><script>alert(1)`, true, ChromeOptions{})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if strings.Contains(page, "</script><script>alert(1)") {
		t.Error("latex was not escaped inside the script")
	}
	if !strings.Contains(page, DefaultKaTeXURL+"/katex.min.js") {
		t.Error("page does not load KaTeX from the default URL")
	}
	if !strings.Contains(strings.Join(strings.Fields(page), " "), "displayMode: true") {
		t.Error("display flag not rendered")
	}
}

func TestChromeDefaults(t *testing.T) {
	o := ChromeOptions{Scale: 1, KaTeXURL: "http://localhost/katex/"}.withDefaults()
	if o.Scale != 2 {
		t.Errorf("Scale = %v, want at least 2", o.Scale)
	}
	if o.KaTeXURL != "http://localhost/katex" {
		t.Errorf("KaTeXURL = %q", o.KaTeXURL)
	}
}

func TestChromeMissingBinary(t *testing.T) {
	c := NewChrome(ChromeOptions{ExecPath: "/nonexistent/chrome-for-tests", StartTimeout: 2 * time.Second})
	defer c.Close()

	_, err := c.Rasterize(context.Background(), "x", false)
	if !errors.Is(err, ErrSurfaceUnavailable) {
		t.Fatalf("err = %v, want ErrSurfaceUnavailable", err)
	}
	// The failure is remembered instead of retrying the launch.
	_, err = c.Rasterize(context.Background(), "y", false)
	if !errors.Is(err, ErrSurfaceUnavailable) {
		t.Fatalf("second err = %v, want ErrSurfaceUnavailable", err)
	}
}
