package rasterize

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// DefaultKaTeXURL is the CDN directory holding katex.min.js and katex.min.css.
const DefaultKaTeXURL = "https://cdn.jsdelivr.net/npm/katex@0.16.9/dist"

// ChromeOptions configures the headless browser rasterizer.
type ChromeOptions struct {
	ExecPath     string        // empty lets chromedp find Chrome/Chromium
	KaTeXURL     string        // directory with katex.min.{js,css}
	Timeout      time.Duration // per fragment
	StartTimeout time.Duration // browser startup
	Scale        float64       // supersampling factor, at least 2
	FontSizePx   int
}

func (o ChromeOptions) withDefaults() ChromeOptions {
	if o.KaTeXURL == "" {
		o.KaTeXURL = DefaultKaTeXURL
	}
	o.KaTeXURL = strings.TrimRight(o.KaTeXURL, "/")
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 20 * time.Second
	}
	if o.Scale < 2 {
		o.Scale = 2
	}
	if o.FontSizePx <= 0 {
		o.FontSizePx = 24
	}
	return o
}

// Chrome renders formulas with KaTeX inside a headless Chrome. The browser is
// started on first use and every fragment gets its own tab.
type Chrome struct {
	opts ChromeOptions

	mu       sync.Mutex
	started  bool
	startErr error
	browser  context.Context
	cancels  []context.CancelFunc
}

// NewChrome returns a rasterizer that has not started the browser yet.
func NewChrome(opts ChromeOptions) *Chrome {
	return &Chrome{opts: opts.withDefaults()}
}

// ChromeFactory returns a factory creating one browser per export.
func ChromeFactory(opts ChromeOptions) Factory {
	return func() Engine { return NewChrome(opts) }
}

func (c *Chrome) start() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return c.browser, c.startErr
	}
	c.started = true

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("headless", true),
		chromedp.WSURLReadTimeout(c.opts.StartTimeout),
	)
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		c.startErr = fmt.Errorf("%w: %w", ErrSurfaceUnavailable, err)
		slog.Error("start headless browser", "error", err)
		return nil, c.startErr
	}
	c.browser = browserCtx
	c.cancels = []context.CancelFunc{browserCancel, allocCancel}
	slog.Debug("headless browser started")
	return c.browser, nil
}

// Rasterize renders latex in a new tab and captures the tight bounding box of
// the result on a transparent background.
func (c *Chrome) Rasterize(ctx context.Context, latex string, display bool) (*Bitmap, error) {
	browser, err := c.start()
	if err != nil {
		return nil, err
	}

	html, err := Page(latex, display, c.opts)
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(browser)
	defer cancelTab()
	runCtx, cancel := context.WithTimeout(tabCtx, c.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var state string
	var buf []byte
	err = chromedp.Run(runCtx,
		emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}),
		chromedp.Navigate("data:text/html;charset=utf-8;base64,"+base64.StdEncoding.EncodeToString([]byte(html))),
		chromedp.Poll("window.__rasterState", &state),
	)
	if err != nil {
		return nil, fmt.Errorf("render formula: %w", err)
	}
	if state != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrTypeset, state)
	}
	if err := chromedp.Run(runCtx,
		chromedp.ScreenshotScale("#formula", c.opts.Scale, &buf, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("capture formula: %w", err)
	}
	return NewBitmap(buf, c.opts.Scale)
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	return nil
}

var pageTmpl = template.Must(template.New("katex").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<link rel="stylesheet" href="{{.Base}}/katex.min.css">
<script src="{{.Base}}/katex.min.js"></script>
<style>
html, body { margin: 0; padding: 0; background: transparent; }
#formula { display: inline-block; padding: 2px; font-size: {{.FontSize}}px; }
</style>
</head>
<body>
<div id="formula"></div>
<script>
(function () {
  var el = document.getElementById("formula");
  if (!window.katex) { window.__rasterState = "katex unavailable"; return; }
  try {
    katex.render({{.Latex}}, el, {displayMode: {{.Display}}, throwOnError: true});
  } catch (e) {
    window.__rasterState = "error: " + e.message;
    return;
  }
  document.fonts.ready.then(function () { window.__rasterState = "ok"; });
})();
</script>
</body>
</html>
`))

// Page returns the HTML document used to typeset one fragment.
func Page(latex string, display bool, opts ChromeOptions) (string, error) {
	opts = opts.withDefaults()
	var buf bytes.Buffer
	err := pageTmpl.Execute(&buf, struct {
		Base     string
		FontSize int
		Latex    string
		Display  bool
	}{opts.KaTeXURL, opts.FontSizePx, latex, display})
	if err != nil {
		return "", fmt.Errorf("render katex page: %w", err)
	}
	return buf.String(), nil
}
