package export

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/examgen/internal/mathtext"
	"github.com/pavelanni/examgen/internal/rasterize"
	"github.com/pavelanni/examgen/internal/render"
)

// Formulas holds the bitmaps rendered for one document, keyed by fragment.
// A missing entry means the fragment is printed as plain text.
type Formulas struct {
	bitmaps map[string]*rasterize.Bitmap
}

func formulaKey(latex string, display bool) string {
	if display {
		return "$$" + latex
	}
	return "$" + latex
}

// Lookup returns the bitmap for a formula segment, or nil.
func (f *Formulas) Lookup(seg mathtext.Segment) *rasterize.Bitmap {
	if f == nil || seg.Kind != mathtext.Formula {
		return nil
	}
	return f.bitmaps[formulaKey(seg.Value, seg.Display)]
}

// Len returns the number of rendered fragments.
func (f *Formulas) Len() int {
	if f == nil {
		return 0
	}
	return len(f.bitmaps)
}

// formulaSegments lists the formula segments of ins in document order,
// duplicates included.
func formulaSegments(ins []render.Instruction) []mathtext.Segment {
	var out []mathtext.Segment
	add := func(segs []mathtext.Segment) {
		for _, s := range segs {
			if s.Kind == mathtext.Formula {
				out = append(out, s)
			}
		}
	}
	for _, in := range ins {
		switch v := in.(type) {
		case render.Statement:
			add(v.Text)
		case render.Option:
			add(v.Text)
		case render.Justification:
			add(v.Text)
		}
	}
	return out
}

// RasterizeFormulas renders every formula of ins before assembly starts, at
// most workers at a time, each within its own timeout. Fragments that fail or
// time out are left out and fall back to plain text. Only a rendering surface
// that cannot start fails the whole pass.
func RasterizeFormulas(ctx context.Context, ins []render.Instruction, r rasterize.Rasterizer, workers int, timeout time.Duration) (*Formulas, error) {
	f := &Formulas{bitmaps: make(map[string]*rasterize.Bitmap)}
	segs := formulaSegments(ins)
	if len(segs) == 0 {
		return f, nil
	}
	if workers <= 0 {
		workers = 1
	}

	cache := rasterize.NewCache(r)
	results := make([]*rasterize.Bitmap, len(segs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, seg := range segs {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			bmp, err := cache.Rasterize(fctx, seg.Value, seg.Display)
			switch {
			case err == nil:
				results[i] = bmp
			case errors.Is(err, rasterize.ErrSurfaceUnavailable):
				return err
			case errors.Is(err, rasterize.ErrDisabled):
			default:
				slog.WarnContext(ctx, "formula printed as text", "latex", seg.Value, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, seg := range segs {
		if results[i] != nil {
			f.bitmaps[formulaKey(seg.Value, seg.Display)] = results[i]
		}
	}
	return f, nil
}
