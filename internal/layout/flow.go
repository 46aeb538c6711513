// Package layout tracks the vertical cursor of a paginated document.
package layout

// Page describes the usable vertical area of one page, in the caller's unit
// (millimetres for PDF, text lines for DOCX).
type Page struct {
	Height       float64
	TopMargin    float64
	BottomMargin float64
	LeftMargin   float64
}

// Usable returns the height available for content on a fresh page.
func (p Page) Usable() float64 {
	return p.Height - p.TopMargin - p.BottomMargin
}

// Position is where a reserved block starts.
type Position struct {
	Page int // 1-based
	X    float64
	Y    float64
}

// Flow is an append-only, single-pass cursor: callers reserve space top to
// bottom and never seek backwards. Y grows downwards from the top edge.
type Flow struct {
	page    Page
	index   int
	y       float64
	started bool

	// OnNewPage is called each time a page is started, including the first.
	OnNewPage func(page int)
}

// NewFlow returns a flow positioned before the first page. The first page is
// started lazily by the first Reserve or Advance call.
func NewFlow(p Page) *Flow {
	return &Flow{page: p}
}

// Reserve returns the position of a block of height h, starting a new page
// first when the current one has less than h left. A block taller than a
// whole page is placed alone on a fresh page.
func (f *Flow) Reserve(h float64) Position {
	if !f.started {
		f.newPage()
	} else if h > f.Remaining() && f.y > f.page.TopMargin {
		f.newPage()
	}
	pos := Position{Page: f.index, X: f.page.LeftMargin, Y: f.y}
	f.y += h
	return pos
}

// Advance moves the cursor by h without asking for a position. It never
// starts a page by itself except the first one.
func (f *Flow) Advance(h float64) {
	if !f.started {
		f.newPage()
	}
	f.y += h
}

// Remaining returns the space left on the current page.
func (f *Flow) Remaining() float64 {
	if !f.started {
		return f.page.Usable()
	}
	return f.page.Height - f.page.BottomMargin - f.y
}

// Fits reports whether h fits on the current page without a break.
func (f *Flow) Fits(h float64) bool {
	return h <= f.Remaining()
}

// Y returns the current cursor.
func (f *Flow) Y() float64 {
	if !f.started {
		return f.page.TopMargin
	}
	return f.y
}

// Pages returns the number of pages started so far.
func (f *Flow) Pages() int {
	return f.index
}

// BreakPage forces the next reservation onto a fresh page.
func (f *Flow) BreakPage() {
	f.newPage()
}

func (f *Flow) newPage() {
	f.started = true
	f.index++
	f.y = f.page.TopMargin
	if f.OnNewPage != nil {
		f.OnNewPage(f.index)
	}
}
