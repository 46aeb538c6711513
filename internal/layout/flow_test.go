package layout

import (
	"math/rand/v2"
	"testing"
)

// minimalPages counts pages for ordered, unsplittable blocks of the given
// heights on pages of usable height h.
func minimalPages(h int, blocks []int) int {
	if len(blocks) == 0 {
		return 0
	}
	pages, used := 1, 0
	for _, b := range blocks {
		if used+b > h {
			pages++
			used = 0
		}
		used += b
	}
	return pages
}

func TestReservePagination(t *testing.T) {
	tests := []struct {
		name   string
		blocks []float64
		pages  int
	}{
		{"single block", []float64{10}, 1},
		{"exact fit", []float64{50, 50}, 1},
		{"one over", []float64{50, 51}, 2},
		{"many small", []float64{30, 30, 30, 30, 30}, 2},
		{"full pages", []float64{100, 100, 100}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFlow(Page{Height: 120, TopMargin: 10, BottomMargin: 10})
			for _, b := range tt.blocks {
				f.Reserve(b)
			}
			if f.Pages() != tt.pages {
				t.Errorf("Pages() = %d, want %d", f.Pages(), tt.pages)
			}
		})
	}
}

func TestReserveMatchesMinimalPageCount(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const usable = 250
	for run := 0; run < 200; run++ {
		n := rng.IntN(40)
		blocks := make([]int, n)
		for i := range blocks {
			blocks[i] = 1 + rng.IntN(usable)
		}

		f := NewFlow(Page{Height: usable + 40, TopMargin: 20, BottomMargin: 20})
		perPage := map[int]float64{}
		for _, b := range blocks {
			pos := f.Reserve(float64(b))
			if pos.Y+float64(b) > usable+20 {
				t.Fatalf("run %d: block of %d at y=%.0f crosses the bottom margin", run, b, pos.Y)
			}
			perPage[pos.Page] += float64(b)
		}
		if got, want := f.Pages(), minimalPages(usable, blocks); got != want {
			t.Fatalf("run %d: Pages() = %d, want %d for %v", run, got, want, blocks)
		}
		for p, used := range perPage {
			if used > usable {
				t.Errorf("run %d: page %d holds %.0f > %d", run, p, used, usable)
			}
		}
	}
}

func TestOnNewPageAndPositions(t *testing.T) {
	var started []int
	f := NewFlow(Page{Height: 100, TopMargin: 10, BottomMargin: 10, LeftMargin: 15})
	f.OnNewPage = func(p int) { started = append(started, p) }

	p1 := f.Reserve(40)
	p2 := f.Reserve(40)
	p3 := f.Reserve(40)

	if p1 != (Position{Page: 1, X: 15, Y: 10}) {
		t.Errorf("first position = %+v", p1)
	}
	if p2 != (Position{Page: 1, X: 15, Y: 50}) {
		t.Errorf("second position = %+v", p2)
	}
	if p3 != (Position{Page: 2, X: 15, Y: 10}) {
		t.Errorf("third position = %+v", p3)
	}
	if len(started) != 2 || started[0] != 1 || started[1] != 2 {
		t.Errorf("OnNewPage calls = %v, want [1 2]", started)
	}
}

func TestOversizedBlockIsNotSplit(t *testing.T) {
	f := NewFlow(Page{Height: 100, TopMargin: 10, BottomMargin: 10})
	f.Reserve(10)
	pos := f.Reserve(500)
	if pos.Page != 2 || pos.Y != 10 {
		t.Errorf("oversized block at %+v, want top of page 2", pos)
	}
	next := f.Reserve(10)
	if next.Page != 3 {
		t.Errorf("block after oversized one on page %d, want 3", next.Page)
	}
}

func TestAdvance(t *testing.T) {
	f := NewFlow(Page{Height: 100, TopMargin: 10, BottomMargin: 10})
	f.Advance(30)
	if f.Y() != 40 {
		t.Errorf("Y() = %.0f, want 40", f.Y())
	}
	if f.Remaining() != 50 {
		t.Errorf("Remaining() = %.0f, want 50", f.Remaining())
	}
	if !f.Fits(50) || f.Fits(51) {
		t.Error("Fits disagrees with Remaining")
	}
	if f.Pages() != 1 {
		t.Errorf("Pages() = %d, want 1", f.Pages())
	}
}
