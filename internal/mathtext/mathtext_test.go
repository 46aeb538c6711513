package mathtext

import (
	"strings"
	"testing"
)

func countFormulas(segs []Segment) int {
	n := 0
	for _, s := range segs {
		if s.Kind == Formula {
			n++
		}
	}
	return n
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		formulas int
		want     []Segment
	}{
		{
			name: "no dollars",
			in:   "Explique la ley de Ohm.",
			want: []Segment{{Kind: Text, Value: "Explique la ley de Ohm."}},
		},
		{
			name:     "inline",
			in:       "Si $v = d/t$ entonces",
			formulas: 1,
			want: []Segment{
				{Kind: Text, Value: "Si "},
				{Kind: Formula, Value: "v = d/t"},
				{Kind: Text, Value: " entonces"},
			},
		},
		{
			name:     "block and inline",
			in:       "$$\\int_0^1 x\\,dx$$ y $a$",
			formulas: 2,
			want: []Segment{
				{Kind: Formula, Value: "\\int_0^1 x\\,dx", Display: true},
				{Kind: Text, Value: " y "},
				{Kind: Formula, Value: "a"},
			},
		},
		{
			name: "unmatched trailing dollar",
			in:   "cuesta 5$",
			want: []Segment{{Kind: Text, Value: "cuesta 5$"}},
		},
		{
			name:     "unmatched after pair",
			in:       "$x$ y $y",
			formulas: 1,
			want: []Segment{
				{Kind: Formula, Value: "x"},
				{Kind: Text, Value: " y $y"},
			},
		},
		{
			name: "unmatched double",
			in:   "a $$b",
			want: []Segment{{Kind: Text, Value: "a $$b"}},
		},
		{
			name: "empty input",
			in:   "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if countFormulas(got) != tt.formulas {
				t.Errorf("formula count = %d, want %d", countFormulas(got), tt.formulas)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("segment %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseCountsBalancedPairs(t *testing.T) {
	for k := 0; k <= 6; k++ {
		var b strings.Builder
		b.WriteString("inicio ")
		for i := 0; i < k; i++ {
			if i%2 == 0 {
				b.WriteString("$x_")
				b.WriteByte(byte('0' + i))
				b.WriteString("$ texto ")
			} else {
				b.WriteString("$$y^2$$ más ")
			}
		}
		if got := countFormulas(Parse(b.String())); got != k {
			t.Errorf("k=%d: got %d formula segments in %q", k, got, b.String())
		}
	}
}

func TestPlainSymbolTable(t *testing.T) {
	for name, sym := range Symbols() {
		cmd := "\\" + name
		got := Plain("a " + cmd + " b")
		if !strings.Contains(got, sym) {
			t.Errorf("Plain(%q) = %q, missing %q", cmd, got, sym)
		}
		if strings.Contains(got, cmd) {
			t.Errorf("Plain(%q) = %q still contains the command", cmd, got)
		}
	}
}

func TestPlain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`\frac{a}{b}`, "(a)/(b)"},
		{`\frac{\Delta x}{\Delta t}`, "(Δ x)/(Δ t)"},
		{`\sqrt{x+1}`, "√(x+1)"},
		{`\sqrt[3]{8}`, "³√(8)"},
		{`x \leq 2 \cdot y`, "x ≤ 2 · y"},
		{`x^2 + y_1`, "x² + y₁"},
		{`e^{i\pi}`, "e^(iπ)"},
		{`90^{\circ}`, "90°"},
		{`\int_0^{\infty} f(x)\,dx`, "∫₀^∞ f(x) dx"},
		{`\sin\theta`, "senθ"},
		{`\lim_{x \to 0}`, "lím_(x → 0)"},
		{`\vec{v}`, "v→"},
		{`\left( a \right)`, "( a )"},
		{`\text{m/s}`, "m/s"},
		{`\unknowncmd{z}`, "unknowncmdz"},
		{`\in \int \infty`, "∈ ∫ ∞"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Plain(tt.in); got != tt.want {
				t.Errorf("Plain(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText("Si $\\alpha = 30^{\\circ}$, calcule $$\\sin\\alpha$$.")
	want := "Si α = 30°, calcule senα."
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
	if HasFormula("sin fórmulas") {
		t.Error("HasFormula reported a formula in plain text")
	}
}
