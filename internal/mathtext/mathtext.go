// Package mathtext splits question text into plain and formula segments and
// approximates LaTeX formulas with Unicode for targets that cannot embed images.
package mathtext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind tells text segments from formula segments.
type Kind int

const (
	Text Kind = iota
	Formula
)

func (k Kind) String() string {
	if k == Formula {
		return "formula"
	}
	return "text"
}

// Segment is a run of plain text or a single LaTeX fragment without its delimiters.
type Segment struct {
	Kind    Kind
	Value   string
	Display bool // $$...$$ block formula
}

// Parse splits s on $...$ (inline) and $$...$$ (block) delimiters, left to
// right, without nesting. A delimiter with no closing partner is kept as
// literal text.
func Parse(s string) []Segment {
	var segs []Segment
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			segs = append(segs, Segment{Kind: Text, Value: text.String()})
			text.Reset()
		}
	}

	i := 0
	for i < len(s) {
		j := strings.IndexByte(s[i:], '$')
		if j < 0 {
			text.WriteString(s[i:])
			break
		}
		j += i
		text.WriteString(s[i:j])

		if strings.HasPrefix(s[j:], "$$") {
			if end := strings.Index(s[j+2:], "$$"); end >= 0 {
				flush()
				segs = append(segs, Segment{Kind: Formula, Value: s[j+2 : j+2+end], Display: true})
				i = j + 2 + end + 2
				continue
			}
			text.WriteString("$$")
			i = j + 2
			continue
		}

		if end := strings.IndexByte(s[j+1:], '$'); end >= 0 {
			flush()
			segs = append(segs, Segment{Kind: Formula, Value: s[j+1 : j+1+end]})
			i = j + 1 + end + 1
			continue
		}
		text.WriteString(s[j:])
		break
	}
	flush()
	return segs
}

// HasFormula reports whether s contains at least one delimited formula.
func HasFormula(s string) bool {
	for _, seg := range Parse(s) {
		if seg.Kind == Formula {
			return true
		}
	}
	return false
}

// PlainText returns s with every formula replaced by its Unicode approximation.
func PlainText(s string) string {
	var b strings.Builder
	for _, seg := range Parse(s) {
		if seg.Kind == Formula {
			b.WriteString(Plain(seg.Value))
			continue
		}
		b.WriteString(seg.Value)
	}
	return b.String()
}

// Plain converts a LaTeX fragment to Unicode text. Commands are read whole by
// a single-pass tokenizer, so a command is never rewritten through a prefix
// of another one (\in never touches \int or \infty).
func Plain(latex string) string {
	c := &converter{src: latex}
	return strings.TrimSpace(c.run(0))
}

// Symbols returns a copy of the command-to-Unicode table.
func Symbols() map[string]string {
	out := make(map[string]string, len(symbols))
	for k, v := range symbols {
		out[k] = v
	}
	return out
}

type converter struct {
	src string
	pos int
}

// run converts until the end of input or an unbalanced closing brace at depth.
func (c *converter) run(depth int) string {
	var b strings.Builder
	for c.pos < len(c.src) {
		ch := c.src[c.pos]
		switch ch {
		case '\\':
			b.WriteString(c.command())
		case '{':
			c.pos++
			b.WriteString(c.run(depth + 1))
		case '}':
			c.pos++
			if depth > 0 {
				return b.String()
			}
		case '^':
			c.pos++
			b.WriteString(script(c.argument(), superscripts, "^"))
		case '_':
			c.pos++
			b.WriteString(script(c.argument(), subscripts, "_"))
		case '~':
			c.pos++
			b.WriteByte(' ')
		case '&':
			c.pos++
		default:
			r, size := utf8.DecodeRuneInString(c.src[c.pos:])
			c.pos += size
			b.WriteRune(r)
		}
	}
	return b.String()
}

// argument reads one macro argument: a braced group or a single token.
func (c *converter) argument() string {
	for c.pos < len(c.src) && c.src[c.pos] == ' ' {
		c.pos++
	}
	if c.pos >= len(c.src) {
		return ""
	}
	switch c.src[c.pos] {
	case '{':
		c.pos++
		return c.run(1)
	case '\\':
		return c.command()
	}
	r, size := utf8.DecodeRuneInString(c.src[c.pos:])
	c.pos += size
	return string(r)
}

// optional reads a bracketed [..] argument if one follows.
func (c *converter) optional() (string, bool) {
	if c.pos >= len(c.src) || c.src[c.pos] != '[' {
		return "", false
	}
	end := strings.IndexByte(c.src[c.pos:], ']')
	if end < 0 {
		return "", false
	}
	inner := c.src[c.pos+1 : c.pos+end]
	c.pos += end + 1
	return Plain(inner), true
}

func (c *converter) command() string {
	c.pos++ // backslash
	if c.pos >= len(c.src) {
		return ""
	}
	start := c.pos
	for c.pos < len(c.src) && isLetter(c.src[c.pos]) {
		c.pos++
	}
	if c.pos == start {
		// Control symbol: \, \; \{ \% ...
		r, size := utf8.DecodeRuneInString(c.src[c.pos:])
		c.pos += size
		return controlSymbol(r)
	}
	name := c.src[start:c.pos]

	switch name {
	case "frac", "dfrac", "tfrac", "cfrac":
		num := c.argument()
		den := c.argument()
		return "(" + num + ")/(" + den + ")"
	case "sqrt":
		n, ok := c.optional()
		x := c.argument()
		if ok {
			return script(n, superscripts, "") + "√(" + x + ")"
		}
		return "√(" + x + ")"
	case "vec", "overrightarrow":
		return c.argument() + "→"
	case "bar", "overline":
		return c.argument() + "̄"
	case "hat":
		return c.argument() + "̂"
	case "dot":
		return c.argument() + "̇"
	case "text", "textrm", "textbf", "textit", "mathrm", "mathbf", "mathit",
		"mathsf", "mathcal", "operatorname", "boldsymbol", "mbox":
		return c.argument()
	case "left", "right", "big", "Big", "bigg", "Bigg", "bigl", "bigr", "Bigl", "Bigr":
		if c.pos < len(c.src) && c.src[c.pos] == '.' {
			c.pos++
		}
		return ""
	case "displaystyle", "textstyle", "limits", "nolimits":
		return ""
	case "quad", "qquad":
		return " "
	}
	if s, ok := symbols[name]; ok {
		return s
	}
	if s, ok := functions[name]; ok {
		return s
	}
	return name
}

func controlSymbol(r rune) string {
	switch r {
	case ',', ';', ':', ' ', '\\':
		return " "
	case '!':
		return ""
	case '{', '}', '%', '$', '&', '#', '_':
		return string(r)
	case '|':
		return "‖"
	}
	return string(r)
}

// script renders s as superscript or subscript characters when every rune has
// a Unicode form, and falls back to a caret/underscore notation otherwise.
func script(s string, table map[rune]rune, marker string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if marker == "^" && (s == "∘" || s == "°") {
		return "°"
	}
	var b strings.Builder
	for _, r := range s {
		m, ok := table[r]
		if !ok {
			if marker == "" {
				return s
			}
			if utf8.RuneCountInString(s) == 1 {
				return marker + s
			}
			return marker + "(" + s + ")"
		}
		b.WriteRune(m)
	}
	return b.String()
}

func isLetter(b byte) bool {
	return b < utf8.RuneSelf && unicode.IsLetter(rune(b))
}

var symbols = map[string]string{
	// Greek
	"alpha": "α", "beta": "β", "gamma": "γ", "delta": "δ", "epsilon": "ε",
	"varepsilon": "ε", "zeta": "ζ", "eta": "η", "theta": "θ", "vartheta": "ϑ",
	"iota": "ι", "kappa": "κ", "lambda": "λ", "mu": "μ", "nu": "ν", "xi": "ξ",
	"pi": "π", "varpi": "ϖ", "rho": "ρ", "varrho": "ϱ", "sigma": "σ",
	"varsigma": "ς", "tau": "τ", "upsilon": "υ", "phi": "φ", "varphi": "φ",
	"chi": "χ", "psi": "ψ", "omega": "ω",
	"Gamma": "Γ", "Delta": "Δ", "Theta": "Θ", "Lambda": "Λ", "Xi": "Ξ",
	"Pi": "Π", "Sigma": "Σ", "Upsilon": "Υ", "Phi": "Φ", "Psi": "Ψ", "Omega": "Ω",

	// Operators
	"times": "×", "div": "÷", "pm": "±", "mp": "∓", "cdot": "·", "ast": "∗",
	"star": "⋆", "circ": "∘", "bullet": "•", "oplus": "⊕", "otimes": "⊗",

	// Relations
	"leq": "≤", "le": "≤", "geq": "≥", "ge": "≥", "neq": "≠", "ne": "≠",
	"approx": "≈", "equiv": "≡", "sim": "∼", "simeq": "≃", "cong": "≅",
	"propto": "∝", "ll": "≪", "gg": "≫", "perp": "⊥", "parallel": "∥",

	// Calculus and misc
	"infty": "∞", "partial": "∂", "nabla": "∇", "int": "∫", "iint": "∬",
	"oint": "∮", "sum": "∑", "prod": "∏", "angle": "∠", "degree": "°",
	"hbar": "ℏ", "ell": "ℓ", "prime": "′", "triangle": "△", "square": "□",
	"therefore": "∴", "because": "∵", "aleph": "ℵ",

	// Sets and logic
	"forall": "∀", "exists": "∃", "neg": "¬", "lnot": "¬", "emptyset": "∅",
	"varnothing": "∅", "in": "∈", "notin": "∉", "subset": "⊂", "subseteq": "⊆",
	"supset": "⊃", "supseteq": "⊇", "cup": "∪", "cap": "∩", "land": "∧",
	"wedge": "∧", "lor": "∨", "vee": "∨", "setminus": "∖",

	// Arrows
	"to": "→", "rightarrow": "→", "leftarrow": "←", "gets": "←",
	"Rightarrow": "⇒", "Leftarrow": "⇐", "leftrightarrow": "↔",
	"Leftrightarrow": "⇔", "iff": "⇔", "implies": "⇒", "mapsto": "↦",
	"uparrow": "↑", "downarrow": "↓",

	// Dots
	"ldots": "…", "dots": "…", "cdots": "⋯", "vdots": "⋮", "ddots": "⋱",

	// Delimiters
	"langle": "⟨", "rangle": "⟩", "lfloor": "⌊", "rfloor": "⌋",
	"lceil": "⌈", "rceil": "⌉", "vert": "|", "Vert": "‖", "mid": "|",
}

// functions are printed with Spanish names where they differ.
var functions = map[string]string{
	"sin": "sen", "cos": "cos", "tan": "tan", "cot": "cot", "sec": "sec",
	"csc": "csc", "arcsin": "arcsen", "arccos": "arccos", "arctan": "arctan",
	"sinh": "senh", "cosh": "cosh", "tanh": "tanh", "log": "log", "ln": "ln",
	"exp": "exp", "lim": "lím", "max": "máx", "min": "mín", "sup": "sup",
	"inf": "inf", "det": "det", "dim": "dim", "gcd": "mcd", "deg": "deg",
}

var superscripts = map[rune]rune{
	'0': '⁰', '1': '¹', '2': '²', '3': '³', '4': '⁴', '5': '⁵', '6': '⁶',
	'7': '⁷', '8': '⁸', '9': '⁹', '+': '⁺', '-': '⁻', '−': '⁻', '=': '⁼',
	'(': '⁽', ')': '⁾', 'n': 'ⁿ', 'i': 'ⁱ', 'x': 'ˣ', 'y': 'ʸ', 'a': 'ᵃ',
	'b': 'ᵇ', 'c': 'ᶜ', 'd': 'ᵈ', 'e': 'ᵉ', 'k': 'ᵏ', 'm': 'ᵐ', 't': 'ᵗ',
	'′': '′',
}

var subscripts = map[rune]rune{
	'0': '₀', '1': '₁', '2': '₂', '3': '₃', '4': '₄', '5': '₅', '6': '₆',
	'7': '₇', '8': '₈', '9': '₉', '+': '₊', '-': '₋', '−': '₋', '=': '₌',
	'(': '₍', ')': '₎', 'a': 'ₐ', 'e': 'ₑ', 'o': 'ₒ', 'x': 'ₓ', 'i': 'ᵢ',
	'j': 'ⱼ', 'n': 'ₙ', 'm': 'ₘ', 'k': 'ₖ', 't': 'ₜ', 'r': 'ᵣ', 'h': 'ₕ',
	'p': 'ₚ', 's': 'ₛ', 'l': 'ₗ',
}
