package view

import (
	"math"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// Box is an axis-aligned bounding box in the element's user space.
type Box struct {
	X, Y, Width, Height float64
}

// bounds accumulates points into a box.
type bounds struct {
	minX, minY, maxX, maxY float64
	ok                     bool
}

func (b *bounds) add(x, y float64) {
	if !b.ok {
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
		b.ok = true
		return
	}
	b.minX = math.Min(b.minX, x)
	b.maxX = math.Max(b.maxX, x)
	b.minY = math.Min(b.minY, y)
	b.maxY = math.Max(b.maxY, y)
}

func (b *bounds) addBox(box Box) {
	b.add(box.X, box.Y)
	b.add(box.X+box.Width, box.Y+box.Height)
}

func (b bounds) box() Box {
	if !b.ok {
		return Box{}
	}
	return Box{X: b.minX, Y: b.minY, Width: b.maxX - b.minX, Height: b.maxY - b.minY}
}

// BBox computes the bounding box of el the way SVG getBBox does: geometry
// only, in local coordinates, ignoring transforms and stroke width. Curves
// are bounded by their control points. The second result is false when the
// element has no geometry.
func BBox(el *etree.Element) (Box, bool) {
	var b bounds
	collect(el, &b)
	return b.box(), b.ok
}

func collect(el *etree.Element, b *bounds) {
	switch strings.ToLower(el.Tag) {
	case "rect", "image", "use", "foreignobject":
		x, y := length(el, "x"), length(el, "y")
		w, h := length(el, "width"), length(el, "height")
		if w < 0 || h < 0 {
			return
		}
		b.addBox(Box{X: x, Y: y, Width: w, Height: h})
	case "circle":
		cx, cy, r := length(el, "cx"), length(el, "cy"), length(el, "r")
		b.addBox(Box{X: cx - r, Y: cy - r, Width: 2 * r, Height: 2 * r})
	case "ellipse":
		cx, cy := length(el, "cx"), length(el, "cy")
		rx, ry := length(el, "rx"), length(el, "ry")
		b.addBox(Box{X: cx - rx, Y: cy - ry, Width: 2 * rx, Height: 2 * ry})
	case "line":
		b.add(length(el, "x1"), length(el, "y1"))
		b.add(length(el, "x2"), length(el, "y2"))
	case "polygon", "polyline":
		p := &pathScanner{s: el.SelectAttrValue("points", "")}
		for {
			x, okX := p.number()
			y, okY := p.number()
			if !okX || !okY {
				break
			}
			b.add(x, y)
		}
	case "path":
		pathBounds(el.SelectAttrValue("d", ""), b)
	case "text", "tspan":
		b.add(firstLength(el, "x"), firstLength(el, "y"))
	default:
		for _, child := range el.ChildElements() {
			collect(child, b)
		}
	}
}

// length parses a plain or px-suffixed attribute value, defaulting to 0.
func length(el *etree.Element, attr string) float64 {
	v := strings.TrimSpace(el.SelectAttrValue(attr, ""))
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// firstLength parses the first entry of a coordinate list such as text x.
func firstLength(el *etree.Element, attr string) float64 {
	p := &pathScanner{s: strings.ReplaceAll(el.SelectAttrValue(attr, ""), "px", "")}
	v, _ := p.number()
	return v
}

// pathBounds walks path data and adds every end point and control point.
// Arcs contribute their end points only.
func pathBounds(d string, b *bounds) {
	p := &pathScanner{s: d}
	var cx, cy, sx, sy float64
	var prev byte

	for {
		cmd, explicit := p.command()
		if !explicit {
			if p.done() || prev == 0 || prev == 'Z' || prev == 'z' {
				return
			}
			// repeated coordinates reuse the previous command; after a
			// moveto they are implicit linetos
			cmd = prev
			switch cmd {
			case 'M':
				cmd = 'L'
			case 'm':
				cmd = 'l'
			}
		}

		rel := cmd >= 'a' && cmd <= 'z'
		abs := func(x, y float64) (float64, float64) {
			if rel {
				return cx + x, cy + y
			}
			return x, y
		}

		switch cmd {
		case 'M', 'm':
			v, ok := p.numbers(2)
			if !ok {
				return
			}
			cx, cy = abs(v[0], v[1])
			sx, sy = cx, cy
			b.add(cx, cy)
		case 'L', 'l', 'T', 't':
			v, ok := p.numbers(2)
			if !ok {
				return
			}
			cx, cy = abs(v[0], v[1])
			b.add(cx, cy)
		case 'H', 'h':
			v, ok := p.numbers(1)
			if !ok {
				return
			}
			if rel {
				cx += v[0]
			} else {
				cx = v[0]
			}
			b.add(cx, cy)
		case 'V', 'v':
			v, ok := p.numbers(1)
			if !ok {
				return
			}
			if rel {
				cy += v[0]
			} else {
				cy = v[0]
			}
			b.add(cx, cy)
		case 'C', 'c':
			v, ok := p.numbers(6)
			if !ok {
				return
			}
			b.add(abs(v[0], v[1]))
			b.add(abs(v[2], v[3]))
			cx, cy = abs(v[4], v[5])
			b.add(cx, cy)
		case 'S', 's', 'Q', 'q':
			v, ok := p.numbers(4)
			if !ok {
				return
			}
			b.add(abs(v[0], v[1]))
			cx, cy = abs(v[2], v[3])
			b.add(cx, cy)
		case 'A', 'a':
			if _, ok := p.numbers(3); !ok {
				return
			}
			if !p.flag() || !p.flag() {
				return
			}
			v, ok := p.numbers(2)
			if !ok {
				return
			}
			cx, cy = abs(v[0], v[1])
			b.add(cx, cy)
		case 'Z', 'z':
			cx, cy = sx, sy
		default:
			return
		}
		prev = cmd
	}
}

// pathScanner tokenizes SVG path data and point lists.
type pathScanner struct {
	s string
	i int
}

func (p *pathScanner) skipSeparators() {
	for p.i < len(p.s) {
		switch p.s[p.i] {
		case ' ', '\t', '\n', '\r', ',':
			p.i++
		default:
			return
		}
	}
}

func (p *pathScanner) done() bool {
	p.skipSeparators()
	return p.i >= len(p.s)
}

func (p *pathScanner) command() (byte, bool) {
	p.skipSeparators()
	if p.i >= len(p.s) {
		return 0, false
	}
	c := p.s[p.i]
	if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		if c == 'e' || c == 'E' {
			return 0, false
		}
		p.i++
		return c, true
	}
	return 0, false
}

func (p *pathScanner) numbers(n int) ([]float64, bool) {
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		v, ok := p.number()
		if !ok {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}

// flag reads a single arc flag, which may be written without separators.
func (p *pathScanner) flag() bool {
	p.skipSeparators()
	if p.i < len(p.s) && (p.s[p.i] == '0' || p.s[p.i] == '1') {
		p.i++
		return true
	}
	return false
}

func (p *pathScanner) number() (float64, bool) {
	p.skipSeparators()
	start := p.i
	i := p.i
	if i < len(p.s) && (p.s[i] == '+' || p.s[i] == '-') {
		i++
	}
	digits := false
	for i < len(p.s) && isDigit(p.s[i]) {
		i++
		digits = true
	}
	if i < len(p.s) && p.s[i] == '.' {
		i++
		for i < len(p.s) && isDigit(p.s[i]) {
			i++
			digits = true
		}
	}
	if !digits {
		return 0, false
	}
	if i < len(p.s) && (p.s[i] == 'e' || p.s[i] == 'E') {
		j := i + 1
		if j < len(p.s) && (p.s[j] == '+' || p.s[j] == '-') {
			j++
		}
		if j < len(p.s) && isDigit(p.s[j]) {
			for j < len(p.s) && isDigit(p.s[j]) {
				j++
			}
			i = j
		}
	}
	v, err := strconv.ParseFloat(p.s[start:i], 64)
	if err != nil {
		return 0, false
	}
	p.i = i
	return v, true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
