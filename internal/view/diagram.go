// Package view keeps an SVG keyboard diagram in sync with live heatmap
// updates, pointer hover and the count overlay.
package view

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// CountAttr stores the last known usage count on a key region.
const CountAttr = "data-count"

// Diagram is a parsed SVG document with its key regions indexed.
type Diagram struct {
	doc     *etree.Document
	root    *etree.Element
	suffix  string
	regions []*etree.Element
	byID    map[string]*etree.Element
}

// ParseDiagram parses SVG markup. Elements whose id ends with suffix are
// key regions.
func ParseDiagram(data []byte, suffix string) (*Diagram, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing diagram: %w", err)
	}

	root := doc.Root()
	if root == nil || !strings.EqualFold(root.Tag, "svg") {
		return nil, fmt.Errorf("parsing diagram: root element is not <svg>")
	}

	d := &Diagram{
		doc:    doc,
		root:   root,
		suffix: suffix,
		byID:   make(map[string]*etree.Element),
	}
	d.index(root)
	return d, nil
}

func (d *Diagram) index(el *etree.Element) {
	if id := el.SelectAttrValue("id", ""); id != "" {
		if _, dup := d.byID[id]; !dup {
			d.byID[id] = el
		}
		if d.isRegionID(id) {
			d.regions = append(d.regions, el)
		}
	}
	for _, child := range el.ChildElements() {
		d.index(child)
	}
}

func (d *Diagram) isRegionID(id string) bool {
	return d.suffix != "" && strings.HasSuffix(id, d.suffix)
}

// Root returns the <svg> element.
func (d *Diagram) Root() *etree.Element {
	return d.root
}

// Regions returns every key region in document order.
func (d *Diagram) Regions() []*etree.Element {
	return d.regions
}

// Element returns the first element with the given id, or nil.
func (d *Diagram) Element(id string) *etree.Element {
	if id == "" {
		return nil
	}
	return d.byID[id]
}

// RegionOf returns the nearest ancestor-or-self of el that is a key region.
func (d *Diagram) RegionOf(el *etree.Element) *etree.Element {
	for cur := el; cur != nil && cur.Tag != ""; cur = cur.Parent() {
		if d.isRegionID(cur.SelectAttrValue("id", "")) {
			return cur
		}
	}
	return nil
}

// CreateText appends a <text> element to the root in the root's namespace.
func (d *Diagram) CreateText() *etree.Element {
	text := etree.NewElement("text")
	text.Space = d.root.Space
	d.root.AddChild(text)
	return text
}

// Remove detaches el from the root. It reports whether el was a child.
func (d *Diagram) Remove(el *etree.Element) bool {
	return d.root.RemoveChild(el) != nil
}

// WriteTo writes the current document.
func (d *Diagram) WriteTo(w io.Writer) (int64, error) {
	return d.doc.WriteTo(w)
}

// Count returns the stored count of a region and whether one is recorded.
func Count(el *etree.Element) (string, bool) {
	v := el.SelectAttrValue(CountAttr, "")
	return v, v != ""
}

// Fill returns the inline style fill of el.
func Fill(el *etree.Element) string {
	for _, decl := range strings.Split(el.SelectAttrValue("style", ""), ";") {
		name, value, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(name) == "fill" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// setFill sets the fill property in the inline style, keeping other
// declarations in place.
func setFill(el *etree.Element, value string) {
	var decls []string
	replaced := false
	for _, decl := range strings.Split(el.SelectAttrValue("style", ""), ";") {
		if strings.TrimSpace(decl) == "" {
			continue
		}
		name, _, _ := strings.Cut(decl, ":")
		if strings.TrimSpace(name) == "fill" {
			if replaced {
				continue
			}
			decl = "fill: " + value
			replaced = true
		}
		decls = append(decls, strings.TrimSpace(decl))
	}
	if !replaced {
		decls = append(decls, "fill: "+value)
	}
	el.CreateAttr("style", strings.Join(decls, "; ")+";")
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
