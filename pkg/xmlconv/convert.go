package xmlconv

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/cyclopcam/labelstore/pkg/annotxml"
	"golang.org/x/net/html/charset"
)

type ConvertOptions struct {
	// If not nil, every <image id> is replaced by the frame number of the image's pure name in this list
	ImageList ImageList

	// Rename polygons with 4 points to rotbox
	Rotbox bool

	// Polygons with these labels are never converted to rotbox
	RotboxExclude map[string]bool
}

type ConvertStats struct {
	Images           int      // Number of <image> elements
	Objects          int      // Number of polygons considered for rotbox conversion
	Rotbox           int      // Number of polygons converted to rotbox
	ConversionErrors int      // Number of polygons that could not be converted
	Missing          []string // Pure image names that were not in the image list
	Unreferenced     []string // Names in the image list that no image referred to, in frame order
}

type convElement struct {
	name    string // Name in the input
	outName string // Name in the output
}

// Convert copies an annotation document from 'r' to 'w', renumbering frames and converting
// polygons to rotboxes as specified by 'opts'. The document is streamed.
// Images that are missing from the image list keep their original id.
func Convert(r io.Reader, w io.Writer, opts ConvertOptions) (*ConvertStats, error) {
	stats := &ConvertStats{}
	remaining := map[string]int{}
	for name, frame := range opts.ImageList {
		remaining[name] = frame
	}

	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	enc := xml.NewEncoder(w)
	stack := []convElement{}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse annotation xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target == "xml" {
				// Input has been decoded to UTF-8
				tok = xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="utf-8"`)}
			}
		case xml.StartElement:
			el := convElement{name: t.Name.Local, outName: t.Name.Local}
			parent := ""
			if len(stack) != 0 {
				parent = stack[len(stack)-1].name
			}
			if el.name == annotxml.ElementImage && len(stack) == 1 {
				stats.Images++
				if opts.ImageList != nil {
					renumberImage(&t, opts.ImageList, remaining, stats)
				}
			} else if el.name == "polygon" && parent == annotxml.ElementImage && opts.Rotbox {
				label, _ := attrValue(t.Attr, "label")
				if !opts.RotboxExclude[label] {
					if isQuad(t.Attr) {
						el.outName = "rotbox"
						stats.Rotbox++
					} else {
						stats.ConversionErrors++
					}
				}
				stats.Objects++
			}
			t.Name.Local = el.outName
			stack = append(stack, el)
			tok = t
		case xml.EndElement:
			if len(stack) != 0 {
				t.Name.Local = stack[len(stack)-1].outName
				stack = stack[:len(stack)-1]
			}
			tok = t
		}
		if err := enc.EncodeToken(tok); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}

	if opts.ImageList != nil {
		for name := range remaining {
			stats.Unreferenced = append(stats.Unreferenced, name)
		}
		sort.Slice(stats.Unreferenced, func(i, j int) bool {
			return remaining[stats.Unreferenced[i]] < remaining[stats.Unreferenced[j]]
		})
	}
	return stats, nil
}

func renumberImage(t *xml.StartElement, list ImageList, remaining map[string]int, stats *ConvertStats) {
	name, _ := attrValue(t.Attr, "name")
	pure := PureName(name)
	frame, ok := list[pure]
	if !ok {
		stats.Missing = append(stats.Missing, pure)
		return
	}
	delete(remaining, pure)
	for i := range t.Attr {
		if t.Attr[i].Name.Local == "id" {
			t.Attr[i].Value = strconv.Itoa(frame)
			return
		}
	}
	t.Attr = append(t.Attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: strconv.Itoa(frame)})
}

func attrValue(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// isQuad is true if the polygon has exactly 4 points
func isQuad(attrs []xml.Attr) bool {
	s, ok := attrValue(attrs, "points")
	if !ok {
		return false
	}
	points, err := annotxml.ParsePoints(s)
	return err == nil && len(points) == 8
}
