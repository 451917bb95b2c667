package xmlconv

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotxml"
	"golang.org/x/net/html/charset"
)

// FrameRef is a frame that an annotation document refers to
type FrameRef struct {
	Frame  int
	Name   string
	Width  int
	Height int
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// ScanFrames lists the frames referenced by a document, ordered by frame number.
// Frames come from <image> elements, and from the 'frame' attribute of track shapes.
// Track frames are named frame_NNNNNN, and take their size from meta/task/original_size.
func ScanFrames(r io.Reader) ([]FrameRef, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	stack := []string{}
	byFrame := map[int]*FrameRef{}
	var width, height int
	var text strings.Builder

	add := func(frameAttr string, ref FrameRef) error {
		frame, err := strconv.Atoi(frameAttr)
		if err != nil {
			return fmt.Errorf("invalid frame number '%v'", frameAttr)
		}
		if _, ok := byFrame[frame]; !ok {
			ref.Frame = frame
			byFrame[frame] = &ref
		}
		return nil
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to parse annotation xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			parent := ""
			if len(stack) != 0 {
				parent = stack[len(stack)-1]
			}
			stack = append(stack, t.Name.Local)
			text.Reset()
			if t.Name.Local == "image" {
				w, _ := strconv.Atoi(attrValue(t.Attr, "width"))
				h, _ := strconv.Atoi(attrValue(t.Attr, "height"))
				if err := add(attrValue(t.Attr, "id"), FrameRef{Name: attrValue(t.Attr, "name"), Width: w, Height: h}); err != nil {
					return nil, err
				}
			} else if parent == "track" && annotxml.IsShapeElement(t.Name.Local) {
				if err := add(attrValue(t.Attr, "frame"), FrameRef{}); err != nil {
					return nil, err
				}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(stack) >= 2 && stack[len(stack)-2] == "original_size" {
				switch t.Name.Local {
				case "width":
					width, _ = strconv.Atoi(strings.TrimSpace(text.String()))
				case "height":
					height, _ = strconv.Atoi(strings.TrimSpace(text.String()))
				}
			}
			stack = stack[:len(stack)-1]
		}
	}

	refs := make([]FrameRef, 0, len(byFrame))
	for _, ref := range byFrame {
		if ref.Name == "" {
			ref.Name = fmt.Sprintf("frame_%06d", ref.Frame)
			ref.Width = width
			ref.Height = height
		}
		refs = append(refs, *ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Frame < refs[j].Frame
	})
	return refs, nil
}
