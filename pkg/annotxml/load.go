package annotxml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"golang.org/x/net/html/charset"
)

// shapeBuilder is a shape element that has been opened, but not yet closed
type shapeBuilder struct {
	kind       *shapeKind
	fields     []xml.Attr
	attributes []annotation.Attribute
}

// loadState is everything the loader knows between two tokens.
// Only one shape and one tag can be open at a time, and they never nest inside each other.
type loadState struct {
	sink annotation.Sink

	track     *annotation.Track // Open <track>
	shape     *shapeBuilder     // Open shape element, inside a <track> or an <image>
	tag       *annotation.Tag   // Open <tag>, inside an <image>
	imageOpen bool
	frame     int // Frame of the open <image>

	attrOpen bool
	attrName string
	attrText strings.Builder

	depth    int  // Element nesting, where the root element is depth 1
	rootSeen bool // The root element has been opened
}

func findAttr(attrs []xml.Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func requireAttr(element string, attrs []xml.Attr, name string) (string, error) {
	v, ok := findAttr(attrs, name)
	if !ok {
		return "", &MissingFieldError{Element: element, Field: name}
	}
	return v, nil
}

func intAttr(element string, attrs []xml.Attr, name string, required bool, dflt int) (int, error) {
	v, ok := findAttr(attrs, name)
	if !ok {
		if required {
			return 0, &MissingFieldError{Element: element, Field: name}
		}
		return dflt, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %v '%v' on <%v>: %w", name, v, element, err)
	}
	return i, nil
}

// flagAttr is true only for the value "1"
func flagAttr(element string, attrs []xml.Attr, name string) (bool, error) {
	v, err := requireAttr(element, attrs, name)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func sourceAttr(attrs []xml.Attr) string {
	if v, ok := findAttr(attrs, "source"); ok {
		return v
	}
	return annotation.DefaultSource
}

func (s *loadState) owner() *[]annotation.Attribute {
	if s.shape != nil {
		return &s.shape.attributes
	}
	if s.tag != nil {
		return &s.tag.Attributes
	}
	return nil
}

func (s *loadState) start(dec *xml.Decoder, el xml.StartElement) error {
	name := el.Name.Local
	if s.depth == 0 {
		if s.rootSeen {
			line, _ := dec.InputPos()
			return &xml.SyntaxError{Msg: fmt.Sprintf("second root element <%v>", name), Line: line}
		}
		s.rootSeen = true
	}
	s.depth++
	switch {
	case name == ElementMeta:
		// Labels inside <meta> have their own <attribute> elements, which must not be confused with shape attributes.
		// Skip consumes the end element.
		s.depth--
		return dec.Skip()
	case name == ElementTrack:
		label, err := requireAttr(name, el.Attr, "label")
		if err != nil {
			return err
		}
		group, err := intAttr(name, el.Attr, "group_id", false, 0)
		if err != nil {
			return err
		}
		s.track = &annotation.Track{
			Label:  label,
			Group:  group,
			Source: sourceAttr(el.Attr),
			Shapes: []annotation.TrackedShape{},
		}
	case name == ElementImage:
		imgName, err := requireAttr(name, el.Attr, "name")
		if err != nil {
			return err
		}
		id, err := requireAttr(name, el.Attr, "id")
		if err != nil {
			return err
		}
		frame, err := s.sink.MatchFrame(imgName, id)
		if err != nil {
			return err
		}
		s.imageOpen = true
		s.frame = frame
	case name == ElementTag:
		if !s.imageOpen {
			return nil
		}
		label, err := requireAttr(name, el.Attr, "label")
		if err != nil {
			return err
		}
		group, err := intAttr(name, el.Attr, "group_id", false, 0)
		if err != nil {
			return err
		}
		s.tag = &annotation.Tag{
			Frame:      s.frame,
			Label:      label,
			Group:      group,
			Source:     sourceAttr(el.Attr),
			Attributes: []annotation.Attribute{},
		}
	case name == ElementAttribute:
		if s.owner() == nil {
			return nil
		}
		attrName, err := requireAttr(name, el.Attr, "name")
		if err != nil {
			return err
		}
		s.attrOpen = true
		s.attrName = attrName
		s.attrText.Reset()
	default:
		if kind := kindOfElement(name); kind != nil && (s.track != nil || s.imageOpen) {
			s.shape = &shapeBuilder{
				kind:       kind,
				fields:     el.Attr,
				attributes: []annotation.Attribute{},
			}
		}
	}
	return nil
}

func (s *loadState) end(name string) error {
	s.depth--
	switch {
	case name == ElementAttribute:
		if !s.attrOpen {
			return nil
		}
		s.attrOpen = false
		if owner := s.owner(); owner != nil {
			*owner = append(*owner, annotation.Attribute{Name: s.attrName, Value: s.attrText.String()})
		}
	case name == ElementTrack:
		if s.track == nil {
			return nil
		}
		track := *s.track
		s.track = nil
		return s.sink.AddTrack(track)
	case name == ElementImage:
		s.imageOpen = false
	case name == ElementTag:
		if s.tag == nil {
			return nil
		}
		tag := *s.tag
		s.tag = nil
		return s.sink.AddTag(tag)
	default:
		if s.shape != nil && s.shape.kind.Element == name {
			b := s.shape
			s.shape = nil
			return s.commitShape(b)
		}
	}
	return nil
}

func (s *loadState) commitShape(b *shapeBuilder) error {
	element := b.kind.Element
	attr := func(name string) (string, error) {
		return requireAttr(element, b.fields, name)
	}
	points, err := b.kind.decode(attr)
	if err != nil {
		return err
	}
	if err := b.kind.checkPoints(points); err != nil {
		return err
	}
	occluded, err := flagAttr(element, b.fields, "occluded")
	if err != nil {
		return err
	}
	zOrder, err := intAttr(element, b.fields, "z_order", false, 0)
	if err != nil {
		return err
	}

	if s.track != nil {
		frame, err := intAttr(element, b.fields, "frame", true, 0)
		if err != nil {
			return err
		}
		outside, err := flagAttr(element, b.fields, "outside")
		if err != nil {
			return err
		}
		keyframe, err := flagAttr(element, b.fields, "keyframe")
		if err != nil {
			return err
		}
		if !keyframe {
			// Only keyframes are kept
			return nil
		}
		s.track.Shapes = append(s.track.Shapes, annotation.TrackedShape{
			Type:       b.kind.Type,
			Frame:      frame,
			Points:     points,
			Occluded:   occluded,
			Outside:    outside,
			Keyframe:   keyframe,
			ZOrder:     zOrder,
			Attributes: b.attributes,
		})
		return nil
	}

	label, err := requireAttr(element, b.fields, "label")
	if err != nil {
		return err
	}
	group, err := intAttr(element, b.fields, "group_id", false, 0)
	if err != nil {
		return err
	}
	return s.sink.AddShape(annotation.LabeledShape{
		Type:       b.kind.Type,
		Frame:      s.frame,
		Label:      label,
		Points:     points,
		Occluded:   occluded,
		ZOrder:     zOrder,
		Group:      group,
		Source:     sourceAttr(b.fields),
		Attributes: b.attributes,
	})
}

// Load parses an annotation document from 'r' and adds every shape, track and tag to 'sink'.
// The document is streamed, so memory use does not depend on the size of the document.
// Any error aborts the load, and whatever was already added to 'sink' stays there.
func Load(r io.Reader, sink annotation.Sink) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	s := &loadState{
		sink: sink,
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if !s.rootSeen {
				line, _ := dec.InputPos()
				return fmt.Errorf("failed to parse annotation xml: %w", &xml.SyntaxError{Msg: "no root element", Line: line})
			}
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to parse annotation xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			err = s.start(dec, t)
		case xml.EndElement:
			err = s.end(t.Name.Local)
		case xml.CharData:
			if s.attrOpen {
				s.attrText.Write(t)
			}
		}
		var syntaxErr *xml.SyntaxError
		if errors.As(err, &syntaxErr) {
			return fmt.Errorf("failed to parse annotation xml: %w", err)
		} else if err != nil {
			return err
		}
	}
}
