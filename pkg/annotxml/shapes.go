package annotxml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotation"
)

// shapeKind describes how one shape type is laid out on the wire
type shapeKind struct {
	Type    annotation.ShapeType
	Element string   // XML element name
	coords  []string // Named coordinate attributes, one per number. If nil, the shape uses a "points" attribute.
	nPoints int      // Required number of numbers for a "points" shape, or 0 for any even number >= 2
	derive  func(points []float64) Fields
}

var rectangleCoords = []string{"xtl", "ytl", "xbr", "ybr"}

// Two quads (faces 1 and 2)
var cuboidCoords = []string{
	"xtl1", "ytl1", "xbl1", "ybl1", "xtr1", "ytr1", "xbr1", "ybr1",
	"xtl2", "ytl2", "xbl2", "ybl2", "xtr2", "ytr2", "xbr2", "ybr2",
}

var shapeKinds = []*shapeKind{
	{Type: annotation.Rectangle, Element: "box", coords: rectangleCoords},
	{Type: annotation.Polygon, Element: "polygon"},
	{Type: annotation.Polyline, Element: "polyline"},
	{Type: annotation.Points, Element: "points"},
	{Type: annotation.Cuboid, Element: "cuboid", coords: cuboidCoords},
	{Type: annotation.Rotbox, Element: "rotbox", nPoints: 8, derive: rotboxFields},
}

func kindOfType(t annotation.ShapeType) (*shapeKind, error) {
	for _, k := range shapeKinds {
		if k.Type == t {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: '%v'", ErrUnsupportedShapeType, t)
}

// kindOfElement returns nil if the element is not a shape
func kindOfElement(name string) *shapeKind {
	for _, k := range shapeKinds {
		if k.Element == name {
			return k
		}
	}
	return nil
}

// ElementName returns the XML element name of a shape type (eg "box" for rectangle)
func ElementName(t annotation.ShapeType) (string, error) {
	k, err := kindOfType(t)
	if err != nil {
		return "", err
	}
	return k.Element, nil
}

// IsShapeElement returns true if 'name' is the XML element of a shape
func IsShapeElement(name string) bool {
	return kindOfElement(name) != nil
}

// FormatCoord formats a coordinate with 2 fixed decimals, eg "10.00"
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatPoints formats x,y pairs as "x1,y1;x2,y2;..."
func FormatPoints(points []float64) string {
	b := strings.Builder{}
	for i := 0; i+1 < len(points); i += 2 {
		if i != 0 {
			b.WriteByte(';')
		}
		b.WriteString(FormatCoord(points[i]))
		b.WriteByte(',')
		b.WriteString(FormatCoord(points[i+1]))
	}
	return b.String()
}

// ParsePoints parses "x1,y1;x2,y2;..." into a flat list of numbers
func ParsePoints(s string) ([]float64, error) {
	points := []float64{}
	for _, pair := range strings.Split(s, ";") {
		for _, v := range strings.Split(pair, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid point list '%v': %w", s, err)
			}
			points = append(points, f)
		}
	}
	return points, nil
}

func (k *shapeKind) checkPoints(points []float64) error {
	if k.coords != nil {
		if len(points) != len(k.coords) {
			return fmt.Errorf("%w: %v needs %v numbers, but has %v", ErrPointCount, k.Type, len(k.coords), len(points))
		}
		return nil
	}
	if k.nPoints != 0 && len(points) != k.nPoints {
		return fmt.Errorf("%w: %v needs %v numbers, but has %v", ErrPointCount, k.Type, k.nPoints, len(points))
	}
	if len(points) < 2 || len(points)%2 != 0 {
		return fmt.Errorf("%w: %v needs an even number of at least 2 numbers, but has %v", ErrPointCount, k.Type, len(points))
	}
	return nil
}

func (k *shapeKind) encode(points []float64) (Fields, error) {
	if err := k.checkPoints(points); err != nil {
		return nil, err
	}
	fields := Fields{}
	if k.coords != nil {
		for i, name := range k.coords {
			fields.Add(name, FormatCoord(points[i]))
		}
	} else {
		fields.Add("points", FormatPoints(points))
	}
	if k.derive != nil {
		fields = append(fields, k.derive(points)...)
	}
	return fields, nil
}

// decode reads the coordinates of the shape from the element's attributes
func (k *shapeKind) decode(attr func(name string) (string, error)) ([]float64, error) {
	if k.coords == nil {
		s, err := attr("points")
		if err != nil {
			return nil, err
		}
		return ParsePoints(s)
	}
	points := make([]float64, 0, len(k.coords))
	for _, name := range k.coords {
		s, err := attr(name)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %v '%v' on <%v>: %w", name, s, k.Element, err)
		}
		points = append(points, f)
	}
	return points, nil
}

// EncodeShape returns the type-specific fields of a shape, in wire order.
// An unknown shape type fails with ErrUnsupportedShapeType.
func EncodeShape(t annotation.ShapeType, points []float64) (Fields, error) {
	k, err := kindOfType(t)
	if err != nil {
		return nil, err
	}
	return k.encode(points)
}
