package xmlconv

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/net/html/charset"
)

// LabelColors is an ordered label -> color dictionary.
// A label keeps the position where it was first seen, and the color it was last seen with.
type LabelColors struct {
	names  []string
	colors map[string]string
}

func NewLabelColors() *LabelColors {
	return &LabelColors{
		colors: map[string]string{},
	}
}

func (l *LabelColors) Set(name, color string) {
	if _, ok := l.colors[name]; !ok {
		l.names = append(l.names, name)
	}
	l.colors[name] = color
}

func (l *LabelColors) Color(name string) (string, bool) {
	c, ok := l.colors[name]
	return c, ok
}

// Names returns the labels in the order in which they were first seen
func (l *LabelColors) Names() []string {
	return l.names
}

func (l *LabelColors) Len() int {
	return len(l.names)
}

type labelJSON struct {
	Name       string   `json:"name"`
	Color      string   `json:"color"`
	Attributes []string `json:"attributes"`
}

// JSON produces a label specification that can be pasted into a new task
func (l *LabelColors) JSON() ([]byte, error) {
	all := make([]labelJSON, 0, len(l.names))
	for _, n := range l.names {
		all = append(all, labelJSON{Name: n, Color: l.colors[n], Attributes: []string{}})
	}
	return json.MarshalIndent(all, "", "  ")
}

var labelPath = []string{"meta", "task", "labels", "label"}

// ExtractLabels adds the name and color of every label in the document's meta/task/labels block to 'labels'.
// Reading stops at the end of <meta>, so large documents are cheap.
func ExtractLabels(r io.Reader, labels *LabelColors) error {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	stack := []string{}
	var name, color strings.Builder
	inLabel := func() bool {
		// stack[0] is the root element
		if len(stack) < len(labelPath)+1 {
			return false
		}
		for i, p := range labelPath {
			if stack[i+1] != p {
				return false
			}
		}
		return true
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to parse annotation xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			if len(stack) == len(labelPath)+1 && inLabel() {
				name.Reset()
				color.Reset()
			}
		case xml.CharData:
			if len(stack) == len(labelPath)+2 && inLabel() {
				switch stack[len(stack)-1] {
				case "name":
					name.Write(t)
				case "color":
					color.Write(t)
				}
			}
		case xml.EndElement:
			if len(stack) == len(labelPath)+1 && inLabel() {
				labels.Set(name.String(), color.String())
			}
			if len(stack) == 2 && stack[1] == "meta" {
				return nil
			}
			stack = stack[:len(stack)-1]
		}
	}
}

func ExtractLabelsFile(filename string, labels *LabelColors) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := ExtractLabels(f, labels); err != nil {
		return fmt.Errorf("%v: %w", filename, err)
	}
	return nil
}
