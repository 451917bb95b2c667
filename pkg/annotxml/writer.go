package annotxml

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotation"
)

// Version of the annotation format that we read and write
const Version = "1.1"

// Wire names of the non-shape elements
const (
	ElementRoot      = "annotations"
	ElementVersion   = "version"
	ElementMeta      = "meta"
	ElementImage     = "image"
	ElementTrack     = "track"
	ElementTag       = "tag"
	ElementAttribute = "attribute"
)

// Field is an XML attribute. Order of Fields is significant, and is preserved on output.
type Field struct {
	Name  string
	Value string
}

type Fields []Field

func (f *Fields) Add(name, value string) {
	*f = append(*f, Field{name, value})
}

func (f Fields) Get(name string) (string, bool) {
	for _, x := range f {
		if x.Name == name {
			return x.Value, true
		}
	}
	return "", false
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#13;")
var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#10;", "\r", "&#13;", "\t", "&#9;")

// Writer emits an annotation document incrementally.
// Every Open must be matched by a Close of the same element, otherwise
// Close (or CloseDocument) returns ErrUnbalancedElement.
// Errors are sticky: once a write fails, all subsequent calls are no-ops
// and return the same error.
type Writer struct {
	w     *bufio.Writer
	stack []string // open elements. The depth of this stack is our indentation level.
	err   error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: bufio.NewWriter(w),
	}
}

// Err returns the first error that occurred
func (w *Writer) Err() error {
	return w.err
}

// Depth is the number of open elements
func (w *Writer) Depth() int {
	return len(w.stack)
}

func (w *Writer) write(s string) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.WriteString(s)
}

func (w *Writer) indent() {
	w.write("\n")
	w.write(strings.Repeat("  ", len(w.stack)))
}

func (w *Writer) startTag(name string, attrs Fields) {
	w.write("<")
	w.write(name)
	for _, a := range attrs {
		w.write(" ")
		w.write(a.Name)
		w.write(`="`)
		w.write(attrEscaper.Replace(a.Value))
		w.write(`"`)
	}
	w.write(">")
}

func (w *Writer) endTag(name string) {
	w.write("</")
	w.write(name)
	w.write(">")
}

func (w *Writer) textElement(name, text string) {
	w.indent()
	w.startTag(name, nil)
	w.write(textEscaper.Replace(text))
	w.endTag(name)
}

func (w *Writer) OpenDocument() error {
	w.write(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	return w.err
}

// CloseDocument flushes the output. It is an error to close the document while elements are still open.
func (w *Writer) CloseDocument() error {
	if w.err == nil && len(w.stack) != 0 {
		w.err = fmt.Errorf("%w: document closed with <%v> still open", ErrUnbalancedElement, w.stack[len(w.stack)-1])
	}
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

// OpenRoot opens <annotations> and writes the format version
func (w *Writer) OpenRoot() error {
	w.startTag(ElementRoot, nil)
	w.stack = append(w.stack, ElementRoot)
	w.textElement(ElementVersion, Version)
	return w.err
}

func (w *Writer) CloseRoot() error {
	if err := w.Close(ElementRoot); err != nil {
		return err
	}
	w.write("\n")
	return w.err
}

// Open writes a start tag with the given attributes, in the given order
func (w *Writer) Open(name string, attrs Fields) error {
	w.indent()
	w.startTag(name, attrs)
	w.stack = append(w.stack, name)
	return w.err
}

// Close closes the innermost element, which must be 'name'
func (w *Writer) Close(name string) error {
	if w.err != nil {
		return w.err
	}
	if len(w.stack) == 0 {
		w.err = fmt.Errorf("%w: close of <%v> with no open element", ErrUnbalancedElement, name)
		return w.err
	}
	if top := w.stack[len(w.stack)-1]; top != name {
		w.err = fmt.Errorf("%w: close of <%v> while <%v> is open", ErrUnbalancedElement, name, top)
		return w.err
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.indent()
	w.endTag(name)
	return w.err
}

func (w *Writer) OpenImage(attrs Fields) error {
	return w.Open(ElementImage, attrs)
}

func (w *Writer) CloseImage() error {
	return w.Close(ElementImage)
}

func (w *Writer) OpenTrack(attrs Fields) error {
	return w.Open(ElementTrack, attrs)
}

func (w *Writer) CloseTrack() error {
	return w.Close(ElementTrack)
}

func (w *Writer) OpenTag(attrs Fields) error {
	return w.Open(ElementTag, attrs)
}

func (w *Writer) CloseTag() error {
	return w.Close(ElementTag)
}

// AddAttribute writes <attribute name="..">value</attribute>
func (w *Writer) AddAttribute(attr annotation.Attribute) error {
	w.indent()
	w.startTag(ElementAttribute, Fields{{"name", attr.Name}})
	w.write(textEscaper.Replace(attr.Value))
	w.endTag(ElementAttribute)
	return w.err
}

func (w *Writer) AddAttributes(attrs []annotation.Attribute) error {
	for _, a := range attrs {
		if err := w.AddAttribute(a); err != nil {
			return err
		}
	}
	return nil
}

// AddMeta writes the <meta> block, preserving order and nesting
func (w *Writer) AddMeta(meta annotation.Meta) error {
	w.indent()
	w.startTag(ElementMeta, nil)
	w.stack = append(w.stack, ElementMeta)
	if err := w.addMeta(meta); err != nil {
		return err
	}
	return w.Close(ElementMeta)
}

func (w *Writer) addMeta(meta annotation.Meta) error {
	for _, e := range meta {
		if e.IsNode() {
			w.indent()
			w.startTag(e.Key, nil)
			w.stack = append(w.stack, e.Key)
			if err := w.addMeta(e.Children); err != nil {
				return err
			}
			if err := w.Close(e.Key); err != nil {
				return err
			}
		} else {
			w.textElement(e.Key, e.Value)
		}
	}
	return nil
}
