package annotxml

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/labelstore/pkg/annotation"
)

var ErrUnsupportedShapeType = errors.New("unsupported shape type")
var ErrPointCount = errors.New("wrong number of points for shape type")
var ErrUnbalancedElement = errors.New("unbalanced element")
var ErrMissingField = errors.New("missing field")

// ErrUnresolvedFrameReference is returned (wrapped) by Sink.MatchFrame when an <image> matches no frame
var ErrUnresolvedFrameReference = annotation.ErrUnresolvedFrameReference

// MissingFieldError is returned by the loader when a required XML attribute is absent.
// errors.Is(err, ErrMissingField) is true for these.
type MissingFieldError struct {
	Element string
	Field   string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field '%v' on <%v>", e.Field, e.Element)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}
