// Package annotation is the in-memory annotation model that the XML codec reads from and writes to.
package annotation

import (
	"errors"
	"fmt"
)

type ShapeType string

const (
	Rectangle ShapeType = "rectangle"
	Polygon   ShapeType = "polygon"
	Polyline  ShapeType = "polyline"
	Points    ShapeType = "points"
	Cuboid    ShapeType = "cuboid"
	Rotbox    ShapeType = "rotbox"
)

// DefaultSource is the source of an annotation that was drawn by a person
const DefaultSource = "manual"

// Task modes
const (
	ModeAnnotation    = "annotation"    // Independent images
	ModeInterpolation = "interpolation" // Video frames
)

// DefaultSubset is used for tasks in a project that have not been assigned a subset
const DefaultSubset = "default"

var ErrUnresolvedFrameReference = errors.New("unresolved frame reference")

// Attribute is a name/value pair attached to a shape or tag. The value is always text.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// LabeledShape is a shape that exists on a single frame
type LabeledShape struct {
	Type       ShapeType   `json:"type"`
	Frame      int         `json:"frame"`
	Label      string      `json:"label"`
	Points     []float64   `json:"points"`
	Occluded   bool        `json:"occluded"`
	ZOrder     int         `json:"z_order"`
	Group      int         `json:"group"` // 0 = no group
	Source     string      `json:"source"`
	Attributes []Attribute `json:"attributes"`
	TaskID     int64       `json:"task_id,omitempty"` // Only meaningful in a project
}

// TrackedShape is the state of a track on one frame
type TrackedShape struct {
	Type       ShapeType   `json:"type"`
	Frame      int         `json:"frame"`
	Points     []float64   `json:"points"`
	Occluded   bool        `json:"occluded"`
	Outside    bool        `json:"outside"`  // Object is not visible from this frame onwards
	Keyframe   bool        `json:"keyframe"` // Explicit control point
	ZOrder     int         `json:"z_order"`
	Attributes []Attribute `json:"attributes"`
}

// Track is an object that persists across frames.
// Shapes are sorted by frame, and the first shape is always a keyframe.
type Track struct {
	Label  string         `json:"label"`
	Group  int            `json:"group"`
	Source string         `json:"source"`
	TaskID int64          `json:"task_id,omitempty"`
	Shapes []TrackedShape `json:"shapes"`
}

// Tag is a frame-level label without geometry
type Tag struct {
	Frame      int         `json:"frame"`
	Label      string      `json:"label"`
	Group      int         `json:"group"`
	Source     string      `json:"source"`
	Attributes []Attribute `json:"attributes"`
	TaskID     int64       `json:"task_id,omitempty"`
}

// FrameAnnotation is everything on one frame, as seen by the frame-centric dumper
type FrameAnnotation struct {
	Frame         int
	Name          string
	Width         int
	Height        int
	Subset        string // Project mode only
	TaskID        int64  // Project mode only
	LabeledShapes []LabeledShape
	Tags          []Tag
}

// FrameInfo describes one media item of a task
type FrameInfo struct {
	Frame  int    `json:"frame"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type AttributeSpec struct {
	Name         string   `json:"name"`
	Mutable      bool     `json:"mutable"`
	InputType    string   `json:"input_type"` // eg "select", "checkbox", "text"
	DefaultValue string   `json:"default_value"`
	Values       []string `json:"values"`
}

type Label struct {
	Name       string          `json:"name"`
	Color      string          `json:"color"` // eg "#ff00aa"
	Attributes []AttributeSpec `json:"attributes"`
}

// TaskInfo is the per-task metadata that the dumpers and the media exporter need
type TaskInfo struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Mode       string      `json:"mode"`
	Subset     string      `json:"subset"`
	Overlap    int         `json:"overlap"`
	StartFrame int         `json:"start_frame"`
	StopFrame  int         `json:"stop_frame"`
	FrameStep  int         `json:"frame_step"`
	Labels     []Label     `json:"labels"`
	Frames     []FrameInfo `json:"frames"`
}

// Step returns the frame step, which is never less than 1
func (t *TaskInfo) Step() int {
	if t.FrameStep < 1 {
		return 1
	}
	return t.FrameStep
}

// FrameFilter returns the frame filter string that appears in the task metadata
func (t *TaskInfo) FrameFilter() string {
	if t.Step() == 1 {
		return ""
	}
	return fmt.Sprintf("step=%v", t.Step())
}

// Source is the read side of an annotation instance (a task or a project), as consumed by the dumpers
type Source interface {
	// IsProject is true when the instance spans several tasks
	IsProject() bool

	// Meta is emitted verbatim as the <meta> block
	Meta() Meta

	// Tasks returns the tasks of the instance. A plain task returns a single item.
	Tasks() []*TaskInfo

	// GroupByFrame returns every frame in ascending order, including empty frames
	GroupByFrame() []FrameAnnotation

	Tracks() []Track

	// Shapes returns the standalone (non-tracked) shapes
	Shapes() []LabeledShape
}

// Sink is the write side of an annotation instance, as driven by the loader
type Sink interface {
	// MatchFrame resolves an <image> element's name and id attributes to a frame number.
	// It fails with ErrUnresolvedFrameReference if nothing matches.
	MatchFrame(name, id string) (int, error)

	AddShape(shape LabeledShape) error
	AddTrack(track Track) error
	AddTag(tag Tag) error
}

// FindTask returns the task with the given ID, or nil
func FindTask(src Source, taskID int64) *TaskInfo {
	for _, t := range src.Tasks() {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

// DefaultedSubset returns subset, or DefaultSubset if subset is empty
func DefaultedSubset(subset string) string {
	if subset == "" {
		return DefaultSubset
	}
	return subset
}
