package annotxml

import (
	"fmt"
	"io"
	"strconv"

	"github.com/cyclopcam/labelstore/pkg/annotation"
)

// DumpFunc writes the <annotations> root element of 'src' to 'w'
type DumpFunc func(w *Writer, src annotation.Source) error

// DumpDocument writes a complete document to 'dst', using 'dump' to produce the root element.
// If an error is returned, the output is truncated and must be discarded.
func DumpDocument(dst io.Writer, src annotation.Source, dump DumpFunc) error {
	w := NewWriter(dst)
	if err := w.OpenDocument(); err != nil {
		return err
	}
	if err := dump(w, src); err != nil {
		return err
	}
	return w.CloseDocument()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func writeAttributed(w *Writer, element string, fields Fields, attrs []annotation.Attribute) error {
	if err := w.Open(element, fields); err != nil {
		return err
	}
	if err := w.AddAttributes(attrs); err != nil {
		return err
	}
	return w.Close(element)
}

func writeImageShape(w *Writer, shape *annotation.LabeledShape) error {
	k, err := kindOfType(shape.Type)
	if err != nil {
		return err
	}
	geom, err := k.encode(shape.Points)
	if err != nil {
		return err
	}
	fields := Fields{
		{"label", shape.Label},
		{"occluded", boolField(shape.Occluded)},
		{"source", shape.Source},
	}
	fields = append(fields, geom...)
	fields.Add("z_order", itoa(shape.ZOrder))
	if shape.Group != 0 {
		fields.Add("group_id", itoa(shape.Group))
	}
	return writeAttributed(w, k.Element, fields, shape.Attributes)
}

func writeTag(w *Writer, tag *annotation.Tag) error {
	fields := Fields{
		{"label", tag.Label},
		{"source", tag.Source},
	}
	if tag.Group != 0 {
		fields.Add("group_id", itoa(tag.Group))
	}
	return writeAttributed(w, ElementTag, fields, tag.Attributes)
}

// DumpImages is the frame-centric dump. Every frame is emitted as an <image>, including frames without annotations.
func DumpImages(w *Writer, src annotation.Source) error {
	if err := w.OpenRoot(); err != nil {
		return err
	}
	if err := w.AddMeta(src.Meta()); err != nil {
		return err
	}
	project := src.IsProject()
	for _, frame := range src.GroupByFrame() {
		attrs := Fields{
			{"id", itoa(frame.Frame)},
			{"name", frame.Name},
		}
		if project {
			attrs.Add("subset", frame.Subset)
			attrs.Add("task_id", strconv.FormatInt(frame.TaskID, 10))
		}
		attrs.Add("width", itoa(frame.Width))
		attrs.Add("height", itoa(frame.Height))
		if err := w.OpenImage(attrs); err != nil {
			return err
		}
		for i := range frame.LabeledShapes {
			if err := writeImageShape(w, &frame.LabeledShapes[i]); err != nil {
				return fmt.Errorf("frame %v: %w", frame.Frame, err)
			}
		}
		for i := range frame.Tags {
			if err := writeTag(w, &frame.Tags[i]); err != nil {
				return err
			}
		}
		if err := w.CloseImage(); err != nil {
			return err
		}
	}
	return w.CloseRoot()
}

type videoDumper struct {
	w       *Writer
	project bool
	tasks   []*annotation.TaskInfo
}

func (d *videoDumper) task(taskID int64) (*annotation.TaskInfo, error) {
	if !d.project {
		if len(d.tasks) == 0 {
			return nil, fmt.Errorf("annotation source has no task")
		}
		return d.tasks[0], nil
	}
	for _, t := range d.tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown task %v", taskID)
}

func (d *videoDumper) writeTrack(id int, track *annotation.Track) error {
	w := d.w
	attrs := Fields{
		{"id", itoa(id)},
		{"label", track.Label},
		{"source", track.Source},
	}
	if d.project {
		task, err := d.task(track.TaskID)
		if err != nil {
			return err
		}
		attrs.Add("task_id", strconv.FormatInt(track.TaskID, 10))
		attrs.Add("subset", annotation.DefaultedSubset(task.Subset))
	}
	if track.Group != 0 {
		attrs.Add("group_id", itoa(track.Group))
	}
	if err := w.OpenTrack(attrs); err != nil {
		return err
	}
	for i := range track.Shapes {
		shape := &track.Shapes[i]
		if !shape.Keyframe {
			continue
		}
		k, err := kindOfType(shape.Type)
		if err != nil {
			return err
		}
		geom, err := k.encode(shape.Points)
		if err != nil {
			return fmt.Errorf("track %v, frame %v: %w", id, shape.Frame, err)
		}
		fields := Fields{
			{"frame", itoa(shape.Frame)},
			{"outside", boolField(shape.Outside)},
			{"occluded", boolField(shape.Occluded)},
			{"keyframe", boolField(shape.Keyframe)},
		}
		fields = append(fields, geom...)
		fields.Add("z_order", itoa(shape.ZOrder))
		if err := writeAttributed(w, k.Element, fields, shape.Attributes); err != nil {
			return err
		}
	}
	return w.CloseTrack()
}

// standaloneTrack turns a shape that lives on a single frame into a track.
// The track is closed by an outside keyframe on the next frame, unless that frame is past the end of the task.
func (d *videoDumper) standaloneTrack(shape *annotation.LabeledShape) (annotation.Track, error) {
	task, err := d.task(shape.TaskID)
	if err != nil {
		return annotation.Track{}, err
	}
	first := annotation.TrackedShape{
		Type:       shape.Type,
		Frame:      shape.Frame,
		Points:     shape.Points,
		Occluded:   shape.Occluded,
		Outside:    false,
		Keyframe:   true,
		ZOrder:     shape.ZOrder,
		Attributes: shape.Attributes,
	}
	track := annotation.Track{
		Label:  shape.Label,
		Group:  shape.Group,
		Source: shape.Source,
		TaskID: shape.TaskID,
		Shapes: []annotation.TrackedShape{first},
	}
	if next := shape.Frame + task.Step(); next < task.StopFrame {
		last := first
		last.Frame = next
		last.Outside = true
		track.Shapes = append(track.Shapes, last)
	}
	return track, nil
}

// DumpVideo is the track-centric dump. Real tracks are numbered from 0, and every standalone
// shape is then emitted as a synthetic track, continuing the numbering.
func DumpVideo(w *Writer, src annotation.Source) error {
	d := &videoDumper{
		w:       w,
		project: src.IsProject(),
		tasks:   src.Tasks(),
	}
	if err := w.OpenRoot(); err != nil {
		return err
	}
	if err := w.AddMeta(src.Meta()); err != nil {
		return err
	}
	tracks := src.Tracks()
	for i := range tracks {
		if err := d.writeTrack(i, &tracks[i]); err != nil {
			return err
		}
	}
	id := len(tracks)
	shapes := src.Shapes()
	for i := range shapes {
		track, err := d.standaloneTrack(&shapes[i])
		if err != nil {
			return err
		}
		if err := d.writeTrack(id, &track); err != nil {
			return err
		}
		id++
	}
	return w.CloseRoot()
}
