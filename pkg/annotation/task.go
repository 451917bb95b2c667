package annotation

import (
	"sort"
	"time"
)

// Annotations is the mutable annotation content of a task
type Annotations struct {
	Shapes []LabeledShape `json:"shapes"`
	Tracks []Track        `json:"tracks"`
	Tags   []Tag          `json:"tags"`
}

func (a *Annotations) IsEmpty() bool {
	return len(a.Shapes) == 0 && len(a.Tracks) == 0 && len(a.Tags) == 0
}

// TaskData is an in-memory annotation instance for a single task.
// It implements both Source and Sink.
type TaskData struct {
	Task      TaskInfo
	CreatedAt time.Time
	UpdatedAt time.Time
	DumpedAt  time.Time // If not zero, emitted as meta/dumped
	Anno      Annotations

	frameByPath map[string]int // lazily built by MatchFrame
}

func NewTaskData(task TaskInfo) *TaskData {
	return &TaskData{
		Task: task,
	}
}

func formatMetaTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05.000000+00:00")
}

func (d *TaskData) IsProject() bool {
	return false
}

func (d *TaskData) Tasks() []*TaskInfo {
	return []*TaskInfo{&d.Task}
}

func (d *TaskData) taskMeta() Meta {
	t := &d.Task
	return Meta{
		Int("id", t.ID),
		Text("name", t.Name),
		Int("size", int64(len(t.Frames))),
		Text("mode", t.Mode),
		Int("overlap", int64(t.Overlap)),
		Text("created", formatMetaTime(d.CreatedAt)),
		Text("updated", formatMetaTime(d.UpdatedAt)),
		Text("subset", t.Subset),
		Int("start_frame", int64(t.StartFrame)),
		Int("stop_frame", int64(t.StopFrame)),
		Text("frame_filter", t.FrameFilter()),
		labelsMeta(t.Labels),
	}
}

func (d *TaskData) Meta() Meta {
	m := Meta{Node("task", d.taskMeta()...)}
	if !d.DumpedAt.IsZero() {
		m = append(m, Text("dumped", formatMetaTime(d.DumpedAt)))
	}
	return m
}

func (d *TaskData) Tracks() []Track {
	return d.Anno.Tracks
}

func (d *TaskData) Shapes() []LabeledShape {
	return d.Anno.Shapes
}

func (d *TaskData) Tags() []Tag {
	return d.Anno.Tags
}

// sortedFrames returns the task's frames in ascending frame order
func (d *TaskData) sortedFrames() []FrameInfo {
	frames := append([]FrameInfo(nil), d.Task.Frames...)
	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].Frame < frames[j].Frame
	})
	return frames
}

func (d *TaskData) GroupByFrame() []FrameAnnotation {
	frames := d.sortedFrames()
	result := make([]FrameAnnotation, 0, len(frames))
	index := map[int]int{}
	for _, f := range frames {
		index[f.Frame] = len(result)
		result = append(result, FrameAnnotation{
			Frame:  f.Frame,
			Name:   f.Path,
			Width:  f.Width,
			Height: f.Height,
		})
	}
	for _, s := range d.Anno.Shapes {
		if i, ok := index[s.Frame]; ok {
			result[i].LabeledShapes = append(result[i].LabeledShapes, s)
		}
	}
	for _, track := range d.Anno.Tracks {
		for _, f := range frames {
			if shape, ok := track.ShapeAt(f.Frame); ok {
				result[index[f.Frame]].LabeledShapes = append(result[index[f.Frame]].LabeledShapes, LabeledShape{
					Type:       shape.Type,
					Frame:      f.Frame,
					Label:      track.Label,
					Points:     shape.Points,
					Occluded:   shape.Occluded,
					ZOrder:     shape.ZOrder,
					Group:      track.Group,
					Source:     track.Source,
					Attributes: shape.Attributes,
					TaskID:     track.TaskID,
				})
			}
		}
	}
	for _, tag := range d.Anno.Tags {
		if i, ok := index[tag.Frame]; ok {
			result[i].Tags = append(result[i].Tags, tag)
		}
	}
	return result
}

func (d *TaskData) hasFrame(frame int) bool {
	for _, f := range d.Task.Frames {
		if f.Frame == frame {
			return true
		}
	}
	return false
}

func (d *TaskData) AddShape(shape LabeledShape) error {
	if shape.Source == "" {
		shape.Source = DefaultSource
	}
	d.Anno.Shapes = append(d.Anno.Shapes, shape)
	return nil
}

func (d *TaskData) AddTrack(track Track) error {
	if track.Source == "" {
		track.Source = DefaultSource
	}
	sort.SliceStable(track.Shapes, func(i, j int) bool {
		return track.Shapes[i].Frame < track.Shapes[j].Frame
	})
	d.Anno.Tracks = append(d.Anno.Tracks, track)
	return nil
}

func (d *TaskData) AddTag(tag Tag) error {
	if tag.Source == "" {
		tag.Source = DefaultSource
	}
	d.Anno.Tags = append(d.Anno.Tags, tag)
	return nil
}

// Clear removes all annotations
func (d *TaskData) Clear() {
	d.Anno = Annotations{}
}

// FrameByID returns the frame info for the given frame number
func (d *TaskData) FrameByID(frame int) (FrameInfo, bool) {
	for _, f := range d.Task.Frames {
		if f.Frame == frame {
			return f, true
		}
	}
	return FrameInfo{}, false
}
