package annotation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func videoTask() TaskInfo {
	frames := []FrameInfo{}
	for i := 0; i < 6; i++ {
		frames = append(frames, FrameInfo{Frame: i, Path: fmt.Sprintf("frame_%06d.PNG", i), Width: 100, Height: 50})
	}
	return TaskInfo{
		ID:        3,
		Name:      "video",
		Mode:      ModeInterpolation,
		StopFrame: 5,
		FrameStep: 1,
		Frames:    frames,
	}
}

func TestShapeAt(t *testing.T) {
	track := Track{
		Label: "car",
		Shapes: []TrackedShape{
			{Type: Rectangle, Frame: 1, Points: []float64{0, 0, 10, 10}, Keyframe: true},
			{Type: Rectangle, Frame: 3, Points: []float64{10, 0, 20, 10}, Keyframe: true, ZOrder: 1},
			{Type: Rectangle, Frame: 5, Points: []float64{10, 0, 20, 10}, Keyframe: true, Outside: true},
		},
	}
	_, ok := track.ShapeAt(0)
	require.False(t, ok)

	s, ok := track.ShapeAt(1)
	require.True(t, ok)
	require.True(t, s.Keyframe)
	require.Equal(t, []float64{0, 0, 10, 10}, s.Points)

	s, ok = track.ShapeAt(2)
	require.True(t, ok)
	require.False(t, s.Keyframe)
	require.Equal(t, 2, s.Frame)
	require.Equal(t, []float64{5, 0, 15, 10}, s.Points)

	// After frame 3, the next keyframe is outside, so we hold the shape
	s, ok = track.ShapeAt(4)
	require.True(t, ok)
	require.Equal(t, []float64{10, 0, 20, 10}, s.Points)
	require.Equal(t, 1, s.ZOrder)

	_, ok = track.ShapeAt(5)
	require.False(t, ok)
	_, ok = track.ShapeAt(100)
	require.False(t, ok)

	require.Equal(t, 3, len(track.Keyframes()))
}

func TestShapeAtTypeChange(t *testing.T) {
	track := Track{
		Shapes: []TrackedShape{
			{Type: Polygon, Frame: 0, Points: []float64{0, 0, 1, 0, 1, 1}, Keyframe: true},
			{Type: Polygon, Frame: 4, Points: []float64{0, 0, 1, 0, 1, 1, 0, 1}, Keyframe: true},
		},
	}
	s, ok := track.ShapeAt(2)
	require.True(t, ok)
	require.Equal(t, []float64{0, 0, 1, 0, 1, 1}, s.Points)

	// Visible forever after the last keyframe
	s, ok = track.ShapeAt(1000)
	require.True(t, ok)
	require.Equal(t, 8, len(s.Points))
}

func TestMatchFrame(t *testing.T) {
	task := TaskInfo{
		Mode: ModeAnnotation,
		Frames: []FrameInfo{
			{Frame: 0, Path: "a/cat.jpg"},
			{Frame: 1, Path: "b/cat.jpg"},
			{Frame: 2, Path: "b/dog.png"},
			{Frame: 7, Path: "fish.jpeg"},
		},
	}
	d := NewTaskData(task)
	match := func(name, id string) int {
		frame, err := d.MatchFrame(name, id)
		require.NoError(t, err)
		return frame
	}
	require.Equal(t, 1, match("b/cat.jpg", ""))
	require.Equal(t, 1, match("b/cat", ""))
	require.Equal(t, 1, match(`b\cat.jpg`, ""))
	// Ambiguous base names go to the first frame
	require.Equal(t, 0, match("cat.jpg", ""))
	require.Equal(t, 0, match("x/y/cat.png", ""))
	require.Equal(t, 2, match("dog", ""))
	require.Equal(t, 7, match("unknown.jpg", "7"))
	_, err := d.MatchFrame("unknown.jpg", "5")
	require.ErrorIs(t, err, ErrUnresolvedFrameReference)
	_, err = d.MatchFrame("frame_000002.PNG", "")
	require.True(t, errors.Is(err, ErrUnresolvedFrameReference))

	v := NewTaskData(videoTask())
	frame, err := v.MatchFrame("frame_000004.PNG", "")
	require.NoError(t, err)
	require.Equal(t, 4, frame)
	frame, err = v.MatchFrame("images/frame_000003.jpg", "")
	require.NoError(t, err)
	require.Equal(t, 3, frame)

	// Frames of a video are named by number
	v = NewTaskData(TaskInfo{Mode: ModeInterpolation, Frames: []FrameInfo{{Frame: 4, Path: "video.mp4"}}})
	frame, err = v.MatchFrame("frame_000004.jpg", "")
	require.NoError(t, err)
	require.Equal(t, 4, frame)
	_, err = v.MatchFrame("frame_000005.jpg", "")
	require.ErrorIs(t, err, ErrUnresolvedFrameReference)
}

func TestGroupByFrame(t *testing.T) {
	d := NewTaskData(videoTask())
	d.AddShape(LabeledShape{Type: Points, Frame: 2, Label: "a", Points: []float64{1, 1}})
	d.AddTrack(Track{Label: "b", Group: 4, Shapes: []TrackedShape{
		{Type: Points, Frame: 3, Points: []float64{0, 0}, Keyframe: true, Outside: true},
		{Type: Points, Frame: 1, Points: []float64{0, 0}, Keyframe: true},
	}})
	d.AddTag(Tag{Frame: 2, Label: "night"})

	frames := d.GroupByFrame()
	require.Equal(t, 6, len(frames))
	for i, f := range frames {
		require.Equal(t, i, f.Frame)
		require.Equal(t, 100, f.Width)
	}
	require.Equal(t, 0, len(frames[0].LabeledShapes))
	require.Equal(t, 1, len(frames[1].LabeledShapes))
	require.Equal(t, "b", frames[1].LabeledShapes[0].Label)
	require.Equal(t, 4, frames[1].LabeledShapes[0].Group)
	require.Equal(t, 2, len(frames[2].LabeledShapes))
	require.Equal(t, "a", frames[2].LabeledShapes[0].Label)
	require.Equal(t, "b", frames[2].LabeledShapes[1].Label)
	require.Equal(t, 0, len(frames[3].LabeledShapes))
	require.Equal(t, 1, len(frames[2].Tags))
	require.Equal(t, DefaultSource, frames[2].Tags[0].Source)
}

func TestTaskMeta(t *testing.T) {
	task := videoTask()
	task.FrameStep = 2
	task.Labels = []Label{{Name: "car", Color: "#112233", Attributes: []AttributeSpec{
		{Name: "kind", Mutable: true, InputType: "select", DefaultValue: "sedan", Values: []string{"sedan", "bakkie"}},
	}}}
	d := NewTaskData(task)
	d.CreatedAt = time.Date(2021, 3, 4, 5, 6, 7, 8000, time.UTC)
	d.DumpedAt = d.CreatedAt

	m := d.Meta()
	require.Equal(t, 2, len(m))
	e, ok := m.Lookup("task", "size")
	require.True(t, ok)
	require.Equal(t, "6", e.Value)
	e, _ = m.Lookup("task", "frame_filter")
	require.Equal(t, "step=2", e.Value)
	e, _ = m.Lookup("task", "created")
	require.Equal(t, "2021-03-04 05:06:07.000008+00:00", e.Value)
	e, _ = m.Lookup("task", "updated")
	require.Equal(t, "", e.Value)
	e, _ = m.Lookup("task", "labels", "label", "attributes", "attribute", "values")
	require.Equal(t, "sedan\nbakkie", e.Value)
	e, _ = m.Lookup("task", "labels", "label", "attributes", "attribute", "mutable")
	require.Equal(t, "True", e.Value)
	_, ok = m.Lookup("task", "nothing")
	require.False(t, ok)
	require.Equal(t, "dumped", m[1].Key)

	require.True(t, Node("empty").IsNode())
	require.False(t, Text("k", "").IsNode())
}

func TestProject(t *testing.T) {
	a := NewTaskData(TaskInfo{ID: 1, Subset: "train", Frames: []FrameInfo{{Frame: 0, Path: "x.jpg"}}})
	b := NewTaskData(TaskInfo{ID: 2, Frames: []FrameInfo{{Frame: 0, Path: "y.jpg"}, {Frame: 1, Path: "z.jpg"}}})
	a.AddShape(LabeledShape{Type: Points, Frame: 0, Points: []float64{1, 1}})
	b.AddTrack(Track{Label: "t", Shapes: []TrackedShape{{Type: Points, Frame: 1, Points: []float64{1, 1}, Keyframe: true}}})
	p := &ProjectData{ID: 5, Name: "proj", TaskData: []*TaskData{a, b}}

	require.True(t, p.IsProject())
	require.Equal(t, 2, len(p.Tasks()))
	require.Equal(t, int64(2), FindTask(p, 2).ID)
	require.Nil(t, FindTask(p, 3))

	frames := p.GroupByFrame()
	require.Equal(t, 3, len(frames))
	require.Equal(t, "train", frames[0].Subset)
	require.Equal(t, int64(1), frames[0].TaskID)
	require.Equal(t, DefaultSubset, frames[1].Subset)
	require.Equal(t, int64(2), frames[2].TaskID)

	require.Equal(t, int64(1), p.Shapes()[0].TaskID)
	require.Equal(t, int64(2), p.Tracks()[0].TaskID)
	// The per-task data is not modified
	require.Equal(t, int64(0), b.Anno.Tracks[0].TaskID)

	tasks, ok := p.Meta().Lookup("project", "tasks")
	require.True(t, ok)
	require.Equal(t, 2, len(tasks.Children))
}
