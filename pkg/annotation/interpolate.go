package annotation

// ShapeAt returns the visible state of the track on the given frame.
// Keyframes are returned as-is. Between two keyframes the points are linearly interpolated
// if both keyframes have the same type and number of points, otherwise the earlier keyframe is held.
// After the last keyframe the track stays visible, until an outside keyframe is reached.
// Returns false if the track is not visible on this frame.
func (t *Track) ShapeAt(frame int) (TrackedShape, bool) {
	prev := -1
	for i := range t.Shapes {
		if t.Shapes[i].Frame > frame {
			break
		}
		prev = i
	}
	if prev == -1 {
		return TrackedShape{}, false
	}
	a := t.Shapes[prev]
	if a.Outside {
		return TrackedShape{}, false
	}
	if a.Frame == frame {
		return a, true
	}

	out := a
	out.Frame = frame
	out.Keyframe = false

	if prev+1 < len(t.Shapes) {
		b := t.Shapes[prev+1]
		if !b.Outside && b.Type == a.Type && len(b.Points) == len(a.Points) {
			f := float64(frame-a.Frame) / float64(b.Frame-a.Frame)
			out.Points = make([]float64, len(a.Points))
			for i := range a.Points {
				out.Points[i] = a.Points[i] + (b.Points[i]-a.Points[i])*f
			}
		}
	}
	return out, true
}

// Keyframes returns only the keyframe shapes of the track
func (t *Track) Keyframes() []TrackedShape {
	kf := make([]TrackedShape, 0, len(t.Shapes))
	for _, s := range t.Shapes {
		if s.Keyframe {
			kf = append(kf, s)
		}
	}
	return kf
}
