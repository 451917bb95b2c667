package annotation

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

func trimExt(p string) string {
	return strings.TrimSuffix(p, path.Ext(p))
}

func (d *TaskData) buildFrameIndex() {
	d.frameByPath = map[string]int{}
	add := func(key string, frame int) {
		if _, exists := d.frameByPath[key]; !exists {
			d.frameByPath[key] = frame
		}
	}
	// Full paths take priority over the shortened forms, so they are added first
	for _, f := range d.Task.Frames {
		add(f.Path, f.Frame)
	}
	for _, f := range d.Task.Frames {
		add(trimExt(f.Path), f.Frame)
	}
	for _, f := range d.Task.Frames {
		base := path.Base(f.Path)
		add(base, f.Frame)
		add(trimExt(base), f.Frame)
	}
}

// MatchFrame resolves an <image name=".." id=".."> pair to a frame of this task.
// We try, in order: the path, the path without its extension, the base name with
// and without extension, the id as a frame number, and finally (for video tasks)
// a name of the form frame_000123.
func (d *TaskData) MatchFrame(name, id string) (int, error) {
	if d.frameByPath == nil {
		d.buildFrameIndex()
	}
	name = strings.ReplaceAll(name, "\\", "/")
	candidates := []string{name, trimExt(name), path.Base(name), trimExt(path.Base(name))}
	for _, c := range candidates {
		if frame, ok := d.frameByPath[c]; ok {
			return frame, nil
		}
	}
	if id != "" {
		if frame, err := strconv.Atoi(id); err == nil && d.hasFrame(frame) {
			return frame, nil
		}
	}
	if d.Task.Mode == ModeInterpolation {
		base := trimExt(path.Base(name))
		if strings.HasPrefix(base, "frame_") {
			if frame, err := strconv.Atoi(base[len("frame_"):]); err == nil && d.hasFrame(frame) {
				return frame, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: could not match item '%v' (id %v) with any task frame", ErrUnresolvedFrameReference, name, id)
}
