package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/server/model"
	"github.com/cyclopcam/labelstore/server/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrFrameNotFound = errors.New("frame not found")
var ErrInvalidFrame = errors.New("invalid frame")

func annotationsFilename(taskID int64) string {
	return fmt.Sprintf("tasks/%v/annotations.json", taskID)
}

func frameFilename(taskID int64, frame int) string {
	return fmt.Sprintf("tasks/%v/frames/%v", taskID, frame)
}

// PutFrame stores the media of one frame, replacing any previous media of that frame.
// If width or height is zero, they are read from the image header.
func (s *TaskServer) PutFrame(taskID int64, frame int, path string, width, height int, content []byte) error {
	if frame < 0 {
		return fmt.Errorf("%w: negative frame number %v", ErrInvalidFrame, frame)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidFrame)
	}
	if width <= 0 || height <= 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(content))
		if err != nil {
			return fmt.Errorf("%w: dimensions were not given, and could not be read from the image: %w", ErrInvalidFrame, err)
		}
		width, height = cfg.Width, cfg.Height
	}

	unlock := s.lockTask(taskID)
	defer unlock()
	task, err := s.GetTask(taskID)
	if err != nil {
		return err
	}
	if err := storage.WriteFile(s.storage, frameFilename(taskID, frame), bytes.NewReader(content)); err != nil {
		return err
	}
	rec := model.Frame{
		TaskID: taskID,
		Frame:  frame,
		Path:   path,
		Width:  width,
		Height: height,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}
		if frame > task.StopFrame {
			return tx.Model(&model.Task{}).Where("id = ?", taskID).Update("stop_frame", frame).Error
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.touchTask(task)
}

// ReadFrame returns the media of a frame
func (s *TaskServer) ReadFrame(ctx context.Context, taskID int64, frame int) (io.ReadCloser, error) {
	f, err := s.storage.ReadFile(frameFilename(taskID, frame))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: task %v frame %v", ErrFrameNotFound, taskID, frame)
	} else if err != nil {
		return nil, err
	}
	return f.Reader, nil
}

func (s *TaskServer) Frames(taskID int64) ([]model.Frame, error) {
	frames := []model.Frame{}
	return frames, s.db.Where("task_id = ?", taskID).Order("frame").Find(&frames).Error
}

func (s *TaskServer) readAnnotations(taskID int64) (annotation.Annotations, error) {
	anno := annotation.Annotations{}
	raw, err := storage.ReadFile(s.storage, annotationsFilename(taskID))
	if errors.Is(err, storage.ErrNotFound) {
		return anno, nil
	} else if err != nil {
		return anno, err
	}
	if err := json.Unmarshal(raw, &anno); err != nil {
		return anno, fmt.Errorf("corrupt annotations of task %v: %w", taskID, err)
	}
	return anno, nil
}

func (s *TaskServer) writeAnnotations(taskID int64, anno *annotation.Annotations) error {
	if anno.IsEmpty() {
		return s.storage.DeleteFile(annotationsFilename(taskID))
	}
	raw, err := json.Marshal(anno)
	if err != nil {
		return err
	}
	return storage.WriteFile(s.storage, annotationsFilename(taskID), bytes.NewReader(raw))
}

// taskInfo builds the codec's view of a task. Tasks in a project use the project's labels.
func (s *TaskServer) taskInfo(t *model.Task, projectLabels []annotation.Label) (annotation.TaskInfo, error) {
	frames, err := s.Frames(t.ID)
	if err != nil {
		return annotation.TaskInfo{}, err
	}
	info := annotation.TaskInfo{
		ID:         t.ID,
		Name:       t.Name,
		Mode:       t.Mode,
		Subset:     t.Subset,
		Overlap:    t.Overlap,
		StartFrame: t.StartFrame,
		StopFrame:  t.StopFrame,
		FrameStep:  t.FrameStep,
		Labels:     model.LabelList(t.Labels),
	}
	if t.ProjectID != 0 {
		info.Labels = projectLabels
	}
	for _, f := range frames {
		info.Frames = append(info.Frames, annotation.FrameInfo{
			Frame:  f.Frame,
			Path:   f.Path,
			Width:  f.Width,
			Height: f.Height,
		})
	}
	return info, nil
}

func (s *TaskServer) loadTaskData(t *model.Task) (*annotation.TaskData, error) {
	var projectLabels []annotation.Label
	if t.ProjectID != 0 {
		p, err := s.GetProject(t.ProjectID)
		if err != nil {
			return nil, err
		}
		projectLabels = model.LabelList(p.Labels)
	}
	return s.loadTaskDataWithLabels(t, projectLabels)
}

func (s *TaskServer) loadTaskDataWithLabels(t *model.Task, projectLabels []annotation.Label) (*annotation.TaskData, error) {
	info, err := s.taskInfo(t, projectLabels)
	if err != nil {
		return nil, err
	}
	anno, err := s.readAnnotations(t.ID)
	if err != nil {
		return nil, err
	}
	td := annotation.NewTaskData(info)
	td.CreatedAt = t.CreatedAt
	td.UpdatedAt = t.UpdatedAt
	td.Anno = anno
	return td, nil
}

// LoadTaskData returns a task, its frames, and its annotations
func (s *TaskServer) LoadTaskData(taskID int64) (*annotation.TaskData, error) {
	t, err := s.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return s.loadTaskData(t)
}

// LoadProjectData returns a project and all of its tasks
func (s *TaskServer) LoadProjectData(projectID int64) (*annotation.ProjectData, error) {
	p, err := s.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.projectTasks(projectID)
	if err != nil {
		return nil, err
	}
	pd := &annotation.ProjectData{
		ID:        p.ID,
		Name:      p.Name,
		Labels:    model.LabelList(p.Labels),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for i := range tasks {
		td, err := s.loadTaskDataWithLabels(&tasks[i], pd.Labels)
		if err != nil {
			return nil, err
		}
		if td.UpdatedAt.After(pd.UpdatedAt) {
			pd.UpdatedAt = td.UpdatedAt
		}
		pd.TaskData = append(pd.TaskData, td)
	}
	return pd, nil
}
