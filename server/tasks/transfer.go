package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/server/exportcache"
)

// ErrInvalidAnnotations wraps every error raised while parsing an imported file
var ErrInvalidAnnotations = errors.New("invalid annotations")

func taskCacheKey(taskID int64) string {
	return fmt.Sprintf("tasks/%v/", taskID)
}

func projectCacheKey(projectID int64) string {
	return fmt.Sprintf("projects/%v/", projectID)
}

// exportKey is unique for each revision of the exported content
func exportKey(prefix string, updatedAt time.Time, format string, saveImages bool) string {
	images := "noimages"
	if saveImages {
		images = "images"
	}
	return fmt.Sprintf("%v%v/%v/%v", prefix, updatedAt.UnixNano(), url.PathEscape(format), images)
}

type ImportOptions struct {
	Format string // Importer name, eg "CVAT 1.1"
	Append bool   // Keep the existing annotations of the task. By default they are replaced.
}

// ImportAnnotations loads an annotation file (XML or zip) into a task.
// The task's annotations are only changed if the whole file imports successfully.
func (s *TaskServer) ImportAnnotations(ctx context.Context, taskID int64, r io.ReaderAt, size int64, opts ImportOptions) error {
	importer, err := s.registry.Importer(opts.Format)
	if err != nil {
		return err
	}
	unlock := s.lockTask(taskID)
	defer unlock()

	task, err := s.GetTask(taskID)
	if err != nil {
		return err
	}
	td, err := s.loadTaskData(task)
	if err != nil {
		return err
	}
	before := td.Anno
	if !opts.Append {
		td.Clear()
	}
	if err := importer.Import(ctx, s.log, r, size, td); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAnnotations, err)
	}
	if err := s.writeAnnotations(taskID, &td.Anno); err != nil {
		return err
	}
	s.log.Infof("Imported %v into task %v: %v shapes, %v tracks, %v tags (previously %v, %v, %v)", importer.DisplayName(), taskID,
		len(td.Anno.Shapes), len(td.Anno.Tracks), len(td.Anno.Tags),
		len(before.Shapes), len(before.Tracks), len(before.Tags))
	return s.touchTask(task)
}

// DeleteAnnotations removes all annotations of a task
func (s *TaskServer) DeleteAnnotations(taskID int64) error {
	unlock := s.lockTask(taskID)
	defer unlock()
	task, err := s.GetTask(taskID)
	if err != nil {
		return err
	}
	if err := s.writeAnnotations(taskID, &annotation.Annotations{}); err != nil {
		return err
	}
	s.log.Infof("Deleted annotations of task %v", taskID)
	return s.touchTask(task)
}

func (s *TaskServer) export(ctx context.Context, key string, src annotation.Source, format string, saveImages bool) (*exportcache.CacheItemReader, error) {
	exporter, err := s.registry.Exporter(format)
	if err != nil {
		return nil, err
	}
	return s.cache.Open(key, func(dst io.Writer) error {
		opts := annotzip.ExportOptions{
			SaveImages: saveImages,
			Frames:     s,
		}
		return exporter.Export(ctx, s.log, dst, src, opts)
	})
}

// ExportTask returns a zip archive of the task's annotations, and optionally its media.
// The caller must close the returned reader.
func (s *TaskServer) ExportTask(ctx context.Context, taskID int64, format string, saveImages bool) (*exportcache.CacheItemReader, error) {
	td, err := s.LoadTaskData(taskID)
	if err != nil {
		return nil, err
	}
	td.DumpedAt = time.Now().UTC()
	key := exportKey(taskCacheKey(taskID), td.UpdatedAt, format, saveImages)
	return s.export(ctx, key, td, format, saveImages)
}

// ExportProject returns a zip archive of the annotations of all of the project's tasks
func (s *TaskServer) ExportProject(ctx context.Context, projectID int64, format string, saveImages bool) (*exportcache.CacheItemReader, error) {
	pd, err := s.LoadProjectData(projectID)
	if err != nil {
		return nil, err
	}
	pd.DumpedAt = time.Now().UTC()
	key := exportKey(projectCacheKey(projectID), pd.UpdatedAt, format, saveImages)
	return s.export(ctx, key, pd, format, saveImages)
}
