// Package annotzip bundles annotation XML and media into zip archives, and reads them back
package annotzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotxml"
	"github.com/cyclopcam/labelstore/pkg/iox"
	"github.com/cyclopcam/logs"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"
)

// AnnotationsFile is the name of the XML document inside an exported archive
const AnnotationsFile = "annotations.xml"

// ImagesDir holds the media of an exported archive
const ImagesDir = "images"

// VideoFrameExt is appended to the frame names of video (interpolation) tasks
const VideoFrameExt = ".PNG"

// FrameSource supplies the original media of a frame, for exports that include images
type FrameSource interface {
	ReadFrame(ctx context.Context, taskID int64, frame int) (io.ReadCloser, error)
}

type ExportOptions struct {
	SaveImages bool
	Frames     FrameSource // Required if SaveImages is true
	Parallel   int         // Maximum number of tasks whose media is written concurrently. Zero means 4.
}

// Export dumps 'src' with 'dump' into annotations.xml, optionally adds the media of every frame,
// and writes the result as a zip archive to 'dst'.
func Export(ctx context.Context, log logs.Log, dst io.Writer, src annotation.Source, dump annotxml.DumpFunc, opts ExportOptions) error {
	if opts.SaveImages && opts.Frames == nil {
		return errors.New("no frame source for exporting images")
	}
	start := time.Now()
	tempDir, err := os.MkdirTemp("", "annotexport-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tempDir)

	if err := writeAnnotations(filepath.Join(tempDir, AnnotationsFile), src, dump); err != nil {
		return err
	}

	if opts.SaveImages {
		if err := writeMedia(ctx, log, filepath.Join(tempDir, ImagesDir), src, opts); err != nil {
			return err
		}
	}

	n, err := zipDir(tempDir, dst)
	if err != nil {
		return err
	}
	log.Infof("Exported %v files (%v) in %.1f seconds", n.files, humanize.Bytes(uint64(n.bytes)), time.Since(start).Seconds())
	return nil
}

// ExportFile is Export to a file. If the export fails, the file is removed.
func ExportFile(ctx context.Context, log logs.Log, filename string, src annotation.Source, dump annotxml.DumpFunc, opts ExportOptions) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	err = Export(ctx, log, f, src, dump, opts)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(filename)
	}
	return err
}

func writeAnnotations(filename string, src annotation.Source, dump annotxml.DumpFunc) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := annotxml.DumpDocument(f, src, dump); err != nil {
		return err
	}
	return f.Close()
}

// Every task writes to its own directory, so tasks can be written in parallel
func writeMedia(ctx context.Context, log logs.Log, imagesDir string, src annotation.Source, opts ExportOptions) error {
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, task := range src.Tasks() {
		dir := imagesDir
		if src.IsProject() {
			dir = filepath.Join(imagesDir, annotation.DefaultedSubset(task.Subset))
		}
		g.Go(func() error {
			return writeTaskMedia(gctx, dir, task, opts.Frames)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Debugf("Wrote media of %v tasks", len(src.Tasks()))
	return nil
}

func writeTaskMedia(ctx context.Context, dir string, task *annotation.TaskInfo, frames FrameSource) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	ext := ""
	if task.Mode == annotation.ModeInterpolation {
		ext = VideoFrameExt
	}
	for _, frame := range task.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst, err := iox.SafeJoin(dir, frame.Path+ext)
		if err != nil {
			return fmt.Errorf("task %v frame %v '%v': %w", task.ID, frame.Frame, frame.Path, err)
		}
		rc, err := frames.ReadFrame(ctx, task.ID, frame.Frame)
		if err != nil {
			return fmt.Errorf("task %v frame %v: %w", task.ID, frame.Frame, err)
		}
		err = iox.WriteStreamToFile(dst, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

type zipStats struct {
	files int
	bytes int64
}

// zipDir writes every file under 'dir' into a zip archive, with slash-separated names relative to 'dir'
func zipDir(dir string, dst io.Writer) (zipStats, error) {
	stats := zipStats{}
	zw := zip.NewWriter(dst)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.Method = zip.Deflate
		if isCompressed(header.Name) {
			header.Method = zip.Store
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(w, f)
		stats.files++
		stats.bytes += n
		return err
	})
	if err != nil {
		zw.Close()
		return stats, err
	}
	return stats, zw.Close()
}

// Images and videos don't get smaller when deflated
func isCompressed(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".mp4", ".webp":
		return true
	}
	return false
}
