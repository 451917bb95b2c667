package tasks

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/server/exportcache"
	"github.com/cyclopcam/labelstore/server/model"
	"github.com/cyclopcam/labelstore/server/storage"
	"github.com/cyclopcam/logs"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

const testDoc = `<?xml version="1.0" encoding="utf-8"?>
<annotations>
  <version>1.1</version>
  <image id="0" name="img_0.jpg" width="4" height="3">
    <box label="car" occluded="0" xtl="0.00" ytl="0.00" xbr="1.00" ybr="1.00" z_order="0">
      <attribute name="color">red</attribute>
    </box>
  </image>
  <image id="1" name="img_1.png" width="4" height="3">
    <polygon label="person" occluded="1" points="0.00,0.00;1.00,0.00;1.00,1.00" z_order="0">
    </polygon>
    <tag label="night" source="auto">
    </tag>
  </image>
</annotations>
`

func createTestServer(t *testing.T) *TaskServer {
	log := logs.NewTestingLog(t)
	dir := t.TempDir()
	db, err := model.OpenDB(log, dbh.MakeSqliteConfig(filepath.Join(dir, "labelstore.sqlite")), 0)
	require.NoError(t, err)
	store, err := storage.NewStorageFS(log, filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	cache, err := exportcache.NewExportCache(log, filepath.Join(dir, "cache"), 1024*1024)
	require.NoError(t, err)
	return NewTaskServer(log, db, store, cache, annotzip.NewDefaultRegistry(), 1024*1024)
}

func pngBytes(t *testing.T, width, height int) []byte {
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

var testLabels = []annotation.Label{
	{Name: "car", Color: "#ff0000", Attributes: []annotation.AttributeSpec{{Name: "color", Mutable: true, InputType: "text"}}},
	{Name: "person", Color: "#00ff00"},
	{Name: "night", Color: "#0000ff"},
}

func createTestTask(t *testing.T, s *TaskServer, name string, projectID int64) *model.Task {
	task, err := s.CreateTask(1, CreateTaskRequest{Name: name, Labels: testLabels, ProjectID: projectID, Subset: "train"})
	require.NoError(t, err)
	require.NoError(t, s.PutFrame(task.ID, 0, "img_0.jpg", 4, 3, []byte("not really a jpeg")))
	// Dimensions are read from the PNG header
	require.NoError(t, s.PutFrame(task.ID, 1, "img_1.png", 0, 0, pngBytes(t, 4, 3)))
	return task
}

func importDoc(s *TaskServer, taskID int64, doc string, opts ImportOptions) error {
	if opts.Format == "" {
		opts.Format = DefaultImportFormat
	}
	return s.ImportAnnotations(context.Background(), taskID, strings.NewReader(doc), int64(len(doc)), opts)
}

func readArchive(t *testing.T, r *exportcache.CacheItemReader) []byte {
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return b
}

func zipContent(t *testing.T, b []byte) map[string]string {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(content)
	}
	return files
}

func TestCreateTask(t *testing.T) {
	s := createTestServer(t)
	_, err := s.CreateTask(1, CreateTaskRequest{Name: ""})
	require.Error(t, err)
	_, err = s.CreateTask(1, CreateTaskRequest{Name: "x", Mode: "bogus"})
	require.Error(t, err)
	_, err = s.CreateTask(1, CreateTaskRequest{Name: "x", Labels: []annotation.Label{{Name: "a"}, {Name: "a"}}})
	require.Error(t, err)
	_, err = s.CreateTask(1, CreateTaskRequest{Name: "x", ProjectID: 99})
	require.ErrorIs(t, err, ErrProjectNotFound)

	task := createTestTask(t, s, "alpha", 0)
	require.Equal(t, annotation.ModeAnnotation, task.Mode)
	createTestTask(t, s, "beta", 0)
	_, err = s.CreateTask(2, CreateTaskRequest{Name: "alpha"})
	require.NoError(t, err)

	found, err := s.FindTasks("alpha", 0)
	require.NoError(t, err)
	require.Equal(t, 2, len(found))
	found, err = s.FindTasks("alpha", 1)
	require.NoError(t, err)
	require.Equal(t, 1, len(found))
	require.Equal(t, task.ID, found[0].ID)

	td, err := s.LoadTaskData(task.ID)
	require.NoError(t, err)
	require.Equal(t, 1, td.Task.StopFrame)
	require.Equal(t, []annotation.FrameInfo{
		{Frame: 0, Path: "img_0.jpg", Width: 4, Height: 3},
		{Frame: 1, Path: "img_1.png", Width: 4, Height: 3},
	}, td.Task.Frames)
	require.Equal(t, testLabels, td.Task.Labels)

	_, err = s.LoadTaskData(12345)
	require.ErrorIs(t, err, ErrTaskNotFound)

	require.ErrorIs(t, s.PutFrame(task.ID, 2, "img_2.jpg", 0, 0, []byte("garbage")), ErrInvalidFrame)
	require.ErrorIs(t, s.PutFrame(task.ID, -1, "img_2.jpg", 1, 1, nil), ErrInvalidFrame)

	rc, err := s.ReadFrame(context.Background(), task.ID, 0)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	require.Equal(t, "not really a jpeg", string(b))
	_, err = s.ReadFrame(context.Background(), task.ID, 7)
	require.ErrorIs(t, err, ErrFrameNotFound)
}

func TestImportExport(t *testing.T) {
	s := createTestServer(t)
	task := createTestTask(t, s, "alpha", 0)

	require.NoError(t, importDoc(s, task.ID, testDoc, ImportOptions{}))
	td, err := s.LoadTaskData(task.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(td.Anno.Shapes))
	require.Equal(t, 1, len(td.Anno.Tags))
	require.Equal(t, annotation.Rectangle, td.Anno.Shapes[0].Type)
	require.Equal(t, []annotation.Attribute{{Name: "color", Value: "red"}}, td.Anno.Shapes[0].Attributes)
	require.Equal(t, 1, td.Anno.Shapes[1].Frame)
	require.True(t, td.Anno.Shapes[1].Occluded)
	require.Equal(t, "auto", td.Anno.Tags[0].Source)

	// Importing again replaces, unless we append
	require.NoError(t, importDoc(s, task.ID, testDoc, ImportOptions{}))
	td, _ = s.LoadTaskData(task.ID)
	require.Equal(t, 2, len(td.Anno.Shapes))
	require.NoError(t, importDoc(s, task.ID, testDoc, ImportOptions{Append: true}))
	td, _ = s.LoadTaskData(task.ID)
	require.Equal(t, 4, len(td.Anno.Shapes))
	require.NoError(t, importDoc(s, task.ID, testDoc, ImportOptions{}))
	td, _ = s.LoadTaskData(task.ID)

	archive, err := s.ExportTask(context.Background(), task.ID, "CVAT for images 1.1", false)
	require.NoError(t, err)
	files := zipContent(t, readArchive(t, archive))
	require.Equal(t, 1, len(files))
	xml := files[annotzip.AnnotationsFile]
	require.Contains(t, xml, `<image id="0" name="img_0.jpg" width="4" height="3">`)
	require.Contains(t, xml, `<box label="car" occluded="0" source="manual" xtl="0.00" ytl="0.00" xbr="1.00" ybr="1.00" z_order="0">`)
	require.Contains(t, xml, `<tag label="night" source="auto">`)
	require.Contains(t, xml, "<name>alpha</name>")

	// The exported document imports into a fresh task, with the same result
	task2 := createTestTask(t, s, "gamma", 0)
	require.NoError(t, importDoc(s, task2.ID, xml, ImportOptions{}))
	td2, err := s.LoadTaskData(task2.ID)
	require.NoError(t, err)
	require.Equal(t, td.Anno, td2.Anno)

	archive, err = s.ExportTask(context.Background(), task.ID, "cvat for video 1.1", true)
	require.NoError(t, err)
	files = zipContent(t, readArchive(t, archive))
	require.Equal(t, "not really a jpeg", files["images/img_0.jpg"])
	require.Contains(t, files, "images/img_1.png")
	require.Contains(t, files[annotzip.AnnotationsFile], `<track id="0" label="car" source="manual">`)

	_, err = s.ExportTask(context.Background(), task.ID, "PASCAL VOC 1.1", false)
	require.ErrorIs(t, err, annotzip.ErrUnknownFormat)
}

func TestFailedImportKeepsAnnotations(t *testing.T) {
	s := createTestServer(t)
	task := createTestTask(t, s, "alpha", 0)
	require.NoError(t, importDoc(s, task.ID, testDoc, ImportOptions{}))

	bad := strings.Replace(testDoc, `id="1" name="img_1.png"`, `id="99" name="unknown.png"`, 1)
	err := importDoc(s, task.ID, bad, ImportOptions{})
	require.ErrorIs(t, err, ErrInvalidAnnotations)
	require.ErrorIs(t, err, annotation.ErrUnresolvedFrameReference)

	err = importDoc(s, task.ID, "<annotations><image", ImportOptions{})
	require.ErrorIs(t, err, ErrInvalidAnnotations)

	// Bodies that are not annotation documents at all
	for _, doc := range []string{"", "this is not xml", `{"shapes": []}`, "<annotations></annotations><annotations></annotations>"} {
		err = importDoc(s, task.ID, doc, ImportOptions{})
		require.ErrorIs(t, err, ErrInvalidAnnotations, "%q", doc)
		td, err := s.LoadTaskData(task.ID)
		require.NoError(t, err)
		require.Equal(t, 2, len(td.Anno.Shapes), "%q", doc)
	}

	err = importDoc(s, task.ID, testDoc, ImportOptions{Format: "YOLO 1.1"})
	require.ErrorIs(t, err, annotzip.ErrUnknownFormat)

	td, err := s.LoadTaskData(task.ID)
	require.NoError(t, err)
	require.Equal(t, 2, len(td.Anno.Shapes))

	require.NoError(t, s.DeleteAnnotations(task.ID))
	td, err = s.LoadTaskData(task.ID)
	require.NoError(t, err)
	require.True(t, td.Anno.IsEmpty())
}

func TestExportCacheInvalidation(t *testing.T) {
	s := createTestServer(t)
	task := createTestTask(t, s, "alpha", 0)

	first := readArchive(t, mustExport(t, s, task.ID))
	require.NotContains(t, zipContent(t, first)[annotzip.AnnotationsFile], "<box")

	require.NoError(t, importDoc(s, task.ID, testDoc, ImportOptions{}))
	second := readArchive(t, mustExport(t, s, task.ID))
	require.Contains(t, zipContent(t, second)[annotzip.AnnotationsFile], "<box")

	// Unchanged task, so the cached archive is served
	third := readArchive(t, mustExport(t, s, task.ID))
	require.Equal(t, second, third)
}

func mustExport(t *testing.T, s *TaskServer, taskID int64) *exportcache.CacheItemReader {
	r, err := s.ExportTask(context.Background(), taskID, DefaultExportFormat, false)
	require.NoError(t, err)
	return r
}

func TestProjectExport(t *testing.T) {
	s := createTestServer(t)
	p, err := s.CreateProject(1, CreateProjectRequest{Name: "proj", Labels: testLabels})
	require.NoError(t, err)
	t1 := createTestTask(t, s, "one", p.ID)
	t2, err := s.CreateTask(1, CreateTaskRequest{Name: "two", ProjectID: p.ID, Labels: []annotation.Label{{Name: "ignored"}}})
	require.NoError(t, err)
	require.NoError(t, s.PutFrame(t2.ID, 0, "other.jpg", 8, 8, []byte("other")))
	require.NoError(t, importDoc(s, t1.ID, testDoc, ImportOptions{}))

	td, err := s.LoadTaskData(t2.ID)
	require.NoError(t, err)
	require.Equal(t, testLabels, td.Task.Labels)

	archive, err := s.ExportProject(context.Background(), p.ID, DefaultExportFormat, true)
	require.NoError(t, err)
	files := zipContent(t, readArchive(t, archive))
	require.Contains(t, files, "images/train/img_0.jpg")
	require.Equal(t, "other", files["images/default/other.jpg"])
	xml := files[annotzip.AnnotationsFile]
	require.Contains(t, xml, "<project>")
	require.Contains(t, xml, `<image id="0" name="img_0.jpg" subset="train" task_id="`)
	require.NotContains(t, xml, "ignored")

	_, err = s.ExportProject(context.Background(), 999, DefaultExportFormat, false)
	require.ErrorIs(t, err, ErrProjectNotFound)
}
