package tasks

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/pkg/iox"
	"github.com/cyclopcam/labelstore/pkg/taskapi"
	"github.com/cyclopcam/labelstore/server/auth"
	"github.com/cyclopcam/labelstore/server/exportcache"
	"github.com/cyclopcam/labelstore/server/model"
	"github.com/cyclopcam/www"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Default formats, when the 'format' query parameter is absent
const (
	DefaultExportFormat = "CVAT for images 1.1"
	DefaultImportFormat = "CVAT 1.1"
)

// checkNotFound turns lookup failures into a 404, and other errors into a 500
func checkNotFound(err error) {
	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrProjectNotFound) || errors.Is(err, ErrFrameNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
}

// checkRequest turns errors caused by bad input into a 400
func checkRequest(err error) {
	if errors.Is(err, annotzip.ErrUnknownFormat) || errors.Is(err, ErrInvalidAnnotations) || errors.Is(err, ErrInvalidFrame) {
		www.PanicBadRequestf("%v", err)
	}
	checkNotFound(err)
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	if id <= 0 {
		www.PanicBadRequestf("Invalid ID '%v'", s)
	}
	return id
}

func (s *TaskServer) getTaskOrPanic(id string, cred *auth.Credentials) *model.Task {
	t, err := s.GetTask(parseID(id))
	checkNotFound(err)
	if !cred.IsAdmin && t.CreatedBy != cred.UserID {
		www.PanicForbiddenf("You are not allowed to access this task")
	}
	return t
}

func (s *TaskServer) getProjectOrPanic(id string, cred *auth.Credentials) *model.Project {
	p, err := s.GetProject(parseID(id))
	checkNotFound(err)
	if !cred.IsAdmin && p.CreatedBy != cred.UserID {
		www.PanicForbiddenf("You are not allowed to access this project")
	}
	return p
}

func formatParam(r *http.Request, dflt string) string {
	if f := www.QueryValue(r, "format"); f != "" {
		return f
	}
	return dflt
}

func summarize(t *model.Task, size int) taskapi.TaskSummary {
	return taskapi.TaskSummary{
		ID:        t.ID,
		Name:      t.Name,
		Mode:      t.Mode,
		Subset:    t.Subset,
		Size:      size,
		ProjectID: t.ProjectID,
	}
}

func (s *TaskServer) HttpCreateProject(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	req := CreateProjectRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	p, err := s.CreateProject(cred.UserID, req)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, p)
}

func (s *TaskServer) HttpCreateTask(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	req := CreateTaskRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if req.ProjectID != 0 {
		s.getProjectOrPanic(strconv.FormatInt(req.ProjectID, 10), cred)
	}
	t, err := s.CreateTask(cred.UserID, req)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, summarize(t, 0))
}

func (s *TaskServer) HttpListTasks(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	createdBy := cred.UserID
	if cred.IsAdmin {
		createdBy = 0
	}
	tasks, err := s.FindTasks(www.QueryValue(r, "name"), createdBy)
	www.Check(err)
	list := taskapi.TaskList{
		Count:   len(tasks),
		Results: []taskapi.TaskSummary{},
	}
	for i := range tasks {
		frames, err := s.Frames(tasks[i].ID)
		www.Check(err)
		list.Results = append(list.Results, summarize(&tasks[i], len(frames)))
	}
	www.SendJSON(w, &list)
}

func (s *TaskServer) HttpDataMeta(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	t := s.getTaskOrPanic(params.ByName("id"), cred)
	td, err := s.loadTaskData(t)
	checkNotFound(err)
	meta := taskapi.DataMeta{
		StartFrame:  td.Task.StartFrame,
		StopFrame:   td.Task.StopFrame,
		FrameFilter: td.Task.FrameFilter(),
		Frames:      []taskapi.FrameMeta{},
	}
	for _, f := range td.Task.Frames {
		meta.Frames = append(meta.Frames, taskapi.FrameMeta{Name: f.Path, Width: f.Width, Height: f.Height})
	}
	www.SendJSON(w, &meta)
}

func (s *TaskServer) HttpPutFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	t := s.getTaskOrPanic(params.ByName("id"), cred)
	frame, err := strconv.Atoi(params.ByName("frame"))
	if err != nil {
		www.PanicBadRequestf("Invalid frame number '%v'", params.ByName("frame"))
	}
	if r.ContentLength > s.maxUploadSize {
		www.PanicBadRequestf("Request body is too large: %v. Maximum size: %v", r.ContentLength, s.maxUploadSize)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxUploadSize+1))
	www.Check(err)
	if int64(len(body)) > s.maxUploadSize {
		www.PanicBadRequestf("Request body is too large. Maximum size: %v", s.maxUploadSize)
	}
	name := www.RequiredQueryValue(r, "name")
	checkRequest(s.PutFrame(t.ID, frame, name, www.QueryInt(r, "width"), www.QueryInt(r, "height"), body))
	www.SendOK(w)
}

func (s *TaskServer) HttpGetFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	t := s.getTaskOrPanic(params.ByName("id"), cred)
	frame, err := strconv.Atoi(params.ByName("frame"))
	if err != nil {
		www.PanicBadRequestf("Invalid frame number '%v'", params.ByName("frame"))
	}
	rc, err := s.ReadFrame(r.Context(), t.ID, frame)
	checkNotFound(err)
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

// The body is an annotation XML document, or a zip archive containing one or more of them
func (s *TaskServer) HttpImportAnnotations(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	t := s.getTaskOrPanic(params.ByName("id"), cred)
	if r.ContentLength > s.maxUploadSize {
		www.PanicBadRequestf("Request body is too large: %v. Maximum size: %v", r.ContentLength, s.maxUploadSize)
	}
	tempFile := filepath.Join(os.TempDir(), "labelstore-import-"+uuid.NewString())
	defer os.Remove(tempFile)
	www.Check(iox.WriteStreamToFile(tempFile, io.LimitReader(r.Body, s.maxUploadSize+1)))
	f, err := os.Open(tempFile)
	www.Check(err)
	defer f.Close()
	st, err := f.Stat()
	www.Check(err)
	if st.Size() > s.maxUploadSize {
		www.PanicBadRequestf("Request body is too large. Maximum size: %v", s.maxUploadSize)
	}
	opts := ImportOptions{
		Format: formatParam(r, DefaultImportFormat),
		Append: www.QueryValue(r, "append") == "1",
	}
	checkRequest(s.ImportAnnotations(r.Context(), t.ID, f, st.Size(), opts))
	www.SendOK(w)
}

func (s *TaskServer) HttpDeleteAnnotations(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	t := s.getTaskOrPanic(params.ByName("id"), cred)
	checkNotFound(s.DeleteAnnotations(t.ID))
	www.SendOK(w)
}

func sendArchive(w http.ResponseWriter, r *http.Request, filename string, archive *exportcache.CacheItemReader) {
	defer archive.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%v"`, filename))
	http.ServeContent(w, r, filename, archive.CreatedAt(), archive)
}

func (s *TaskServer) HttpExportAnnotations(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	t := s.getTaskOrPanic(params.ByName("id"), cred)
	archive, err := s.ExportTask(r.Context(), t.ID, formatParam(r, DefaultExportFormat), www.QueryValue(r, "images") == "1")
	checkRequest(err)
	sendArchive(w, r, fmt.Sprintf("task_%v.zip", t.ID), archive)
}

func (s *TaskServer) HttpExportProject(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	p := s.getProjectOrPanic(params.ByName("id"), cred)
	archive, err := s.ExportProject(r.Context(), p.ID, formatParam(r, DefaultExportFormat), www.QueryValue(r, "images") == "1")
	checkRequest(err)
	sendArchive(w, r, fmt.Sprintf("project_%v.zip", p.ID), archive)
}

// SYNC-LABELSTORE-FORMATS
type FormatsJSON struct {
	Exporters []annotzip.Format `json:"exporters"`
	Importers []annotzip.Format `json:"importers"`
}

func (s *TaskServer) HttpFormats(w http.ResponseWriter, r *http.Request, params httprouter.Params, cred *auth.Credentials) {
	www.SendJSON(w, &FormatsJSON{
		Exporters: s.registry.Exporters(),
		Importers: s.registry.Importers(),
	})
}
