package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/labelstore/pkg/annotzip"
	"github.com/cyclopcam/labelstore/pkg/taskapi"
	"github.com/cyclopcam/logs"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

const adminPassword = "admin-password"

const testAnnotations = `<?xml version="1.0" encoding="utf-8"?>
<annotations>
  <version>1.1</version>
  <image id="0" name="img_0.png" width="8" height="6">
    <box label="car" occluded="0" xtl="1.00" ytl="1.00" xbr="5.00" ybr="4.00" z_order="0">
    </box>
  </image>
</annotations>
`

func createTestServer(t *testing.T) *httptest.Server {
	dir := t.TempDir()
	cfg := &Config{
		DB: dbh.MakeSqliteConfig(filepath.Join(dir, "labelstore.sqlite")),
		Storage: StorageConfig{
			Filesystem: &StorageConfigFS{Root: filepath.Join(dir, "blobs")},
		},
		ExportCache:   filepath.Join(dir, "cache"),
		AdminPassword: adminPassword,
	}
	s, err := NewServer(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown()
	})
	return ts
}

func pngBytes(t *testing.T, width, height int) []byte {
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

// call makes an API request, and returns the status code and response body
func call(t *testing.T, ts *httptest.Server, key, method, path string, body []byte) (int, []byte) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+taskapi.APIPrefix+path, reader)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Token "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func unzip(t *testing.T, b []byte) map[string]string {
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		files[f.Name] = string(content)
	}
	return files
}

func login(t *testing.T, ts *httptest.Server, username, password string) *taskapi.Client {
	c := taskapi.NewClient(ts.URL)
	require.NoError(t, c.Login(username, "", password))
	return c
}

func TestAuth(t *testing.T) {
	ts := createTestServer(t)

	code, _ := call(t, ts, "", "GET", "/ping", nil)
	require.Equal(t, 200, code)
	code, _ = call(t, ts, "", "GET", "/tasks", nil)
	require.Equal(t, 401, code)
	code, _ = call(t, ts, "bogus", "GET", "/tasks", nil)
	require.Equal(t, 401, code)

	c := taskapi.NewClient(ts.URL)
	require.Error(t, c.Login("admin", "", "wrong-password"))
	admin := login(t, ts, "admin", adminPassword)

	// Create a regular user
	code, _ = call(t, ts, admin.Key(), "POST", "/auth/users", []byte(`{"username":"bob","password":"bob-password"}`))
	require.Equal(t, 200, code)
	code, _ = call(t, ts, admin.Key(), "POST", "/auth/users", []byte(`{"username":"bob","password":"bob-password"}`))
	require.Equal(t, 400, code)
	code, body := call(t, ts, admin.Key(), "GET", "/auth/users", nil)
	require.Equal(t, 200, code)
	users := []userJSON{}
	require.NoError(t, json.Unmarshal(body, &users))
	require.Equal(t, 2, len(users))
	require.True(t, users[0].IsAdmin)
	require.Equal(t, "bob", users[1].Username)

	bob := login(t, ts, "bob", "bob-password")
	code, _ = call(t, ts, bob.Key(), "GET", "/auth/users", nil)
	require.Equal(t, 403, code)
	code, body = call(t, ts, bob.Key(), "GET", "/auth/check", nil)
	require.Equal(t, 200, code)
	require.Contains(t, string(body), `"isAdmin":false`)

	// Bob may not change the admin's password, but he may change his own
	code, _ = call(t, ts, bob.Key(), "POST", fmt.Sprintf("/auth/setPassword/%v?password=new-password", users[0].ID), nil)
	require.Equal(t, 403, code)
	code, _ = call(t, ts, bob.Key(), "POST", fmt.Sprintf("/auth/setPassword/%v?password=short", users[1].ID), nil)
	require.Equal(t, 400, code)
	code, _ = call(t, ts, bob.Key(), "POST", fmt.Sprintf("/auth/setPassword/%v?password=new-password", users[1].ID), nil)
	require.Equal(t, 200, code)
	require.Error(t, c.Login("bob", "", "bob-password"))
	bob2 := login(t, ts, "bob", "new-password")

	code, _ = call(t, ts, bob2.Key(), "POST", "/auth/logout", nil)
	require.Equal(t, 200, code)
	code, _ = call(t, ts, bob2.Key(), "GET", "/auth/check", nil)
	require.Equal(t, 401, code)
	// The session that changed the password survives
	code, _ = call(t, ts, bob.Key(), "GET", "/auth/check", nil)
	require.Equal(t, 200, code)
}

func TestTaskLifecycle(t *testing.T) {
	ts := createTestServer(t)
	admin := login(t, ts, "admin", adminPassword)
	key := admin.Key()

	code, body := call(t, ts, key, "POST", "/tasks", []byte(`{"name":"street","labels":[{"name":"car","color":"#ff0000"}]}`))
	require.Equal(t, 200, code, string(body))
	created := taskapi.TaskSummary{}
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, "annotation", created.Mode)

	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/frames/0?name=%v", created.ID, "frames/img_0.png"), pngBytes(t, 8, 6))
	require.Equal(t, 200, code)
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/frames/1?name=img_1.png", created.ID), pngBytes(t, 8, 6))
	require.Equal(t, 200, code)
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/frames/2?name=img_2.png", created.ID), []byte("not an image"))
	require.Equal(t, 400, code)
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/frames/2", created.ID), pngBytes(t, 8, 6))
	require.Equal(t, 400, code)

	task, err := admin.FindTask("street")
	require.NoError(t, err)
	require.Equal(t, created.ID, task.ID)
	require.Equal(t, 2, task.Size)
	names, err := admin.FrameNames(task.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"img_0", "img_1"}, names)

	code, body = call(t, ts, key, "GET", fmt.Sprintf("/tasks/%v/frames/1", task.ID), nil)
	require.Equal(t, 200, code)
	require.Equal(t, pngBytes(t, 8, 6), body)
	code, _ = call(t, ts, key, "GET", fmt.Sprintf("/tasks/%v/frames/5", task.ID), nil)
	require.Equal(t, 404, code)
	code, _ = call(t, ts, key, "GET", "/tasks/9999/data/meta", nil)
	require.Equal(t, 404, code)

	// Import
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/annotations", task.ID), []byte(testAnnotations))
	require.Equal(t, 200, code)
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/annotations", task.ID), []byte("<annotations><image"))
	require.Equal(t, 400, code)
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/annotations", task.ID), []byte("this is not xml"))
	require.Equal(t, 400, code)
	code, _ = call(t, ts, key, "PUT", fmt.Sprintf("/tasks/%v/annotations?format=bogus", task.ID), []byte(testAnnotations))
	require.Equal(t, 400, code)

	// Export
	code, body = call(t, ts, key, "GET", fmt.Sprintf("/tasks/%v/annotations?images=1", task.ID), nil)
	require.Equal(t, 200, code)
	files := unzip(t, body)
	require.Contains(t, files[annotzip.AnnotationsFile], `<box label="car" occluded="0" source="manual" xtl="1.00" ytl="1.00" xbr="5.00" ybr="4.00" z_order="0">`)
	require.Contains(t, files, "images/frames/img_0.png")

	// Another user cannot see the task
	code, _ = call(t, ts, key, "POST", "/auth/users", []byte(`{"username":"bob","password":"bob-password"}`))
	require.Equal(t, 200, code)
	bob := login(t, ts, "bob", "bob-password")
	_, err = bob.FindTask("street")
	require.ErrorIs(t, err, taskapi.ErrNoTask)
	code, _ = call(t, ts, bob.Key(), "GET", fmt.Sprintf("/tasks/%v/data/meta", task.ID), nil)
	require.Equal(t, 403, code)

	// Delete
	code, _ = call(t, ts, key, "DELETE", fmt.Sprintf("/tasks/%v/annotations", task.ID), nil)
	require.Equal(t, 200, code)
	code, body = call(t, ts, key, "GET", fmt.Sprintf("/tasks/%v/annotations", task.ID), nil)
	require.Equal(t, 200, code)
	require.NotContains(t, unzip(t, body)[annotzip.AnnotationsFile], "<box")

	code, body = call(t, ts, key, "GET", "/formats", nil)
	require.Equal(t, 200, code)
	require.Contains(t, string(body), `"name":"CVAT for video"`)
}
